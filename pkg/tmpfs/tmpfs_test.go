package tmpfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/vfs"
)

func newFS(t *testing.T) vfs.FileSystem {
	t.Helper()
	fs, err := NewDriver()(nil, "")
	require.NoError(t, err)
	return fs
}

func TestRootIsEmptyDirectory(t *testing.T) {
	fs := newFS(t)
	idx, info := fs.Root()
	assert.Equal(t, uint64(0), idx)
	assert.Equal(t, vfs.KindDirectory, info.Kind)

	has, err := fs.HasChildren(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLinkWriteReadRoundTrip(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "hello.txt", vfs.KindFile)
	require.NoError(t, err)

	n, newSize, err := fs.Write(ctx, idx, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, uint64(11), newSize)

	buf := make([]byte, 16)
	got, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 11, got)
	assert.Equal(t, "hello world", string(buf[:got]))
}

func TestSparseWriteZeroFillsGap(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "sparse", vfs.KindFile)
	require.NoError(t, err)

	n, newSize, err := fs.Write(ctx, idx, 8192, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(8193), newSize)

	buf := make([]byte, 8192)
	got, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 8192, got)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

func TestTruncateGrowAndShrink(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "f", vfs.KindFile)
	require.NoError(t, err)
	_, _, err = fs.Write(ctx, idx, 0, []byte("abcdef"))
	require.NoError(t, err)

	require.NoError(t, fs.Truncate(ctx, idx, 3))
	info, err := fs.Stat(ctx, idx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Size)

	require.NoError(t, fs.Truncate(ctx, idx, 5))
	buf := make([]byte, 5)
	n, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, buf)
}

func TestUnlinkRequiresEmptyDirectory(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	dirIdx, err := fs.Link(ctx, 0, "d", vfs.KindDirectory)
	require.NoError(t, err)
	_, err = fs.Link(ctx, dirIdx, "child", vfs.KindFile)
	require.NoError(t, err)

	err = fs.Unlink(ctx, 0, "d")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotEmpty))

	require.NoError(t, fs.Unlink(ctx, dirIdx, "child"))
	require.NoError(t, fs.Unlink(ctx, 0, "d"))
}

func TestLinkRejectsDuplicateName(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	_, err := fs.Link(ctx, 0, "dup", vfs.KindFile)
	require.NoError(t, err)
	_, err = fs.Link(ctx, 0, "dup", vfs.KindFile)
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrAlreadyExists))
}

func TestRenamePreservesIndex(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	aIdx, err := fs.Link(ctx, 0, "a", vfs.KindDirectory)
	require.NoError(t, err)
	bIdx, err := fs.Link(ctx, 0, "b", vfs.KindDirectory)
	require.NoError(t, err)
	fIdx, err := fs.Link(ctx, aIdx, "f", vfs.KindFile)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, aIdx, "f", bIdx, "g"))

	_, _, err = fs.Lookup(ctx, aIdx, "f")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotFound))

	gotIdx, _, err := fs.Lookup(ctx, bIdx, "g")
	require.NoError(t, err)
	assert.Equal(t, fIdx, gotIdx)
}

func TestRenameRefusesExistingDestination(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	_, err := fs.Link(ctx, 0, "src", vfs.KindFile)
	require.NoError(t, err)
	_, err = fs.Link(ctx, 0, "dst", vfs.KindFile)
	require.NoError(t, err)

	err = fs.Rename(ctx, 0, "src", 0, "dst")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrAlreadyExists))
}
