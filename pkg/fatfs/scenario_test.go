package fatfs

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/vfs"
)

// newVolume formats and mounts a small FAT16 volume backed by memory, big
// enough for every scenario below but small enough to keep them fast.
func newVolume(t *testing.T) *Volume {
	t.Helper()
	dev := blockdev.NewMemory(512, 8192)
	_, err := Format(dev, FormatOptions{Variant: FAT16, Label: "SCENARIO"})
	require.NoError(t, err)
	v, err := Mount(dev, false)
	require.NoError(t, err)
	return v
}

func newAdapter(t *testing.T) vfs.FileSystem {
	t.Helper()
	dev := blockdev.NewMemory(512, 8192)
	_, err := Format(dev, FormatOptions{Variant: FAT16, Label: "SCENARIO"})
	require.NoError(t, err)
	d := NewDriver()
	fs, err := d(dev, "")
	require.NoError(t, err)
	return fs
}

// Formatting then mounting succeeds and exposes a root directory.
func TestFormatAndMount(t *testing.T) {
	v := newVolume(t)
	defer v.Unmount()

	root, err := v.Root()
	require.NoError(t, err)
	defer v.Put(root)
	assert.Equal(t, KindDirectory, root.Kind())
	assert.Equal(t, FAT16, v.Boot().Variant)
}

// Creating, writing, and reading a file back through the adapter round-trips.
func TestCreateWriteReadRoundTrip(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "hello.txt", vfs.KindFile)
	require.NoError(t, err)

	n, size, err := fs.Write(ctx, idx, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, uint64(11), size)

	buf := make([]byte, 32)
	got, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:got]))
}

// A write that starts past EOF zero-fills the gap.
func TestSparseWriteZeroFillsGap(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "sparse.bin", vfs.KindFile)
	require.NoError(t, err)

	_, size, err := fs.Write(ctx, idx, 4096, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4097), size)

	buf := make([]byte, 4096)
	got, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 4096, got)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}
}

// A name too long for 8.3 gets an LFN plus a synthesized "~1" short
// name, and the long name resolves back to the same object.
func TestLongFileNameSynthesizesShortName(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	long := "a very long file name that needs lfn.txt"
	idx, err := fs.Link(ctx, 0, long, vfs.KindFile)
	require.NoError(t, err)

	gotIdx, info, err := fs.Lookup(ctx, 0, long)
	require.NoError(t, err)
	assert.Equal(t, idx, gotIdx)
	assert.Equal(t, vfs.KindFile, info.Kind)
}

// Two long names that collide on their first six significant characters
// synthesize distinct "~1"/"~2" short names rather than colliding.
func TestLongFileNameCollisionGetsDistinctShortNames(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	a, err := fs.Link(ctx, 0, "document one.txt", vfs.KindFile)
	require.NoError(t, err)
	b, err := fs.Link(ctx, 0, "document two.txt", vfs.KindFile)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	gotA, _, err := fs.Lookup(ctx, 0, "document one.txt")
	require.NoError(t, err)
	assert.Equal(t, a, gotA)
	gotB, _, err := fs.Lookup(ctx, 0, "document two.txt")
	require.NoError(t, err)
	assert.Equal(t, b, gotB)
}

// Rename across two different directories preserves the moved file's
// stable index and updates its containing directory.
func TestRenameAcrossDirectoriesPreservesIndex(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	dirA, err := fs.Link(ctx, 0, "a", vfs.KindDirectory)
	require.NoError(t, err)
	dirB, err := fs.Link(ctx, 0, "b", vfs.KindDirectory)
	require.NoError(t, err)

	fileIdx, err := fs.Link(ctx, dirA, "f.txt", vfs.KindFile)
	require.NoError(t, err)
	_, _, err = fs.Write(ctx, fileIdx, 0, []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, dirA, "f.txt", dirB, "g.txt"))

	_, _, err = fs.Lookup(ctx, dirA, "f.txt")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotFound))

	gotIdx, _, err := fs.Lookup(ctx, dirB, "g.txt")
	require.NoError(t, err)
	assert.Equal(t, fileIdx, gotIdx)

	buf := make([]byte, 16)
	got, err := fs.Read(ctx, gotIdx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:got]))
}

// Renaming a directory across parents rewrites its ".." entry so a
// subsequent walk back up still lands on the new parent. The ".." entry
// is its own directory slot and so gets its own index; looking the moved
// name up again through it shows it names the new parent's contents.
func TestRenameDirectoryRewritesDotDot(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	dirA, err := fs.Link(ctx, 0, "a", vfs.KindDirectory)
	require.NoError(t, err)
	dirB, err := fs.Link(ctx, 0, "b", vfs.KindDirectory)
	require.NoError(t, err)
	childIdx, err := fs.Link(ctx, dirA, "child", vfs.KindDirectory)
	require.NoError(t, err)

	require.NoError(t, fs.Rename(ctx, dirA, "child", dirB, "moved"))

	gotIdx, _, err := fs.Lookup(ctx, dirB, "moved")
	require.NoError(t, err)
	assert.Equal(t, childIdx, gotIdx)

	dotdotIdx, _, err := fs.Lookup(ctx, gotIdx, "..")
	require.NoError(t, err)
	viaDotDot, _, err := fs.Lookup(ctx, dotdotIdx, "moved")
	require.NoError(t, err)
	assert.Equal(t, childIdx, viaDotDot)
}

// Rename refuses to clobber an existing destination name.
func TestRenameRefusesExistingDestination(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	_, err := fs.Link(ctx, 0, "src.txt", vfs.KindFile)
	require.NoError(t, err)
	_, err = fs.Link(ctx, 0, "dst.txt", vfs.KindFile)
	require.NoError(t, err)

	err = fs.Rename(ctx, 0, "src.txt", 0, "dst.txt")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrAlreadyExists))
}

// A node released before unmount does not block it.
func TestUnmountAfterRelease(t *testing.T) {
	v := newVolume(t)

	root, err := v.Root()
	require.NoError(t, err)
	require.NoError(t, v.Put(root))
	require.NoError(t, v.Unmount())
}

// Unlink refuses a non-empty directory and succeeds once it is empty.
func TestUnlinkRequiresEmptyDirectory(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	dirIdx, err := fs.Link(ctx, 0, "d", vfs.KindDirectory)
	require.NoError(t, err)
	_, err = fs.Link(ctx, dirIdx, "child.txt", vfs.KindFile)
	require.NoError(t, err)

	err = fs.Unlink(ctx, 0, "d")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotEmpty))

	require.NoError(t, fs.Unlink(ctx, dirIdx, "child.txt"))
	require.NoError(t, fs.Unlink(ctx, 0, "d"))
}

// Truncate grows with zero-fill and shrinks dropping the tail.
func TestTruncateGrowAndShrink(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "t.bin", vfs.KindFile)
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
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, buf[:n])
}

// A write spanning many clusters survives a full read back, exercising
// the FAT chain-walking path rather than just the first cluster.
func TestMultiClusterWriteReadRoundTrip(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	idx, err := fs.Link(ctx, 0, "big.bin", vfs.KindFile)
	require.NoError(t, err)

	payload := strings.Repeat("0123456789abcdef", 1024) // 16KiB, several clusters
	_, size, err := fs.Write(ctx, idx, 0, []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, uint64(len(payload)), size)

	buf := make([]byte, len(payload))
	got, err := fs.Read(ctx, idx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, string(buf[:got]))
}

func TestStatfsReportsFreeBlocks(t *testing.T) {
	fs := newAdapter(t)
	ctx := context.Background()

	before, err := fs.Statfs(ctx)
	require.NoError(t, err)
	require.Greater(t, before.FreeBlocks, uint64(0))

	idx, err := fs.Link(ctx, 0, "big.bin", vfs.KindFile)
	require.NoError(t, err)
	_, _, err = fs.Write(ctx, idx, 0, []byte(strings.Repeat("x", 16384)))
	require.NoError(t, err)

	after, err := fs.Statfs(ctx)
	require.NoError(t, err)
	assert.Less(t, after.FreeBlocks, before.FreeBlocks)
}

// Allocating every cluster a small volume actually has, then one more,
// exhausts cleanly at the volume's real capacity: no cluster number
// wanders into the padding between ClusterCount and the variant's
// theoretical ceiling, and the final over-allocation returns no-space
// with every FAT copy left consistent.
func TestAllocClustersExhaustsAtRealCapacityWithoutCorruption(t *testing.T) {
	dev := blockdev.NewMemory(512, 200)
	boot, err := Format(dev, FormatOptions{Label: "FULLTEST"})
	require.NoError(t, err)
	require.Equal(t, FAT12, boot.Variant)

	v, err := Mount(dev, false)
	require.NoError(t, err)
	defer v.Unmount()

	capacity := int(v.boot.ClusterCount())
	require.Greater(t, capacity, 0)

	allocated, err := v.AllocClusters(capacity)
	require.NoError(t, err)
	require.Len(t, allocated, capacity)
	for _, c := range allocated {
		assert.LessOrEqual(t, c, v.boot.ClusterCount()+1, "allocated cluster %d exceeds the volume's real capacity", c)
	}

	_, err = v.AllocClusters(1)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNoSpace))

	assertFATCopiesIdentical(t, v)
}

// assertFATCopiesIdentical reads every allocatable cluster's entry from
// every FAT copy and fails if any two copies disagree, catching the
// spillover corruption a wrong cluster bound would otherwise hide.
func assertFATCopiesIdentical(t *testing.T, v *Volume) {
	t.Helper()
	for c := uint32(2); c <= v.boot.ClusterCount()+1; c++ {
		want, err := v.GetCluster(0, c)
		require.NoError(t, err)
		for fi := 1; fi < int(v.boot.FATCount); fi++ {
			got, err := v.GetCluster(fi, c)
			require.NoError(t, err)
			assert.Equal(t, want, got, "FAT copy %d diverges from copy 0 at cluster %d", fi, c)
		}
	}
}
