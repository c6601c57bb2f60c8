package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/fatfs"
	"github.com/marmos91/vfskit/pkg/tmpfs"
	"github.com/marmos91/vfskit/pkg/vfs"
)

func newVFSOverTmpfs(t *testing.T) *vfs.VFS {
	t.Helper()
	v := vfs.New(vfs.DefaultPLBSize)
	v.RegisterDriver("tmpfs", tmpfs.NewDriver(), true)
	require.NoError(t, v.Mount("/", "tmpfs", "tmpfs0", nil, ""))
	return v
}

func newVFSOverFAT(t *testing.T) (*vfs.VFS, blockdev.Device) {
	t.Helper()
	dev := blockdev.NewMemory(512, 8192)
	_, err := fatfs.Format(dev, fatfs.FormatOptions{Variant: fatfs.FAT16, Label: "ROOTFS"})
	require.NoError(t, err)

	v := vfs.New(vfs.DefaultPLBSize)
	v.RegisterDriver("fat", fatfs.NewDriver(), false)
	require.NoError(t, v.Mount("/", "fat", "disk0", dev, ""))
	return v, dev
}

// Mounting a fresh FAT root exposes an empty, readable root directory.
func TestMountFATRoot(t *testing.T) {
	v, _ := newVFSOverFAT(t)
	defer v.Unmount("/")

	root, err := v.Lookup("/", 0)
	require.NoError(t, err)
	defer v.Put(root)
	assert.Equal(t, vfs.KindDirectory, root.Kind())

	entries, err := v.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A file created, written, and read back through the dispatcher
// round-trips across separate Lookup calls, exercising path resolution
// rather than a cached node pointer.
func TestCreateWriteReadRoundTripThroughVFS(t *testing.T) {
	v := newVFSOverTmpfs(t)
	defer v.Unmount("/")

	n, err := v.Link("/", "hello.txt", vfs.KindFile)
	require.NoError(t, err)
	got, err := v.Write(n, 0, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, got)
	require.NoError(t, v.Put(n))

	n2, err := v.Lookup("/hello.txt", vfs.FlagFile)
	require.NoError(t, err)
	defer v.Put(n2)
	buf := make([]byte, 32)
	got, err = v.Read(n2, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:got]))
}

// Grafting a second filesystem at a directory makes paths below that
// point resolve into the mounted instance, and unmounting restores the
// original (empty) directory.
func TestMountGraftsSecondFilesystem(t *testing.T) {
	v := newVFSOverTmpfs(t)
	defer v.Unmount("/")

	mp, err := v.Link("/", "mnt", vfs.KindDirectory)
	require.NoError(t, err)
	require.NoError(t, v.Put(mp))

	dev := blockdev.NewMemory(512, 8192)
	_, err = fatfs.Format(dev, fatfs.FormatOptions{Variant: fatfs.FAT16, Label: "GRAFTED"})
	require.NoError(t, err)
	v.RegisterDriver("fat", fatfs.NewDriver(), false)
	require.NoError(t, v.Mount("/mnt", "fat", "disk0", dev, ""))

	n, err := v.Link("/mnt/under-fat.txt", "", vfs.KindFile)
	require.Error(t, err) // malformed path: empty final name after the mount point
	_ = n

	grafted, err := v.Link("/mnt", "under-fat.txt", vfs.KindFile)
	require.NoError(t, err)
	assert.Equal(t, "fat", grafted.Triplet().FSHandle)
	require.NoError(t, v.Put(grafted))

	require.NoError(t, v.Unlink("/mnt", "under-fat.txt"))
	require.NoError(t, v.Unmount("/mnt"))

	root, err := v.Lookup("/mnt", vfs.FlagDirectory)
	require.NoError(t, err)
	defer v.Put(root)
	assert.Equal(t, "tmpfs", root.Triplet().FSHandle)
}

// Rename across two directories within the same filesystem preserves
// the moved node's stable triplet index.
func TestRenamePreservesTripletIndex(t *testing.T) {
	v := newVFSOverTmpfs(t)
	defer v.Unmount("/")

	a, err := v.Link("/", "a", vfs.KindDirectory)
	require.NoError(t, err)
	require.NoError(t, v.Put(a))
	b, err := v.Link("/", "b", vfs.KindDirectory)
	require.NoError(t, err)
	require.NoError(t, v.Put(b))

	f, err := v.Link("/a", "f.txt", vfs.KindFile)
	require.NoError(t, err)
	beforeIndex := f.Triplet().Index
	require.NoError(t, v.Put(f))

	require.NoError(t, v.Rename("/a/f.txt", "/b/g.txt"))

	_, err = v.Lookup("/a/f.txt", 0)
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotFound))

	moved, err := v.Lookup("/b/g.txt", 0)
	require.NoError(t, err)
	defer v.Put(moved)
	assert.Equal(t, beforeIndex, moved.Triplet().Index)
}

// Rename refuses when the destination is a descendant of the source.
func TestRenameRefusesPathPrefix(t *testing.T) {
	v := newVFSOverTmpfs(t)
	defer v.Unmount("/")

	a, err := v.Link("/", "a", vfs.KindDirectory)
	require.NoError(t, err)
	require.NoError(t, v.Put(a))

	err = v.Rename("/a", "/a/child")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrBadArgument))
}

// mount ; unmount ; mount leaves the namespace equivalent to a single
// mount: the same path resolves to a fresh, empty root every time.
func TestMountUnmountMountIsIdempotent(t *testing.T) {
	v := vfs.New(vfs.DefaultPLBSize)
	v.RegisterDriver("tmpfs", tmpfs.NewDriver(), true)

	require.NoError(t, v.Mount("/", "tmpfs", "tmpfs0", nil, ""))
	n, err := v.Link("/", "f", vfs.KindFile)
	require.NoError(t, err)
	require.NoError(t, v.Put(n))
	require.NoError(t, v.Unmount("/"))

	require.NoError(t, v.Mount("/", "tmpfs", "tmpfs1", nil, ""))
	defer v.Unmount("/")

	root, err := v.Lookup("/", vfs.FlagDirectory)
	require.NoError(t, err)
	defer v.Put(root)
	entries, err := v.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// Unmount refuses while a reference on the mounted root is still
// outstanding, and succeeds once it is released.
func TestUnmountRefusesWhileBusy(t *testing.T) {
	v := newVFSOverTmpfs(t)

	root, err := v.Lookup("/", 0)
	require.NoError(t, err)

	err = v.Unmount("/")
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrBusy))

	require.NoError(t, v.Put(root))
	require.NoError(t, v.Unmount("/"))
}

// Statfs on a FAT root reports a falling free-block count as data is
// written.
func TestStatfsOnFATRoot(t *testing.T) {
	v, _ := newVFSOverFAT(t)
	defer v.Unmount("/")

	root, err := v.Lookup("/", 0)
	require.NoError(t, err)
	defer v.Put(root)

	before, err := v.Statfs(root)
	require.NoError(t, err)
	require.Greater(t, before.FreeBlocks, uint64(0))

	f, err := v.Link("/", "big.bin", vfs.KindFile)
	require.NoError(t, err)
	payload := make([]byte, 16384)
	_, err = v.Write(f, 0, payload)
	require.NoError(t, err)
	require.NoError(t, v.Put(f))

	after, err := v.Statfs(root)
	require.NoError(t, err)
	assert.Less(t, after.FreeBlocks, before.FreeBlocks)
}

// Every outstanding reference (Lookup plus the original Link) can be
// released, after which the name can be unlinked and no longer resolves.
func TestNodeReleasedOnceUnreferenced(t *testing.T) {
	v := newVFSOverTmpfs(t)
	defer v.Unmount("/")

	n, err := v.Link("/", "f.txt", vfs.KindFile)
	require.NoError(t, err)

	n2, err := v.Lookup("/f.txt", vfs.FlagFile)
	require.NoError(t, err)

	require.NoError(t, v.Put(n))
	require.NoError(t, v.Put(n2))

	require.NoError(t, v.Unlink("/", "f.txt"))
	_, err = v.Lookup("/f.txt", 0)
	require.Error(t, err)
	assert.True(t, vfs.IsKind(err, vfs.ErrNotFound))
}
