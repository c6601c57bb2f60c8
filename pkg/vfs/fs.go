package vfs

import (
	"context"

	"github.com/marmos91/vfskit/pkg/blockdev"
)

// FileSystem is the Go stand-in for libfs.c's per-server vtable: one
// value implements one already-mounted instance (one call to a Driver's
// Mount), addressing its objects by the stable index the server itself
// assigns. There is no serviceID parameter the way the original IPC
// vtable carries one, because here each mounted instance is its own Go
// value rather than a shared process multiplexing several volumes.
type FileSystem interface {
	// Root returns the mounted instance's root object.
	Root() (index uint64, info NodeInfo)

	// Lookup resolves name within the directory parentIndex, taking a
	// reference on the result that the caller must release with Put.
	Lookup(ctx context.Context, parentIndex uint64, name string) (childIndex uint64, info NodeInfo, err error)

	// Link creates a new, empty object of the given kind named name
	// inside parentIndex, taking a reference on it.
	Link(ctx context.Context, parentIndex uint64, name string, kind Kind) (childIndex uint64, err error)

	// Unlink removes the directory entry named name from parentIndex.
	// The backing object is only destroyed once its last reference (via
	// Put) drops with no remaining link.
	Unlink(ctx context.Context, parentIndex uint64, name string) error

	// Rename moves the entry oldName under oldParentIndex to newName
	// under newParentIndex, preserving the moved object's stable index.
	// Both parents belong to this same FileSystem instance; the VFS core
	// never calls this across filesystem instances. Fails with
	// ErrAlreadyExists if newName already exists.
	Rename(ctx context.Context, oldParentIndex uint64, oldName string, newParentIndex uint64, newName string) error

	// Read copies up to len(buf) bytes starting at pos into buf.
	Read(ctx context.Context, index uint64, pos uint64, buf []byte) (n int, err error)

	// Write copies buf into the object at pos, growing it (and, per the
	// gap-fill rule, zeroing any hole) as needed, and returns the
	// object's resulting size.
	Write(ctx context.Context, index uint64, pos uint64, buf []byte) (n int, newSize uint64, err error)

	// Truncate sets the object's size exactly, zero-filling any growth.
	Truncate(ctx context.Context, index uint64, size uint64) error

	// Stat reports an object's current kind and size.
	Stat(ctx context.Context, index uint64) (NodeInfo, error)

	// Statfs reports volume-wide occupancy.
	Statfs(ctx context.Context) (FSStat, error)

	// HasChildren reports whether a directory has any entry besides "."
	// and "..".
	HasChildren(ctx context.Context, index uint64) (bool, error)

	// Put releases one reference taken by Lookup or Link.
	Put(index uint64) error

	// Sync flushes any buffered state for index to the backing device.
	Sync(index uint64) error

	// Unmount flushes and releases the instance. No further calls are
	// made to it afterwards.
	Unmount() error
}

// DirEntry is one named child a directory listing reports.
type DirEntry struct {
	Name string
	Kind Kind
}

// DirReader is an optional capability a FileSystem may implement to list
// a directory's contents without walking the namespace one name at a
// time. Not every filesystem need implement it; callers that want a
// listing type-assert for it the way vfsctl's ls does.
type DirReader interface {
	ReadDir(ctx context.Context, index uint64) ([]DirEntry, error)
}

// Driver constructs a FileSystem instance bound to dev, given the raw
// option string a mount operation was issued with (e.g. "wtcache" for
// fatfs's write-through cache mode). It is the Go analogue of the IPC
// "mounted" vtable entry, since unlike every other operation there is no
// existing instance to dispatch it to yet. dev is nil for filesystems
// that are not device-backed (tmpfs).
type Driver func(dev blockdev.Device, opts string) (FileSystem, error)
