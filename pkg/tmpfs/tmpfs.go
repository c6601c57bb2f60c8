// Package tmpfs implements an in-memory filesystem with the same
// vfs.FileSystem contract as pkg/fatfs: a reference server used both as
// a bootstrap root filesystem and as an integration-test oracle, since
// its semantics are obviously correct where FAT's on-disk encoding
// makes them harder to eyeball.
package tmpfs

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/vfs"
)

// dirent is one (name, child) pair in a directory's contents, which
// are held in a slice (not a linked list) and matched linearly on
// lookup/unlink.
type dirent struct {
	name  string
	child *node
}

// node is one tmpfs object: a file's contents are a flat byte slice
// swapped atomically on write (so a concurrent read never blocks on or
// observes a torn write), a directory's contents are its dirent list,
// guarded by mu like every other piece of the node's mutable state.
type node struct {
	index uint64
	kind  vfs.Kind

	mu       sync.Mutex
	children []dirent
	refcnt   int
	lnkcnt   int

	data atomic.Pointer[[]byte]
}

// FS is one mounted tmpfs instance.
type FS struct {
	mu    sync.Mutex
	next  uint64
	nodes map[uint64]*node
}

// NewDriver returns a vfs.Driver that mounts a fresh, empty tmpfs
// instance. dev and opts are accepted for interface symmetry with
// device-backed filesystems but ignored: tmpfs has no backing device
// and no mount options.
func NewDriver() vfs.Driver {
	return func(_ blockdev.Device, _ string) (vfs.FileSystem, error) {
		fs := &FS{nodes: make(map[uint64]*node)}
		root := &node{index: 0, kind: vfs.KindDirectory, refcnt: 1, lnkcnt: 1}
		fs.nodes[0] = root
		fs.next = 1
		return fs, nil
	}
}

func (fs *FS) get(index uint64) (*node, error) {
	fs.mu.Lock()
	n, ok := fs.nodes[index]
	fs.mu.Unlock()
	if !ok {
		return nil, newError(vfs.ErrNotFound, "index %d does not exist", index)
	}
	return n, nil
}

func (n *node) info() vfs.NodeInfo {
	size := uint64(0)
	if p := n.data.Load(); p != nil {
		size = uint64(len(*p))
	}
	return vfs.NodeInfo{Kind: n.kind, Size: size}
}

func (fs *FS) Root() (uint64, vfs.NodeInfo) {
	n, _ := fs.get(0)
	return 0, n.info()
}

func (fs *FS) Lookup(_ context.Context, parentIndex uint64, name string) (uint64, vfs.NodeInfo, error) {
	parent, err := fs.get(parentIndex)
	if err != nil {
		return 0, vfs.NodeInfo{}, err
	}
	if parent.kind != vfs.KindDirectory {
		return 0, vfs.NodeInfo{}, newError(vfs.ErrNotDirectory, "index %d is not a directory", parentIndex)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	for _, d := range parent.children {
		if d.name == name {
			d.child.mu.Lock()
			d.child.refcnt++
			info := d.child.info()
			d.child.mu.Unlock()
			return d.child.index, info, nil
		}
	}
	return 0, vfs.NodeInfo{}, newPathError(vfs.ErrNotFound, name, "no such entry")
}

func (fs *FS) Link(_ context.Context, parentIndex uint64, name string, kind vfs.Kind) (uint64, error) {
	parent, err := fs.get(parentIndex)
	if err != nil {
		return 0, err
	}
	if parent.kind != vfs.KindDirectory {
		return 0, newError(vfs.ErrNotDirectory, "index %d is not a directory", parentIndex)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	for _, d := range parent.children {
		if d.name == name {
			return 0, newPathError(vfs.ErrAlreadyExists, name, "entry already exists")
		}
	}

	fs.mu.Lock()
	idx := fs.next
	fs.next++
	fs.mu.Unlock()

	child := &node{index: idx, kind: kind, refcnt: 1, lnkcnt: 1}
	fs.mu.Lock()
	fs.nodes[idx] = child
	fs.mu.Unlock()

	parent.children = append(parent.children, dirent{name: name, child: child})
	return idx, nil
}

func (fs *FS) Unlink(_ context.Context, parentIndex uint64, name string) error {
	parent, err := fs.get(parentIndex)
	if err != nil {
		return err
	}

	parent.mu.Lock()
	pos := -1
	for i, d := range parent.children {
		if d.name == name {
			pos = i
			break
		}
	}
	if pos < 0 {
		parent.mu.Unlock()
		return newPathError(vfs.ErrNotFound, name, "no such entry")
	}
	child := parent.children[pos].child

	child.mu.Lock()
	if child.kind == vfs.KindDirectory && len(child.children) > 0 {
		child.mu.Unlock()
		parent.mu.Unlock()
		return newPathError(vfs.ErrNotEmpty, name, "directory is not empty")
	}
	child.lnkcnt--
	destroy := child.lnkcnt == 0 && child.refcnt == 0
	child.mu.Unlock()

	parent.children = append(parent.children[:pos], parent.children[pos+1:]...)
	parent.mu.Unlock()

	if destroy {
		fs.mu.Lock()
		delete(fs.nodes, child.index)
		fs.mu.Unlock()
	}
	return nil
}

// Rename moves the entry oldName under oldParentIndex to newName under
// newParentIndex. tmpfs nodes are just Go pointers keyed by a stable
// index that was never tied to a directory slot, so rename only ever
// touches the two dirent lists — the moved node itself, and its index,
// are untouched.
func (fs *FS) Rename(_ context.Context, oldParentIndex uint64, oldName string, newParentIndex uint64, newName string) error {
	oldParent, err := fs.get(oldParentIndex)
	if err != nil {
		return err
	}
	newParent, err := fs.get(newParentIndex)
	if err != nil {
		return err
	}
	if oldParent.kind != vfs.KindDirectory || newParent.kind != vfs.KindDirectory {
		return newError(vfs.ErrNotDirectory, "rename parent is not a directory")
	}

	if oldParent == newParent {
		oldParent.mu.Lock()
		defer oldParent.mu.Unlock()
		pos := -1
		for i, d := range oldParent.children {
			if d.name == newName {
				return newPathError(vfs.ErrAlreadyExists, newName, "entry already exists")
			}
			if d.name == oldName {
				pos = i
			}
		}
		if pos < 0 {
			return newPathError(vfs.ErrNotFound, oldName, "no such entry")
		}
		oldParent.children[pos].name = newName
		return nil
	}

	// Lock in a fixed order (by index) to avoid deadlocking against a
	// concurrent rename the other way between the same two directories.
	first, second := oldParent, newParent
	if second.index < first.index {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	for _, d := range newParent.children {
		if d.name == newName {
			return newPathError(vfs.ErrAlreadyExists, newName, "entry already exists")
		}
	}
	pos := -1
	for i, d := range oldParent.children {
		if d.name == oldName {
			pos = i
			break
		}
	}
	if pos < 0 {
		return newPathError(vfs.ErrNotFound, oldName, "no such entry")
	}
	child := oldParent.children[pos].child
	oldParent.children = append(oldParent.children[:pos], oldParent.children[pos+1:]...)
	newParent.children = append(newParent.children, dirent{name: newName, child: child})
	return nil
}

func (fs *FS) Read(_ context.Context, index uint64, pos uint64, buf []byte) (int, error) {
	n, err := fs.get(index)
	if err != nil {
		return 0, err
	}
	if n.kind != vfs.KindFile {
		return 0, newError(vfs.ErrIsDirectory, "index %d is a directory", index)
	}
	p := n.data.Load()
	if p == nil || pos >= uint64(len(*p)) {
		return 0, nil
	}
	data := *p
	if avail := uint64(len(data)) - pos; uint64(len(buf)) > avail {
		buf = buf[:avail]
	}
	copy(buf, data[pos:])
	return len(buf), nil
}

func (fs *FS) Write(_ context.Context, index uint64, pos uint64, buf []byte) (int, uint64, error) {
	n, err := fs.get(index)
	if err != nil {
		return 0, 0, err
	}
	if n.kind != vfs.KindFile {
		return 0, 0, newError(vfs.ErrIsDirectory, "index %d is a directory", index)
	}
	if len(buf) == 0 {
		return 0, n.info().Size, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var old []byte
	if p := n.data.Load(); p != nil {
		old = *p
	}
	end := pos + uint64(len(buf))
	grown := make([]byte, end)
	copy(grown, old) // any gap beyond len(old) up to pos is left zeroed by make
	copy(grown[pos:], buf)
	n.data.Store(&grown)
	return len(buf), uint64(len(grown)), nil
}

func (fs *FS) Truncate(_ context.Context, index uint64, size uint64) error {
	n, err := fs.get(index)
	if err != nil {
		return err
	}
	if n.kind != vfs.KindFile {
		return newError(vfs.ErrIsDirectory, "index %d is a directory", index)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	var old []byte
	if p := n.data.Load(); p != nil {
		old = *p
	}
	resized := make([]byte, size)
	copy(resized, old) // grow: zero-filled; shrink: tail dropped
	n.data.Store(&resized)
	return nil
}

func (fs *FS) Stat(_ context.Context, index uint64) (vfs.NodeInfo, error) {
	n, err := fs.get(index)
	if err != nil {
		return vfs.NodeInfo{}, err
	}
	return n.info(), nil
}

// Statfs reports tmpfs as unbounded: it is backed by process memory, not
// a fixed-size device, so there is no meaningful block budget to report.
func (fs *FS) Statfs(_ context.Context) (vfs.FSStat, error) {
	return vfs.FSStat{BlockSize: 1, Blocks: ^uint64(0), FreeBlocks: ^uint64(0)}, nil
}

func (fs *FS) HasChildren(_ context.Context, index uint64) (bool, error) {
	n, err := fs.get(index)
	if err != nil {
		return false, err
	}
	if n.kind != vfs.KindDirectory {
		return false, newError(vfs.ErrNotDirectory, "index %d is not a directory", index)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.children) > 0, nil
}

func (fs *FS) ReadDir(_ context.Context, index uint64) ([]vfs.DirEntry, error) {
	n, err := fs.get(index)
	if err != nil {
		return nil, err
	}
	if n.kind != vfs.KindDirectory {
		return nil, newError(vfs.ErrNotDirectory, "index %d is not a directory", index)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]vfs.DirEntry, 0, len(n.children))
	for _, d := range n.children {
		out = append(out, vfs.DirEntry{Name: d.name, Kind: d.child.kind})
	}
	return out, nil
}

var _ vfs.DirReader = (*FS)(nil)

func (fs *FS) Put(index uint64) error {
	n, err := fs.get(index)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.refcnt--
	destroy := n.refcnt == 0 && n.lnkcnt == 0
	n.mu.Unlock()
	if destroy {
		fs.mu.Lock()
		delete(fs.nodes, index)
		fs.mu.Unlock()
	}
	return nil
}

// Sync is a no-op: tmpfs has no backing device to flush to.
func (fs *FS) Sync(uint64) error { return nil }

// Unmount drops every node; tmpfs holds no external resources to release.
func (fs *FS) Unmount() error {
	fs.mu.Lock()
	fs.nodes = nil
	fs.mu.Unlock()
	return nil
}
