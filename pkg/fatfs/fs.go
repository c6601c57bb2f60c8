package fatfs

import (
	"context"

	"github.com/marmos91/vfskit/pkg/blockdev"
	"github.com/marmos91/vfskit/pkg/vfs"
)

// adapter wraps a *Volume to satisfy vfs.FileSystem, translating between
// the VFS core's uint64/vfs.Kind vocabulary and fatfs's own uint32
// index/Kind, and between fatfs.Error and vfs.Error.
type adapter struct {
	v *Volume
}

// NewDriver returns a vfs.Driver that mounts a FAT volume on dev. opts
// is "wtcache" to force write-through caching, anything else (including
// empty) selects the default write-back mode.
func NewDriver() vfs.Driver {
	return func(dev blockdev.Device, opts string) (vfs.FileSystem, error) {
		v, err := Mount(dev, opts == "wtcache")
		if err != nil {
			return nil, translateErr(err, "")
		}
		return &adapter{v: v}, nil
	}
}

func toVFSKind(k Kind) vfs.Kind {
	if k == KindDirectory {
		return vfs.KindDirectory
	}
	return vfs.KindFile
}

func toFATKind(k vfs.Kind) Kind {
	if k == vfs.KindDirectory {
		return KindDirectory
	}
	return KindFile
}

func translateErr(err error, path string) error {
	if err == nil {
		return nil
	}
	fe, ok := err.(*Error)
	if !ok {
		return &vfs.Error{Kind: vfs.ErrIOError, Path: path, Message: err.Error()}
	}
	kind := vfs.ErrUnknown
	switch fe.Kind {
	case ErrNotFound:
		kind = vfs.ErrNotFound
	case ErrAlreadyExists:
		kind = vfs.ErrAlreadyExists
	case ErrNotDirectory:
		kind = vfs.ErrNotDirectory
	case ErrIsDirectory:
		kind = vfs.ErrIsDirectory
	case ErrNotEmpty:
		kind = vfs.ErrNotEmpty
	case ErrNameTooLong, ErrNameTooManyLinks:
		kind = vfs.ErrNameTooLong
	case ErrNoSpace:
		kind = vfs.ErrNoSpace
	case ErrReadOnly:
		kind = vfs.ErrReadOnly
	case ErrBusy:
		kind = vfs.ErrBusy
	case ErrIOError, ErrLimitExceeded, ErrOutOfMemory, ErrUnsupported:
		kind = vfs.ErrIOError
	case ErrBadArgument:
		kind = vfs.ErrBadArgument
	}
	path = fe.Path
	if path == "" {
		path = ""
	}
	return &vfs.Error{Kind: kind, Path: path, Message: fe.Message}
}

func (a *adapter) Root() (uint64, vfs.NodeInfo) {
	n, err := a.v.Root()
	if err != nil {
		// Mount already validated the boot sector; a failure to fetch the
		// root node afterwards means the device went away underneath us.
		return 0, vfs.NodeInfo{Kind: vfs.KindDirectory}
	}
	info := vfs.NodeInfo{Kind: toVFSKind(n.Kind()), Size: uint64(n.Size())}
	_ = a.v.Put(n)
	return 0, info
}

func (a *adapter) Lookup(_ context.Context, parentIndex uint64, name string) (uint64, vfs.NodeInfo, error) {
	parent, err := a.v.nodeByIndex(uint32(parentIndex))
	if err != nil {
		return 0, vfs.NodeInfo{}, translateErr(err, name)
	}
	defer a.v.Put(parent)

	if parent.Kind() != KindDirectory {
		return 0, vfs.NodeInfo{}, translateErr(newPathError(ErrNotDirectory, name, "parent is not a directory"), name)
	}

	child, err := a.v.match(parent, name)
	if err != nil {
		return 0, vfs.NodeInfo{}, translateErr(err, name)
	}
	info := vfs.NodeInfo{Kind: toVFSKind(child.Kind()), Size: uint64(child.Size())}
	return uint64(child.Index()), info, nil
}

func (a *adapter) Link(_ context.Context, parentIndex uint64, name string, kind vfs.Kind) (uint64, error) {
	parent, err := a.v.nodeByIndex(uint32(parentIndex))
	if err != nil {
		return 0, translateErr(err, name)
	}
	defer a.v.Put(parent)

	if parent.Kind() != KindDirectory {
		return 0, translateErr(newPathError(ErrNotDirectory, name, "parent is not a directory"), name)
	}
	if _, err := a.v.match(parent, name); err == nil {
		return 0, translateErr(newPathError(ErrAlreadyExists, name, "entry already exists"), name)
	}

	child, err := a.v.link(parent, name, toFATKind(kind))
	if err != nil {
		return 0, translateErr(err, name)
	}
	// The reference link's nodeGet took is handed to the caller, to be
	// released through a later Put — same convention as Lookup.
	return uint64(child.Index()), nil
}

func (a *adapter) Unlink(_ context.Context, parentIndex uint64, name string) error {
	parent, err := a.v.nodeByIndex(uint32(parentIndex))
	if err != nil {
		return translateErr(err, name)
	}
	defer a.v.Put(parent)

	child, err := a.v.match(parent, name)
	if err != nil {
		return translateErr(err, name)
	}
	if child.Kind() == KindDirectory {
		has, err := a.v.hasChildren(child)
		if err != nil {
			_ = a.v.Put(child)
			return translateErr(err, name)
		}
		if has {
			_ = a.v.Put(child)
			return translateErr(newPathError(ErrNotEmpty, name, "directory is not empty"), name)
		}
	}
	_ = a.v.Put(child)

	if err := a.v.unlink(parent, name); err != nil {
		return translateErr(err, name)
	}
	return nil
}

func (a *adapter) Rename(_ context.Context, oldParentIndex uint64, oldName string, newParentIndex uint64, newName string) error {
	oldParent, err := a.v.nodeByIndex(uint32(oldParentIndex))
	if err != nil {
		return translateErr(err, oldName)
	}
	defer a.v.Put(oldParent)
	if oldParent.Kind() != KindDirectory {
		return translateErr(newPathError(ErrNotDirectory, oldName, "parent is not a directory"), oldName)
	}

	newParent := oldParent
	if newParentIndex != oldParentIndex {
		newParent, err = a.v.nodeByIndex(uint32(newParentIndex))
		if err != nil {
			return translateErr(err, newName)
		}
		defer a.v.Put(newParent)
	}
	if newParent.Kind() != KindDirectory {
		return translateErr(newPathError(ErrNotDirectory, newName, "parent is not a directory"), newName)
	}

	n, err := a.v.rename(oldParent, oldName, newParent, newName)
	if err != nil {
		return translateErr(err, newName)
	}
	return translateErr(a.v.Put(n), newName)
}

func (a *adapter) Read(_ context.Context, index uint64, pos uint64, buf []byte) (int, error) {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return 0, translateErr(err, "")
	}
	defer a.v.Put(n)
	got, err := a.v.Read(n, pos, buf)
	if err != nil {
		return got, translateErr(err, "")
	}
	return got, nil
}

func (a *adapter) Write(_ context.Context, index uint64, pos uint64, buf []byte) (int, uint64, error) {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return 0, 0, translateErr(err, "")
	}
	defer a.v.Put(n)
	got, err := a.v.Write(n, pos, buf)
	if err != nil {
		return got, uint64(n.Size()), translateErr(err, "")
	}
	return got, uint64(n.Size()), nil
}

func (a *adapter) Truncate(_ context.Context, index uint64, size uint64) error {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return translateErr(err, "")
	}
	defer a.v.Put(n)
	if size > 0xFFFFFFFF {
		return translateErr(newError(ErrLimitExceeded, "size exceeds the 32-bit FAT file size limit"), "")
	}
	return translateErr(a.v.Truncate(n, uint32(size)), "")
}

func (a *adapter) Stat(_ context.Context, index uint64) (vfs.NodeInfo, error) {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return vfs.NodeInfo{}, translateErr(err, "")
	}
	defer a.v.Put(n)
	return vfs.NodeInfo{Kind: toVFSKind(n.Kind()), Size: uint64(n.Size())}, nil
}

func (a *adapter) Statfs(_ context.Context) (vfs.FSStat, error) {
	total := a.v.boot.ClusterCount()
	free := uint32(0)
	for c := uint32(2); c < total+2; c++ {
		val, err := a.v.GetCluster(0, c)
		if err != nil {
			return vfs.FSStat{}, translateErr(err, "")
		}
		if val == ClstRes0 {
			free++
		}
	}
	bpc := a.v.boot.BytesPerCluster()
	return vfs.FSStat{
		BlockSize:  bpc,
		Blocks:     uint64(total),
		FreeBlocks: uint64(free),
	}, nil
}

func (a *adapter) HasChildren(_ context.Context, index uint64) (bool, error) {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return false, translateErr(err, "")
	}
	defer a.v.Put(n)
	has, err := a.v.hasChildren(n)
	if err != nil {
		return false, translateErr(err, "")
	}
	return has, nil
}

func (a *adapter) ReadDir(_ context.Context, index uint64) ([]vfs.DirEntry, error) {
	n, err := a.v.nodeByIndex(uint32(index))
	if err != nil {
		return nil, translateErr(err, "")
	}
	defer a.v.Put(n)
	if n.Kind() != KindDirectory {
		return nil, translateErr(newError(ErrNotDirectory, "index %d is not a directory", index), "")
	}

	entries, err := a.v.directoryEntries(n)
	if err != nil {
		return nil, translateErr(err, "")
	}
	out := make([]vfs.DirEntry, 0, len(entries))
	for _, je := range entries {
		if je.name == "." || je.name == ".." {
			continue
		}
		kind := vfs.KindFile
		if je.short.isDirectory() {
			kind = vfs.KindDirectory
		}
		out = append(out, vfs.DirEntry{Name: je.name, Kind: kind})
	}
	return out, nil
}

var _ vfs.DirReader = (*adapter)(nil)

func (a *adapter) Put(index uint64) error {
	a.v.nodeMu.Lock()
	n, ok := a.v.nodes[uint32(index)]
	a.v.nodeMu.Unlock()
	if !ok {
		return nil // already idled/destroyed; nothing to release
	}
	return translateErr(a.v.Put(n), "")
}

func (a *adapter) Sync(index uint64) error {
	a.v.nodeMu.Lock()
	n, ok := a.v.nodes[uint32(index)]
	a.v.nodeMu.Unlock()
	if !ok {
		return nil
	}
	return translateErr(a.v.syncNode(n), "")
}

func (a *adapter) Unmount() error {
	return translateErr(a.v.Unmount(), "")
}
