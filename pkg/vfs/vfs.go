package vfs

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/marmos91/vfskit/internal/logger"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// LookupFlag is the client-visible lookup/open flag set.
type LookupFlag uint32

const (
	FlagFile LookupFlag = 1 << iota
	FlagDirectory
	FlagCreate        // create the final component if missing
	FlagExclusive     // fail if the final component already exists; forced on by FlagDirectory
	FlagLink          // link a pre-existing index rather than creating fresh (unused: no hard-link support)
	FlagUnlink        // this lookup is in service of an unlink
	FlagParent        // return the parent of the final component instead of the component itself
	FlagMP            // the resolved node must be a mount point
	FlagDisableMounts // do not cross filesystem grafts (rename uses this)
)

// driverReg is a registered filesystem type: its constructor plus a
// coexistence hint — whether concurrent readers and writers may run
// against the same node without the content rw-lock serialising them.
type driverReg struct {
	driver              Driver
	concurrentReadWrite bool
}

// VFS is the namespace dispatcher: mount graph, node cache, and PLB.
type VFS struct {
	nsMu sync.RWMutex // lock level 1

	drivers map[string]driverReg
	mounts  []*mountedFS
	root    *Node

	nodes *nodeTable
	plb   *PLB
}

// New returns an empty VFS with no root mounted yet.
func New(plbSize int) *VFS {
	return &VFS{
		drivers: make(map[string]driverReg),
		nodes:   newNodeTable(),
		plb:     NewPLB(plbSize),
	}
}

// RegisterDriver makes a filesystem type available to Mount under handle.
func (v *VFS) RegisterDriver(handle string, driver Driver, concurrentReadWrite bool) {
	v.drivers[handle] = driverReg{driver: driver, concurrentReadWrite: concurrentReadWrite}
}

// canonicalize implements path canonicalisation: absolute paths only,
// "." removed, ".." resolved, "//" collapsed. Returns the path's
// components with no remaining "." or "..".
func canonicalize(p string) ([]string, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, newPathError(ErrBadArgument, p, "path is not absolute")
	}
	clean := path.Clean(p)
	if clean == "/" {
		return nil, nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/"), nil
}

// Mount grafts a new filesystem instance at path ("/" for the initial
// root mount). dev is nil for device-less filesystems (tmpfs).
func (v *VFS) Mount(path, handle, serviceID string, dev blockdev.Device, opts string) error {
	v.nsMu.Lock()
	defer v.nsMu.Unlock()

	ctx := logger.WithContext(context.Background(), logger.NewLogContext().WithOperation("MOUNT").WithFSHandle(handle))

	reg, ok := v.drivers[handle]
	if !ok {
		return newPathError(ErrBadArgument, path, "unknown filesystem type %q", handle)
	}

	if v.root == nil {
		if path != "/" {
			return newPathError(ErrNotMounted, path, "no root filesystem mounted yet")
		}
		fs, err := reg.driver(dev, opts)
		if err != nil {
			return err
		}
		mfs := &mountedFS{handle: handle, serviceID: serviceID, fs: fs}
		rootIdx, info := fs.Root()
		mfs.rootIndex = rootIdx
		v.root = v.nodes.getOrCreate(mfs.triplet(rootIdx), mfs, info)
		v.mounts = append(v.mounts, mfs)
		logger.InfoCtx(ctx, "vfs: mounted root filesystem", logger.Service(serviceID), logger.Path(path))
		return nil
	}

	mp, _, err := v.resolveLocked(path, FlagDirectory|FlagDisableMounts)
	if err != nil {
		return err
	}
	if mp.kind != KindDirectory {
		return newPathError(ErrNotDirectory, path, "mount point is not a directory")
	}
	if mp.mount != nil {
		return newPathError(ErrAlreadyMounted, path, "already a mount point")
	}
	has, err := mp.fs.fs.HasChildren(context.Background(), mp.tri.Index)
	if err != nil {
		return err
	}
	if has {
		return newPathError(ErrNotEmpty, path, "mount point is not empty")
	}

	fs, err := reg.driver(dev, opts)
	if err != nil {
		return err
	}
	mfs := &mountedFS{handle: handle, serviceID: serviceID, fs: fs}
	rootIdx, info := fs.Root()
	mfs.rootIndex = rootIdx
	root := v.nodes.getOrCreate(mfs.triplet(rootIdx), mfs, info)

	// mp keeps the reference resolveLocked handed us for as long as the
	// graft is active; Unmount releases it.
	mp.mount = root
	v.mounts = append(v.mounts, mfs)
	logger.InfoCtx(ctx, "vfs: grafted filesystem", logger.Service(serviceID), logger.Path(path))
	return nil
}

// Unmount detaches the filesystem mounted at path. It fails with
// ErrBusy unless the mounted root's only remaining reference is the
// mount itself.
func (v *VFS) Unmount(path string) error {
	v.nsMu.Lock()
	defer v.nsMu.Unlock()

	// The root filesystem has no mount point above it; it is busy while
	// anything else is still grafted into the namespace.
	if path == "/" && v.root != nil && v.root.mount == nil {
		v.nodes.mu.Lock()
		busy := v.root.refcnt != 1 || len(v.mounts) > 1
		v.nodes.mu.Unlock()
		if busy {
			return newPathError(ErrBusy, path, "filesystem is busy")
		}
		root := v.root
		v.root, v.mounts = nil, nil
		v.release(root)
		return root.fs.fs.Unmount()
	}

	mp, _, err := v.resolveLocked(path, FlagDirectory|FlagMP|FlagDisableMounts)
	if err != nil {
		return err
	}
	root := mp.mount
	if root == nil {
		return newPathError(ErrNotMounted, path, "not a mount point")
	}

	v.nodes.mu.Lock()
	busy := root.refcnt != 1
	v.nodes.mu.Unlock()
	if busy {
		return newPathError(ErrBusy, path, "filesystem is busy")
	}

	if err := root.fs.fs.Unmount(); err != nil {
		return err
	}
	v.nodes.mu.Lock()
	delete(v.nodes.nodes, root.tri)
	v.nodes.mu.Unlock()

	mp.mount = nil
	v.nodes.mu.Lock()
	mp.refcnt-- // release the pin taken at mount time
	v.nodes.mu.Unlock()
	v.release(mp) // release this call's own Lookup reference
	for i, m := range v.mounts {
		if m == root.fs {
			v.mounts = append(v.mounts[:i], v.mounts[i+1:]...)
			break
		}
	}
	logger.Info("vfs: unmounted filesystem", logger.Operation("UNMOUNT"), logger.FSHandle(root.fs.handle), logger.Path(path))
	return nil
}

// Lookup resolves path under the shared namespace lock, returning a
// referenced Node the caller must Put.
func (v *VFS) Lookup(p string, flags LookupFlag) (*Node, error) {
	v.nsMu.RLock()
	defer v.nsMu.RUnlock()
	n, _, err := v.resolveLocked(p, flags)
	return n, err
}

// resolveLocked implements the walk; callers must hold nsMu (either
// side, since it only mutates the node table through its own mutex,
// except for FlagCreate which needs to actually instantiate a node —
// callers passing FlagCreate must hold the write side).
func (v *VFS) resolveLocked(p string, flags LookupFlag) (node, parent *Node, err error) {
	if v.root == nil {
		return nil, nil, newPathError(ErrNotMounted, p, "no root filesystem mounted")
	}
	if flags&FlagDirectory != 0 {
		flags |= FlagExclusive
	}
	comps, err := canonicalize(p)
	if err != nil {
		return nil, nil, err
	}

	cur := v.root
	v.nodes.mu.Lock()
	cur.refcnt++ // Lookup always hands back a referenced node
	v.nodes.mu.Unlock()

	var prev *Node
	ctx := context.Background()
	for i, comp := range comps {
		last := i == len(comps)-1
		descendFrom := cur
		if cur.mount != nil && flags&FlagDisableMounts == 0 {
			descendFrom = cur.mount
		}

		childIdx, info, lerr := descendFrom.fs.fs.Lookup(ctx, descendFrom.tri.Index, comp)
		if lerr != nil {
			if !IsKind(lerr, ErrNotFound) || !(last && flags&FlagCreate != 0) {
				v.release(cur)
				return nil, nil, lerr
			}
			kind := KindFile
			if flags&FlagDirectory != 0 {
				kind = KindDirectory
			}
			childIdx, lerr = descendFrom.fs.fs.Link(ctx, descendFrom.tri.Index, comp, kind)
			if lerr != nil {
				v.release(cur)
				return nil, nil, lerr
			}
			info = NodeInfo{Kind: kind}
		} else if last && flags&FlagCreate != 0 && flags&FlagExclusive != 0 {
			v.release(cur)
			return nil, nil, newPathError(ErrAlreadyExists, p, "entry already exists")
		}

		child := v.nodes.getOrCreate(descendFrom.fs.triplet(childIdx), descendFrom.fs, info)
		prev = cur
		cur = child
	}

	if flags&FlagDisableMounts == 0 {
		for cur.mount != nil {
			v.nodes.mu.Lock()
			cur.mount.refcnt++
			v.nodes.mu.Unlock()
			next := cur.mount
			v.release(cur)
			cur = next
		}
	}

	if flags&FlagMP != 0 && cur.mount == nil {
		v.release(cur)
		return nil, nil, newPathError(ErrBadArgument, p, "not a mount point")
	}

	if flags&FlagParent != 0 {
		if prev == nil {
			v.release(cur)
			return nil, nil, newPathError(ErrBadArgument, p, "path has no parent within this mount")
		}
		v.nodes.mu.Lock()
		prev.refcnt++
		v.nodes.mu.Unlock()
		v.release(cur)
		return prev, nil, nil
	}
	return cur, prev, nil
}

func (v *VFS) release(n *Node) {
	_ = v.nodes.put(n)
}

// Put releases a reference previously obtained from Lookup/Open.
func (v *VFS) Put(n *Node) error {
	return v.nodes.put(n)
}

// Read reads up to len(buf) bytes from n at pos.
func (v *VFS) Read(n *Node, pos uint64, buf []byte) (int, error) {
	n.contentsMu.RLock()
	defer n.contentsMu.RUnlock()
	got, err := n.fs.fs.Read(context.Background(), n.tri.Index, pos, buf)
	return got, err
}

// Write writes buf to n at pos, refreshing n's cached size from the
// reply.
func (v *VFS) Write(n *Node, pos uint64, buf []byte) (int, error) {
	reg := v.drivers[n.fs.handle]
	if reg.concurrentReadWrite {
		n.contentsMu.RLock()
		defer n.contentsMu.RUnlock()
	} else {
		n.contentsMu.Lock()
		defer n.contentsMu.Unlock()
	}
	got, newSize, err := n.fs.fs.Write(context.Background(), n.tri.Index, pos, buf)
	if err == nil {
		v.nodes.mu.Lock()
		n.size = newSize
		v.nodes.mu.Unlock()
	}
	return got, err
}

// Resize truncates/extends n to size.
func (v *VFS) Resize(n *Node, size uint64) error {
	n.contentsMu.Lock()
	defer n.contentsMu.Unlock()
	if err := n.fs.fs.Truncate(context.Background(), n.tri.Index, size); err != nil {
		return err
	}
	v.nodes.mu.Lock()
	n.size = size
	v.nodes.mu.Unlock()
	return nil
}

// Stat refreshes and returns n's metadata.
func (v *VFS) Stat(n *Node) (NodeInfo, error) {
	info, err := n.fs.fs.Stat(context.Background(), n.tri.Index)
	if err != nil {
		return NodeInfo{}, err
	}
	v.nodes.mu.Lock()
	n.upgradeKind(info.Kind)
	n.size = info.Size
	v.nodes.mu.Unlock()
	return info, nil
}

// Statfs reports the volume n's filesystem lives on.
func (v *VFS) Statfs(n *Node) (FSStat, error) {
	return n.fs.fs.Statfs(context.Background())
}

// Sync flushes n's filesystem state for n.
func (v *VFS) Sync(n *Node) error {
	return n.fs.fs.Sync(n.tri.Index)
}

// ReadDir lists n's directory entries, for filesystems that implement
// the optional DirReader capability.
func (v *VFS) ReadDir(n *Node) ([]DirEntry, error) {
	dr, ok := n.fs.fs.(DirReader)
	if !ok {
		return nil, newError(ErrUnsupported, "filesystem %q does not support directory listing", n.fs.handle)
	}
	return dr.ReadDir(context.Background(), n.tri.Index)
}

// Link creates name of the given kind under the directory resolved
// from parentPath, returning a referenced Node for it.
func (v *VFS) Link(parentPath, name string, kind Kind) (*Node, error) {
	v.nsMu.Lock()
	defer v.nsMu.Unlock()

	parent, _, err := v.resolveLocked(parentPath, FlagDirectory)
	if err != nil {
		return nil, err
	}
	defer v.release(parent)
	if parent.kind != KindDirectory {
		return nil, newPathError(ErrNotDirectory, parentPath, "parent is not a directory")
	}

	ctx := context.Background()
	if _, _, err := parent.fs.fs.Lookup(ctx, parent.tri.Index, name); err == nil {
		return nil, newPathError(ErrAlreadyExists, name, "entry already exists")
	}
	idx, err := parent.fs.fs.Link(ctx, parent.tri.Index, name, kind)
	if err != nil {
		return nil, err
	}
	info, err := parent.fs.fs.Stat(ctx, idx)
	if err != nil {
		return nil, err
	}
	return v.nodes.getOrCreate(parent.fs.triplet(idx), parent.fs, info), nil
}

// Unlink removes name from the directory resolved from parentPath.
func (v *VFS) Unlink(parentPath, name string) error {
	v.nsMu.Lock()
	defer v.nsMu.Unlock()

	parent, _, err := v.resolveLocked(parentPath, FlagDirectory)
	if err != nil {
		return err
	}
	defer v.release(parent)
	return parent.fs.fs.Unlink(context.Background(), parent.tri.Index, name)
}

// Rename moves the entry at srcPath to dstPath, preserving the moved
// object's stable index: rename rewrites position, never identity. It
// refuses when either path is a prefix of the other.
func (v *VFS) Rename(srcPath, dstPath string) error {
	v.nsMu.Lock()
	defer v.nsMu.Unlock()

	if strings.HasPrefix(dstPath+"/", srcPath+"/") || strings.HasPrefix(srcPath+"/", dstPath+"/") {
		return newPathError(ErrBadArgument, srcPath, "rename source/destination may not be a prefix of the other")
	}

	srcDir, srcName := path.Split(strings.TrimSuffix(srcPath, "/"))
	dstDir, dstName := path.Split(strings.TrimSuffix(dstPath, "/"))
	if srcDir == "" {
		srcDir = "/"
	}
	if dstDir == "" {
		dstDir = "/"
	}

	srcDirNode, _, err := v.resolveLocked(srcDir, FlagDirectory|FlagDisableMounts)
	if err != nil {
		return err
	}
	defer v.release(srcDirNode)

	var dstDirNode *Node
	if dstDir == srcDir {
		dstDirNode = srcDirNode
	} else {
		dstDirNode, _, err = v.resolveLocked(dstDir, FlagDirectory|FlagDisableMounts)
		if err != nil {
			return err
		}
		defer v.release(dstDirNode)
	}

	if dstDirNode.fs != srcDirNode.fs {
		return newPathError(ErrCrossDevice, dstPath, "rename across filesystem instances is unsupported")
	}

	ctx := context.Background()
	if err := srcDirNode.fs.fs.Rename(ctx, srcDirNode.tri.Index, srcName, dstDirNode.tri.Index, dstName); err != nil {
		return err
	}

	logger.Debug("vfs: renamed entry", logger.Operation("RENAME"), logger.OldPath(srcPath), logger.NewPath(dstPath))

	// The moved node's index is unchanged, but if it is live in the node
	// table under the old (parent, name)-derived identity it still keys
	// on the triplet, which the rename preserved — nothing to rehash.
	return nil
}
