package vfs

import "sync"

// mountedFS is one filesystem server instance registered with the VFS:
// a driver-constructed FileSystem bound to a device/service, plus the
// root object it reported back from Root() at mount time.
type mountedFS struct {
	handle    string
	serviceID string
	fs        FileSystem
	rootIndex uint64
}

func (m *mountedFS) triplet(index uint64) Triplet {
	return Triplet{FSHandle: m.handle, ServiceID: m.serviceID, Index: index}
}

// Node is the VFS-level in-memory cache of one triplet. contentsMu is
// lock level 3 (VFS node contents rw-lock), guarding I/O against
// concurrent resizing; every other field is guarded by the owning
// VFS's node-table mutex (nodeTable.mu).
type Node struct {
	tri  Triplet
	fs   *mountedFS
	kind Kind
	size uint64

	lnkcnt int
	refcnt int

	// mount, when non-nil, is the root Node of a filesystem grafted at
	// this node; this node (the mount point) then holds one extra
	// reference on itself and one on *mount until unmount.
	mount *Node

	contentsMu sync.RWMutex
}

// Triplet returns n's identity.
func (n *Node) Triplet() Triplet { return n.tri }

// Kind returns n's cached type. Monotonic: KindUnknown only ever
// upgrades to File or Directory, never the reverse (upgradeKind
// enforces this; direct field writes elsewhere always follow a fresh
// Stat/Lookup result and so never regress it in practice).
func (n *Node) Kind() Kind { return n.kind }

// Size returns n's cached size.
func (n *Node) Size() uint64 { return n.size }

func (n *Node) upgradeKind(k Kind) {
	if n.kind == KindUnknown {
		n.kind = k
	}
}

// nodeTable is the VFS's hash table of live nodes, keyed by triplet.
// A node with refcnt == 0 is never present here.
type nodeTable struct {
	mu    sync.Mutex
	nodes map[Triplet]*Node
}

func newNodeTable() *nodeTable {
	return &nodeTable{nodes: make(map[Triplet]*Node)}
}

// getOrCreate returns the cached node for tri, bumping its refcnt, or
// installs a freshly built one (refcnt 1) from info when none exists.
func (t *nodeTable) getOrCreate(tri Triplet, fs *mountedFS, info NodeInfo) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[tri]; ok {
		n.refcnt++
		n.upgradeKind(info.Kind)
		n.size = info.Size
		return n
	}
	n := &Node{tri: tri, fs: fs, kind: info.Kind, size: info.Size, refcnt: 1, lnkcnt: 1}
	t.nodes[tri] = n
	return n
}

// put releases one reference to n, removing it from the table (and
// telling its filesystem to release its own reference) once the count
// reaches zero. It does not recurse into destroying backing storage —
// that is the owning filesystem's business, driven by its own
// lnkcnt/refcnt bookkeeping on Unlink/Put.
func (t *nodeTable) put(n *Node) error {
	t.mu.Lock()
	n.refcnt--
	dead := n.refcnt == 0
	if dead {
		delete(t.nodes, n.tri)
	}
	t.mu.Unlock()
	if !dead {
		return nil
	}
	return n.fs.fs.Put(n.tri.Index)
}
