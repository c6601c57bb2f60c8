package fatfs

import (
	"sync"

	"github.com/marmos91/vfskit/pkg/blockcache"
)

// Kind is a FAT node's object type. Unlike the VFS-level node.Type it
// guards, a FAT Kind is always known by the time a Node exists (FAT
// directory entries carry the subdirectory bit directly), but the field
// is still named and typed the same way for symmetry with pkg/vfs.
type Kind int

const (
	KindUnknown Kind = iota
	KindFile
	KindDirectory
)

// Node is the FAT node layer's per-open-file in-core cache entry: one
// per live stable index, holding the mutable on-disk state (first
// cluster, size) plus two cluster-walk caches (last-cluster, for O(1)
// append; current-cluster, for O(1) same-block re-reads during
// sequential I/O).
type Node struct {
	v   *Volume
	idx *indexEntry

	mu sync.Mutex // lock level 4, FAT node mutex

	kind Kind
	size uint32

	firstCluster uint32

	// lastcCached is the last cluster of the chain, used by AppendClusters
	// to avoid re-walking the whole chain on every append.
	lastcCached uint32

	// currcCached/currcIndex cache the cluster presently being read or
	// written and its 0-based position in the chain, so repeated access
	// to the same cluster (the common case for sequential I/O) skips the
	// walk entirely.
	currcCached uint32
	currcIndex  uint32

	dirty  bool
	refcnt int
	lnkcnt int

	// fixedRoot marks the FAT12/16 root directory: a fixed-size area with
	// no cluster chain of its own, which cannot grow past RootEntryMax
	// entries.
	fixedRoot bool

	// idle LRU linkage ("cache of idle objects" pattern); valid only
	// while refcnt == 0.
	idlePrev, idleNext *Node
}

// Index returns the node's stable FAT index.
func (n *Node) Index() uint32 { return n.idx.Index() }

// IndexEntry exposes the node's backing index-table entry, used by the
// directory layer to read/update position.
func (n *Node) IndexEntry() *indexEntry { return n.idx }

func (n *Node) Kind() Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kind
}

func (n *Node) Size() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size
}

func (n *Node) FirstCluster() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.firstCluster
}

func (n *Node) LinkCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lnkcnt
}

// nodeGet returns the live (refcnt-bumped) node for a stable index,
// instantiating it from disk on first reference and recycling an idle
// node (or allocating a fresh one) to hold it. kind/size/firstCluster
// are supplied by the caller, which has just matched or created the
// directory entry and so already knows them; nodeGet does not re-read
// the dentry itself.
//
// idxEntry must be a reference the caller just obtained (LookupIndex,
// LookupPosition, or Create); nodeGet consumes it — donating it to become
// the Node's one permanent index-table reference the first time the
// Node is instantiated, or releasing it as redundant on a cache hit
// (the live Node already holds its own). Either way the caller must not
// Unref idxEntry itself after a successful call.
func (v *Volume) nodeGet(idxEntry *indexEntry, kind Kind, size, firstCluster uint32) (*Node, error) {
	v.nodeMu.Lock()
	if n, ok := v.nodes[idxEntry.Index()]; ok {
		v.unlinkIdleLocked(n)
		n.mu.Lock()
		n.refcnt++
		n.mu.Unlock()
		v.nodeMu.Unlock()
		v.idx.Unref(idxEntry) // redundant alongside the node's own permanent ref
		return n, nil
	}
	v.nodeMu.Unlock()

	n, err := v.nodeGetNew()
	if err != nil {
		return nil, err
	}
	n.v = v
	n.idx = idxEntry
	n.kind = kind
	n.size = size
	n.firstCluster = firstCluster
	n.lastcCached = 0
	n.currcCached = 0
	n.currcIndex = 0
	n.dirty = false
	n.refcnt = 1
	n.lnkcnt = 1

	v.nodeMu.Lock()
	v.nodes[idxEntry.Index()] = n
	v.nodeMu.Unlock()
	return n, nil
}

// nodeGetNew produces a Node ready to be reinitialized: it tries to
// recycle the least-recently-idle node first (syncing it to disk if
// dirty), falling back to a fresh allocation when none is idle or
// syncing the dirty candidate fails. It takes no try-locks on the
// candidate or its index entry before recycling it.
func (v *Volume) nodeGetNew() (*Node, error) {
	v.nodeMu.Lock()
	cand := v.idleHead
	if cand == nil {
		v.nodeMu.Unlock()
		return &Node{}, nil
	}
	v.unlinkIdleLocked(cand)
	delete(v.nodes, cand.idx.Index())
	v.nodeMu.Unlock()

	cand.mu.Lock()
	dirty := cand.dirty
	cand.mu.Unlock()
	if dirty {
		if err := v.syncNode(cand); err != nil {
			// Flush failure keeps the old node alive in memory rather than
			// losing the write; fall back to a fresh allocation for the new
			// caller instead of recycling this one.
			v.nodeMu.Lock()
			v.nodes[cand.idx.Index()] = cand
			v.appendIdleLocked(cand)
			v.nodeMu.Unlock()
			return &Node{}, nil
		}
	}
	v.idx.Unref(cand.idx)
	return cand, nil
}

// Put releases one reference to n. At refcnt 0 the node is flushed (if
// dirty) and moved to the tail of the idle LRU rather than destroyed
// immediately, so a following re-open of the same file is cheap.
func (v *Volume) putNode(n *Node) error {
	n.mu.Lock()
	n.refcnt--
	idle := n.refcnt == 0
	dirty := n.dirty
	n.mu.Unlock()

	if !idle {
		return nil
	}

	_, _, unlinked := n.idx.Position()
	if unlinked && n.LinkCount() == 0 {
		// No directory entry, no hard links, no references: destroy the
		// backing storage (free its cluster chain) and drop it from the
		// cache instead of idling it.
		if err := v.ChopClusters(n, 0); err != nil {
			return err
		}
		v.nodeMu.Lock()
		delete(v.nodes, n.idx.Index())
		v.nodeMu.Unlock()
		v.idx.Unref(n.idx)
		return nil
	}

	if dirty {
		if err := v.syncNode(n); err != nil {
			return err
		}
	}
	v.nodeMu.Lock()
	v.appendIdleLocked(n)
	var evict *Node
	if v.idleCount > maxIdleNodes {
		evict = v.idleHead
		v.unlinkIdleLocked(evict)
		delete(v.nodes, evict.idx.Index())
	}
	v.nodeMu.Unlock()

	if evict == nil {
		return nil
	}
	evict.mu.Lock()
	dirty2 := evict.dirty
	evict.mu.Unlock()
	if dirty2 {
		if err := v.syncNode(evict); err != nil {
			// Keep it around rather than lose the write; put it back onto
			// the idle list over the watermark rather than drop it.
			v.nodeMu.Lock()
			v.nodes[evict.idx.Index()] = evict
			v.appendIdleLocked(evict)
			v.nodeMu.Unlock()
			return err
		}
	}
	v.idx.Unref(evict.idx)
	return nil
}

func (v *Volume) appendIdleLocked(n *Node) {
	n.idlePrev, n.idleNext = v.idleTail, nil
	if v.idleTail != nil {
		v.idleTail.idleNext = n
	} else {
		v.idleHead = n
	}
	v.idleTail = n
	v.idleCount++
}

func (v *Volume) unlinkIdleLocked(n *Node) {
	if n.idlePrev == nil && n.idleNext == nil && v.idleHead != n {
		return // not on the idle list
	}
	if n.idlePrev != nil {
		n.idlePrev.idleNext = n.idleNext
	} else if v.idleHead == n {
		v.idleHead = n.idleNext
	}
	if n.idleNext != nil {
		n.idleNext.idlePrev = n.idlePrev
	} else if v.idleTail == n {
		v.idleTail = n.idlePrev
	}
	n.idlePrev, n.idleNext = nil, nil
	v.idleCount--
}

// syncNode re-reads the node's parent directory entry and writes back
// firstc/size/subdir-bit, marking the underlying directory block dirty.
// Time fields are intentionally left untouched: not propagating
// uninitialized memory into them is all that's required, and the
// zero-initialized dentry buffer already satisfies that.
func (v *Volume) syncNode(n *Node) error {
	parentFC, slot, unlinked := n.idx.Position()
	if unlinked {
		return nil
	}
	n.mu.Lock()
	firstCluster, size, kind := n.firstCluster, n.size, n.kind
	n.dirty = false
	n.mu.Unlock()

	if err := v.writeDentryFields(parentFC, slot, firstCluster, size, kind == KindDirectory); err != nil {
		n.mu.Lock()
		n.dirty = true
		n.mu.Unlock()
		return err
	}
	return nil
}

// nodeByIndex resolves a stable index back to a live, refcnt-bumped
// Node, re-reading its directory entry from disk if it isn't already in
// the node cache (e.g. it was idle-evicted since its last use).
func (v *Volume) nodeByIndex(idx uint32) (*Node, error) {
	if idx == 0 {
		return v.Root()
	}

	entry, ok := v.idx.LookupIndex(idx)
	if !ok {
		return nil, newError(ErrNotFound, "index %d does not exist", idx)
	}

	v.nodeMu.Lock()
	_, cached := v.nodes[idx]
	v.nodeMu.Unlock()
	if cached {
		return v.nodeGet(entry, KindUnknown, 0, 0)
	}

	parentFC, slot, unlinked := entry.Position()
	if unlinked {
		v.idx.Unref(entry)
		return nil, newError(ErrNotFound, "index %d is unlinked and not cached", idx)
	}

	parent, release, err := v.directoryNodeFor(parentFC)
	if err != nil {
		v.idx.Unref(entry)
		return nil, err
	}
	defer release()

	spb := v.slotsPerBlock()
	bn := uint32(slot) / spb
	within := (uint32(slot) % spb) * DentrySize
	blk, err := v.blockAt(parent, bn)
	if err != nil {
		v.idx.Unref(entry)
		return nil, err
	}
	blk.RLock()
	raw := classifyDentry(blk.Data()[within : within+DentrySize])
	blk.RUnlock()
	_ = v.dev.Put(blk)

	n, err := v.nodeGet(entry, kindOf(raw), raw.size, raw.firstCluster())
	if err != nil {
		v.idx.Unref(entry)
		return nil, err
	}
	return n, nil
}

// blockAt returns the cache block containing byte offset bn*BytesPerSector
// of n, using the FAT12/16 fixed root-directory shortcut when applicable
// and the cached-current-cluster fast path otherwise.
func (v *Volume) blockAt(n *Node, bn uint32) (*blockcache.Block, error) {
	bps := uint32(v.boot.BytesPerSector)
	spc := uint32(v.boot.SectorsPerCluster)

	n.mu.Lock()
	firstCluster := n.firstCluster
	isRoot := n.idx.Index() == 0
	n.mu.Unlock()

	if v.boot.Variant != FAT32 && isRoot {
		return v.dev.Get(uint64(v.boot.FirstRootDirSector()+bn), 0)
	}

	clusterIdx := bn / spc
	within := bn % spc

	n.mu.Lock()
	cur, curIdx := n.currcCached, n.currcIndex
	n.mu.Unlock()

	var cluster uint32
	switch {
	case cur != 0 && curIdx == clusterIdx:
		cluster = cur
	case cur != 0 && clusterIdx == curIdx+1:
		next, err := v.GetCluster(0, cur)
		if err != nil {
			return nil, err
		}
		cluster = next
	default:
		chain, err := v.ClusterWalk(firstCluster, int(clusterIdx)+1)
		if err != nil {
			return nil, err
		}
		if uint32(len(chain)) <= clusterIdx {
			return nil, newError(ErrIOError, "short cluster chain")
		}
		cluster = chain[clusterIdx]
	}

	n.mu.Lock()
	n.currcCached, n.currcIndex = cluster, clusterIdx
	n.mu.Unlock()

	sector := v.boot.ClusterToSector(cluster) + within
	return v.dev.Get(uint64(sector), 0)
}
