package fatfs

import (
	"sort"
	"sync"
)

// position is the volatile location of a directory entry: the first
// cluster of the parent directory (ROOTPAR for the root itself) and the
// entry's slot index within that directory. unlink sets a position to
// the sentinel zero value and keeps the index entry alive until the last
// reference drops.
type position struct {
	parentFirstCluster uint32
	slot               int
}

var sentinelPosition = position{}

// ROOTPAR substitutes for a child's notion of "parent's first cluster"
// when the parent is the root directory, which (on FAT12/16) has no
// cluster of its own.
const ROOTPAR = 0xFFFFFFFF

// indexEntry is one stable-id <-> position mapping. It survives rename
// (position changes, index does not) and survives unlink while any
// reference remains (position becomes the sentinel).
type indexEntry struct {
	t        *indexTable
	index    uint32
	pos      position
	refcount int
}

// interval is a half-open range [lo, hi) of unused index values.
type interval struct {
	lo, hi uint32
}

// indexTable is the FAT index layer: a monotonic index counter with a
// coalescing free list, and two hash tables (by stable index, by
// volatile position) sharing the same indexEntry values.
type indexTable struct {
	mu sync.Mutex // lock level 5, FAT index-entry lock

	next uint32 // lowest index value never yet allocated

	free []interval // sorted, disjoint, coalesced

	byIndex    map[uint32]*indexEntry
	byPosition map[position]*indexEntry
}

func newIndexTable() *indexTable {
	t := &indexTable{
		next:       1, // index 0 is reserved for the volume root
		byIndex:    make(map[uint32]*indexEntry),
		byPosition: make(map[position]*indexEntry),
	}
	// The root directory has no parent dentry of its own, so it is pinned
	// at index 0 with the ROOTPAR/sentinel-slot position rather than
	// discovered via Create like every other node; the extra reference
	// keeps it from ever being freed by Unref.
	root := &indexEntry{t: t, index: 0, pos: position{parentFirstCluster: ROOTPAR, slot: -1}, refcount: 2}
	t.byIndex[0] = root
	t.byPosition[root.pos] = root
	return t
}

// allocIndex returns a fresh stable index, preferring a freed interval
// over growing the counter.
func (t *indexTable) allocIndex() uint32 {
	if len(t.free) > 0 {
		iv := &t.free[0]
		idx := iv.lo
		iv.lo++
		if iv.lo == iv.hi {
			t.free = t.free[1:]
		}
		return idx
	}
	idx := t.next
	t.next++
	return idx
}

// freeIndex returns idx to the pool, coalescing it with any adjacent
// interval and, if the freed range now abuts the counter from below,
// rolling the counter itself back down.
func (t *indexTable) freeIndex(idx uint32) {
	i := sort.Search(len(t.free), func(i int) bool { return t.free[i].lo >= idx })

	merged := interval{lo: idx, hi: idx + 1}
	insertAt := i

	if i > 0 && t.free[i-1].hi == idx {
		merged.lo = t.free[i-1].lo
		insertAt = i - 1
		t.free = append(t.free[:i-1], t.free[i:]...)
		i--
	}
	if i < len(t.free) && t.free[i].lo == merged.hi {
		merged.hi = t.free[i].hi
		t.free = append(t.free[:i], t.free[i+1:]...)
	}

	t.free = append(t.free, interval{})
	copy(t.free[insertAt+1:], t.free[insertAt:])
	t.free[insertAt] = merged

	// If the top free interval now touches the counter, roll it back: the
	// indices it covers were never really "allocated, then freed" from an
	// external point of view, they're simply indices nobody has claimed
	// yet.
	for len(t.free) > 0 {
		last := &t.free[len(t.free)-1]
		if last.hi != t.next {
			break
		}
		t.next = last.lo
		t.free = t.free[:len(t.free)-1]
	}
}

// getByIndex looks up an entry by its stable id.
func (t *indexTable) getByIndex(idx uint32) (*indexEntry, bool) {
	e, ok := t.byIndex[idx]
	return e, ok
}

// getByPosition looks up an entry by its current directory position —
// used during lookup to reuse an existing node when re-encountering the
// same on-disk object through a different path.
func (t *indexTable) getByPosition(pos position) (*indexEntry, bool) {
	if pos == sentinelPosition {
		return nil, false
	}
	e, ok := t.byPosition[pos]
	return e, ok
}

// create allocates a fresh index entry at pos with one reference.
func (t *indexTable) create(pos position) *indexEntry {
	e := &indexEntry{t: t, index: t.allocIndex(), pos: pos, refcount: 1}
	t.byIndex[e.index] = e
	if pos != sentinelPosition {
		t.byPosition[pos] = e
	}
	return e
}

// ref/unref track outstanding references (open files, node-hash entries,
// transient lookups) to an index entry. The entry — and its stable index
// — is only returned to the pool once the last reference drops.
func (t *indexTable) ref(e *indexEntry) { e.refcount++ }

func (t *indexTable) unref(e *indexEntry) {
	e.refcount--
	if e.refcount > 0 {
		return
	}
	delete(t.byIndex, e.index)
	if e.pos != sentinelPosition {
		delete(t.byPosition, e.pos)
	}
	t.freeIndex(e.index)
}

// rename moves e to a new position, rehashing the by-position table; the
// stable index is untouched.
func (t *indexTable) rename(e *indexEntry, newPos position) {
	if e.pos != sentinelPosition {
		delete(t.byPosition, e.pos)
	}
	e.pos = newPos
	if newPos != sentinelPosition {
		t.byPosition[newPos] = e
	}
}

// unlink clears e's position to the sentinel, keeping the entry (and its
// index) alive for as long as refcount demands.
func (t *indexTable) unlink(e *indexEntry) {
	if e.pos != sentinelPosition {
		delete(t.byPosition, e.pos)
	}
	e.pos = sentinelPosition
}

// Locked entry points: every external caller (the node layer) reaches
// the table only through these, which take the index-entry lock (lock
// level 5) for the duration of the operation.

func (t *indexTable) LookupIndex(idx uint32) (*indexEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.getByIndex(idx)
	if ok {
		t.ref(e)
	}
	return e, ok
}

func (t *indexTable) LookupPosition(parentFirstCluster uint32, slot int) (*indexEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.getByPosition(position{parentFirstCluster, slot})
	if ok {
		t.ref(e)
	}
	return e, ok
}

func (t *indexTable) Create(parentFirstCluster uint32, slot int) *indexEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.create(position{parentFirstCluster, slot})
}

func (t *indexTable) Ref(e *indexEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ref(e)
}

func (t *indexTable) Unref(e *indexEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unref(e)
}

func (t *indexTable) Rename(e *indexEntry, parentFirstCluster uint32, slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rename(e, position{parentFirstCluster, slot})
}

func (t *indexTable) Unlink(e *indexEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unlink(e)
}

// Position returns e's current (parent-first-cluster, slot); callers
// must not mutate the returned value's meaning without going through
// Rename/Unlink.
func (e *indexEntry) Position() (parentFirstCluster uint32, slot int, unlinked bool) {
	e.t.mu.Lock()
	defer e.t.mu.Unlock()
	return e.pos.parentFirstCluster, e.pos.slot, e.pos == sentinelPosition
}

// Index returns e's stable id.
func (e *indexEntry) Index() uint32 { return e.index }
