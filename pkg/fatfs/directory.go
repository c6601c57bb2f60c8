package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/marmos91/vfskit/pkg/blockcache"
)

// slotsPerBlock is the number of 32-byte entries in one logical (sector
// sized) cache block.
func (v *Volume) slotsPerBlock() uint32 {
	return uint32(v.boot.BytesPerSector) / DentrySize
}

// maxSlots returns the directory's current capacity in 32-byte slots:
// RootEntryMax for the FAT12/16 fixed root, or the cluster chain's
// current length otherwise (directories grow by one cluster at a time
// as entries are added, see growDirectory).
func (v *Volume) maxSlots(n *Node) (uint32, error) {
	if n.fixedRoot {
		return uint32(v.boot.RootEntryMax), nil
	}
	chain, err := v.ClusterWalk(n.FirstCluster(), 1<<20)
	if err != nil {
		return 0, err
	}
	return uint32(len(chain)) * uint32(v.boot.SectorsPerCluster) * v.slotsPerBlock(), nil
}

// directoryIterate walks every slot of n's directory contents, invoking
// fn for each, until fn returns stop=true, the end-of-directory sentinel
// is seen, or capacity is exhausted. It does not grow the directory.
func (v *Volume) directoryIterate(n *Node, fn func(slot int, raw rawDentry) (stop bool, err error)) error {
	capacity, err := v.maxSlots(n)
	if err != nil {
		return err
	}
	spb := v.slotsPerBlock()
	for slot := uint32(0); slot < capacity; slot++ {
		bn := slot / spb
		within := (slot % spb) * DentrySize

		blk, err := v.blockAt(n, bn)
		if err != nil {
			return err
		}
		blk.RLock()
		raw := classifyDentry(blk.Data()[within : within+DentrySize])
		blk.RUnlock()
		_ = v.dev.Put(blk)

		if raw.kind == dentryKindEnd {
			return nil
		}
		stop, err := fn(int(slot), raw)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

// joinedEntry is one logical directory entry with its LFN (if any)
// already reconstructed, and the slot range it occupies on disk
// (shortSlot is the short-name slot; firstLFNSlot..shortSlot-1, if any,
// are its LFN fragments in on-disk, low-to-high order).
type joinedEntry struct {
	name         string
	short        rawDentry
	shortSlot    int
	firstLFNSlot int // == shortSlot if there is no LFN
}

// directoryEntries reconstructs every valid (non-volume-label) logical
// entry in n, joining LFN fragment runs with their short-name slot and
// verifying the run's checksum. A run whose checksum doesn't match the
// eventual short name slot is abandoned (the short name is still
// reported, just without its long name).
func (v *Volume) directoryEntries(n *Node) ([]joinedEntry, error) {
	var out []joinedEntry
	var pending []rawDentry // collected back-to-front (LAST first)

	err := v.directoryIterate(n, func(slot int, raw rawDentry) (bool, error) {
		switch raw.kind {
		case dentryKindLFN:
			pending = append(pending, raw)
			return false, nil
		case dentryKindVolumeLabel, dentryKindErased:
			pending = pending[:0]
			return false, nil
		case dentryKindShortName:
			je := joinedEntry{short: raw, shortSlot: slot, firstLFNSlot: slot}
			if name, ok := reconstructLFN(pending, raw); ok {
				je.name = name
				je.firstLFNSlot = slot - len(pending)
			} else {
				je.name = fromRawShortName(raw.nameRaw)
			}
			pending = pending[:0]
			out = append(out, je)
			return false, nil
		}
		return false, nil
	})
	return out, err
}

// reconstructLFN validates and joins a run of LFN slots (collected in
// on-disk order, i.e. physically-first/highest-order first) against the
// short-name slot that terminates them.
func reconstructLFN(pending []rawDentry, short rawDentry) (string, bool) {
	if len(pending) == 0 {
		return "", false
	}
	checksum := shortNameChecksum(short.nameRaw)
	if !pending[0].lfnLast {
		return "", false
	}
	expectedOrder := byte(len(pending))
	for _, p := range pending {
		if p.lfnChecksum != checksum || p.lfnOrder != expectedOrder {
			return "", false
		}
		expectedOrder--
	}
	if expectedOrder != 0 {
		return "", false
	}
	// pending is physically-first-to-last, i.e. highest order to order 1;
	// the name is assembled order 1 first, so walk pending in reverse.
	var units []uint16
	for i := len(pending) - 1; i >= 0; i-- {
		for _, u := range pending[i].lfnChars {
			if u == 0x0000 || u == 0xFFFF {
				goto done
			}
			units = append(units, u)
		}
	}
done:
	name, err := decodeLongName(units)
	if err != nil {
		return "", false
	}
	return name, true
}

// match opens parent's directory and compares each reconstructed entry
// name case-insensitively against name, instantiating (or reusing, via
// the by-position index) a node for the hit.
func (v *Volume) match(parent *Node, name string) (*Node, error) {
	entries, err := v.directoryEntries(parent)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.name, name) {
			return v.instantiateMatch(parent, e)
		}
	}
	return nil, newPathError(ErrNotFound, name, "no such entry")
}

func (v *Volume) instantiateMatch(parent *Node, e joinedEntry) (*Node, error) {
	parentFC := parent.FirstCluster()
	if parent.fixedRoot {
		parentFC = ROOTPAR
	}

	if entry, ok := v.idx.LookupPosition(parentFC, e.shortSlot); ok {
		n, err := v.nodeGet(entry, kindOf(e.short), e.short.size, e.short.firstCluster())
		if err != nil {
			v.idx.Unref(entry)
			return nil, err
		}
		return n, nil
	}

	entry := v.idx.Create(parentFC, e.shortSlot)
	return v.nodeGet(entry, kindOf(e.short), e.short.size, e.short.firstCluster())
}

func kindOf(raw rawDentry) Kind {
	if raw.isDirectory() {
		return KindDirectory
	}
	return KindFile
}

// hasChildren scans parent's directory, stopping at the first valid
// short-name entry (or the end sentinel, whichever comes first) —
// enough to answer "is this directory empty" without reconstructing any
// LFN.
func (v *Volume) hasChildren(parent *Node) (bool, error) {
	found := false
	err := v.directoryIterate(parent, func(slot int, raw rawDentry) (bool, error) {
		if raw.kind == dentryKindShortName && raw.nameRaw != dotName && raw.nameRaw != dotDotName {
			found = true
			return true, nil
		}
		return false, nil
	})
	return found, err
}

var dotName = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
var dotDotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// findFreeRun scans for a contiguous run of need free/erased/end slots,
// growing a non-fixed directory by one cluster at a time when no run is
// found in the existing capacity.
func (v *Volume) findFreeRun(dir *Node, need int) (int, error) {
	capacity, err := v.maxSlots(dir)
	if err != nil {
		return 0, err
	}
	spb := v.slotsPerBlock()
	run := 0
	start := -1
	for slot := uint32(0); slot < capacity; slot++ {
		bn := slot / spb
		within := (slot % spb) * DentrySize
		blk, err := v.blockAt(dir, bn)
		if err != nil {
			return 0, err
		}
		blk.RLock()
		raw := classifyDentry(blk.Data()[within : within+DentrySize])
		blk.RUnlock()
		_ = v.dev.Put(blk)

		if raw.kind == dentryKindEnd || raw.kind == dentryKindErased {
			if run == 0 {
				start = int(slot)
			}
			run++
			if run >= need {
				return start, nil
			}
			continue
		}
		run = 0
		start = -1
	}

	if dir.fixedRoot {
		return 0, newError(ErrNoSpace, "root directory is full")
	}
	if err := v.growDirectory(dir); err != nil {
		return 0, err
	}
	if start < 0 {
		start = int(capacity)
	}
	if uint32(start)+uint32(need) > capacity+uint32(v.boot.SectorsPerCluster)*spb {
		// Growth only adds one cluster's worth of slots; if that still
		// isn't enough (a pathologically long name), recurse.
		return v.findFreeRun(dir, need)
	}
	return start, nil
}

// growDirectory appends one freshly allocated, zero-filled cluster to
// dir's chain, so the new area reads as an immediate end-of-directory
// sentinel until entries are written into it.
func (v *Volume) growDirectory(dir *Node) error {
	clusters, err := v.AllocClusters(1)
	if err != nil {
		return err
	}
	cl := clusters[0]

	zero := make([]byte, v.boot.BytesPerCluster())
	sector := v.boot.ClusterToSector(cl)
	spc := uint32(v.boot.SectorsPerCluster)
	for i := uint32(0); i < spc; i++ {
		blk, err := v.dev.Get(uint64(sector+i), blockcache.FlagNoRead)
		if err != nil {
			return err
		}
		blk.Lock()
		copy(blk.Data(), zero[i*uint32(v.boot.BytesPerSector):])
		blk.MarkDirty()
		blk.Unlock()
		if err := v.dev.Put(blk); err != nil {
			return err
		}
	}

	return v.AppendClusters(dir, cl, cl)
}

// writeEntrySlot overwrites directory slot idx of dir with raw bytes.
func (v *Volume) writeEntrySlot(dir *Node, idx int, raw []byte) error {
	spb := v.slotsPerBlock()
	bn := uint32(idx) / spb
	within := (uint32(idx) % spb) * DentrySize

	blk, err := v.blockAt(dir, bn)
	if err != nil {
		return err
	}
	blk.Lock()
	copy(blk.Data()[within:within+DentrySize], raw)
	blk.MarkDirty()
	blk.Unlock()
	return v.dev.Put(blk)
}

// link creates a new directory entry named name in parent, pointing at a
// freshly allocated index for a node of the given kind. Hard links are
// unsupported (a child's lnkcnt must be 0 before linking), so link
// always creates a brand-new object rather than attaching an existing
// one to a second name.
func (v *Volume) link(parent *Node, name string, kind Kind) (*Node, error) {
	attr := byte(0)
	if kind == KindDirectory {
		attr = AttrSubdir
	}

	var firstCluster uint32
	if kind == KindDirectory {
		clusters, err := v.AllocClusters(1)
		if err != nil {
			return nil, err
		}
		firstCluster = clusters[0]
	}

	shortSlot, _, err := v.writeShortAndLFN(parent, name, attr, firstCluster, 0)
	if err != nil {
		return nil, err
	}

	parentFC := parent.FirstCluster()
	if parent.fixedRoot {
		parentFC = ROOTPAR
	}
	entry := v.idx.Create(parentFC, shortSlot)
	n, err := v.nodeGet(entry, kind, 0, firstCluster)
	if err != nil {
		v.idx.Unref(entry)
		return nil, err
	}

	if kind == KindDirectory {
		if err := v.plantDotEntries(n, parent); err != nil {
			return n, err
		}
	}
	return n, nil
}

// plantDotEntries writes "." and ".." into a freshly created
// subdirectory's first cluster.
func (v *Volume) plantDotEntries(child, parent *Node) error {
	parentFC := parent.FirstCluster()
	if parent.fixedRoot {
		parentFC = ROOTPAR
	}
	buf := make([]byte, DentrySize)
	encodeShortDentry(buf, dotName, AttrSubdir, child.FirstCluster(), 0)
	if err := v.writeEntrySlot(child, 0, buf); err != nil {
		return err
	}
	buf2 := make([]byte, DentrySize)
	dotDotFirst := parentFC
	if dotDotFirst == ROOTPAR {
		dotDotFirst = 0
	}
	encodeShortDentry(buf2, dotDotName, AttrSubdir, dotDotFirst, 0)
	return v.writeEntrySlot(child, 1, buf2)
}

// findEntry locates the logical directory entry named name in parent,
// reconstructing its LFN if present.
func (v *Volume) findEntry(parent *Node, name string) (joinedEntry, error) {
	entries, err := v.directoryEntries(parent)
	if err != nil {
		return joinedEntry{}, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.name, name) {
			return e, nil
		}
	}
	return joinedEntry{}, newPathError(ErrNotFound, name, "no such entry")
}

// eraseEntry blanks e's short-name slot and any LFN fragments preceding
// it (back to the LAST flag) without touching the index table, so
// callers can choose between unlink's destroy semantics and rename's
// reposition semantics.
func (v *Volume) eraseEntry(parent *Node, e joinedEntry) error {
	erased := make([]byte, DentrySize)
	erased[0] = dentryErased
	if err := v.writeEntrySlot(parent, e.shortSlot, erased); err != nil {
		return err
	}
	for slot := e.shortSlot - 1; slot >= e.firstLFNSlot; slot-- {
		if err := v.writeEntrySlot(parent, slot, erased); err != nil {
			return err
		}
	}
	return nil
}

// unlink erases the short-name slot (and any LFN fragments preceding it,
// back to the LAST flag) of the logical entry named name in parent, and
// clears the matched node's index position.
func (v *Volume) unlink(parent *Node, name string) error {
	e, err := v.findEntry(parent, name)
	if err != nil {
		return err
	}
	if err := v.eraseEntry(parent, e); err != nil {
		return err
	}

	parentFC := parent.FirstCluster()
	if parent.fixedRoot {
		parentFC = ROOTPAR
	}
	if entry, ok := v.idx.LookupPosition(parentFC, e.shortSlot); ok {
		v.idx.Unlink(entry)
		v.idx.Unref(entry) // drop the lookup's own reference
	}
	return nil
}

// writeShortAndLFN synthesizes (if needed) a short name for longName,
// finds a free run of (LFN-count + 1) slots in dir, and writes the
// short-name slot plus any preceding LFN fragments, returning the slot
// the short-name entry landed at. Shared by link (firstCluster/size
// zero) and rename (firstCluster/size carried over from the moved
// object).
func (v *Volume) writeShortAndLFN(dir *Node, longName string, attr byte, firstCluster, size uint32) (shortSlot, firstSlot int, err error) {
	var shortRaw [11]byte
	var lfnUnits []uint16
	needLFN := !isValidShortName(strings.ToUpper(longName))

	if !needLFN {
		shortRaw = toRawShortName(strings.ToUpper(longName))
	} else {
		units, err := encodeLongName(longName)
		if err != nil {
			return 0, 0, err
		}
		lfnUnits = units
		raw, err := synthesizeShortName(longName, func(candidate [11]byte) bool {
			exists := false
			_ = v.directoryIterate(dir, func(_ int, d rawDentry) (bool, error) {
				if d.kind == dentryKindShortName && d.nameRaw == candidate {
					exists = true
					return true, nil
				}
				return false, nil
			})
			return exists
		})
		if err != nil {
			return 0, 0, err
		}
		shortRaw = raw
	}

	lfnSlots := 0
	if needLFN {
		lfnSlots = lfnSlotCount(lfnUnits)
	}
	start, err := v.findFreeRun(dir, lfnSlots+1)
	if err != nil {
		return 0, 0, err
	}
	shortSlot = start + lfnSlots

	buf := make([]byte, DentrySize)
	encodeShortDentry(buf, shortRaw, attr, firstCluster, size)
	if err := v.writeEntrySlot(dir, shortSlot, buf); err != nil {
		return 0, 0, err
	}

	if needLFN {
		checksum := shortNameChecksum(shortRaw)
		for i := 0; i < lfnSlots; i++ {
			order := byte(i + 1)
			last := i == lfnSlots-1
			chars := lfnCharsFor(lfnUnits, i)
			slotBuf := make([]byte, DentrySize)
			encodeLFNSlot(slotBuf, order, last, checksum, chars)
			if err := v.writeEntrySlot(dir, start+i, slotBuf); err != nil {
				return 0, 0, err
			}
		}
	}
	return shortSlot, start, nil
}

// rename moves the logical entry named oldName in oldParent to newName
// under newParent, preserving the moved object's stable FAT index
// (rename rewrites position, never the index) and its existing cluster
// chain — no data is copied and no clusters are allocated or freed. The
// caller must hold no other reference to the destination name; rename
// refuses if one already exists.
func (v *Volume) rename(oldParent *Node, oldName string, newParent *Node, newName string) (*Node, error) {
	if _, err := v.findEntry(newParent, newName); err == nil {
		return nil, newPathError(ErrAlreadyExists, newName, "entry already exists")
	}

	oldEntry, err := v.findEntry(oldParent, oldName)
	if err != nil {
		return nil, err
	}

	oldParentFC := oldParent.FirstCluster()
	if oldParent.fixedRoot {
		oldParentFC = ROOTPAR
	}
	idxEntry, ok := v.idx.LookupPosition(oldParentFC, oldEntry.shortSlot)
	if !ok {
		return nil, newPathError(ErrNotFound, oldName, "no such entry")
	}

	attr := byte(0)
	if oldEntry.short.isDirectory() {
		attr = AttrSubdir
	}
	firstCluster, size := oldEntry.short.firstCluster(), oldEntry.short.size

	newSlot, newFirstSlot, err := v.writeShortAndLFN(newParent, newName, attr, firstCluster, size)
	if err != nil {
		v.idx.Unref(idxEntry)
		return nil, err
	}

	if err := v.eraseEntry(oldParent, oldEntry); err != nil {
		_ = v.eraseEntry(newParent, joinedEntry{shortSlot: newSlot, firstLFNSlot: newFirstSlot})
		v.idx.Unref(idxEntry)
		return nil, err
	}

	newParentFC := newParent.FirstCluster()
	if newParent.fixedRoot {
		newParentFC = ROOTPAR
	}
	v.idx.Rename(idxEntry, newParentFC, newSlot)

	n, err := v.nodeGet(idxEntry, kindOf(oldEntry.short), size, firstCluster)
	if err != nil {
		return nil, err
	}
	if attr == AttrSubdir {
		if err := v.rewriteDotDot(n, newParentFC); err != nil {
			return n, err
		}
	}
	return n, nil
}

// rewriteDotDot updates a subdirectory's ".." entry (always slot 1) to
// point at its new parent's first cluster after a rename, substituting 0
// when the new parent is the fixed root (which has no cluster of its
// own, the same sentinel plantDotEntries uses at creation time).
func (v *Volume) rewriteDotDot(dir *Node, newParentFC uint32) error {
	first := newParentFC
	if first == ROOTPAR {
		first = 0
	}
	buf := make([]byte, DentrySize)
	encodeShortDentry(buf, dotDotName, AttrSubdir, first, 0)
	return v.writeEntrySlot(dir, 1, buf)
}

// writeDentryFields updates the firstc/size/subdir-bit fields of the
// short-name slot at (parentFirstCluster, slot), used by node sync.
func (v *Volume) writeDentryFields(parentFirstCluster uint32, slot int, firstCluster, size uint32, isDir bool) error {
	dir, release, err := v.directoryNodeFor(parentFirstCluster)
	if err != nil {
		return err
	}
	defer release()

	spb := v.slotsPerBlock()
	bn := uint32(slot) / spb
	within := (uint32(slot) % spb) * DentrySize
	blk, err := v.blockAt(dir, bn)
	if err != nil {
		return err
	}
	blk.Lock()
	attr := blk.Data()[within+11]
	if isDir {
		attr |= AttrSubdir
	} else {
		attr &^= AttrSubdir
	}
	blk.Data()[within+11] = attr
	binary.LittleEndian.PutUint16(blk.Data()[within+20:within+22], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(blk.Data()[within+26:within+28], uint16(firstCluster))
	binary.LittleEndian.PutUint32(blk.Data()[within+28:within+32], size)
	blk.MarkDirty()
	blk.Unlock()
	return v.dev.Put(blk)
}

// directoryNodeFor resolves a parent-first-cluster value (possibly the
// ROOTPAR sentinel) back to something blockAt can address, returning a
// release func the caller must call exactly once when done.
//
// For the true root (ROOTPAR) this goes through the regular node cache
// (nodeGet/putNode) since index 0 is a real, lifecycle-managed node. For
// any other directory, the node cache is keyed by stable index, not
// first cluster, so a throwaway descriptor is built instead — it is
// never registered with the cache and must NOT go through putNode,
// which would misinterpret its zero-valued index entry as an unlinked,
// reference-free node and destroy the directory's cluster chain.
func (v *Volume) directoryNodeFor(parentFirstCluster uint32) (*Node, func(), error) {
	if parentFirstCluster == ROOTPAR {
		n, err := v.Root()
		if err != nil {
			return nil, func() {}, err
		}
		return n, func() { _ = v.putNode(n) }, nil
	}
	n := &Node{
		v:    v,
		idx:  &indexEntry{index: ^uint32(0), pos: sentinelPosition},
		kind: KindDirectory,
	}
	n.firstCluster = parentFirstCluster
	return n, func() {}, nil
}
