package fatfs

import (
	"encoding/binary"

	"github.com/marmos91/vfskit/internal/logger"
)

// get12/put12 read/write a 12-bit packed entry directly out of an
// in-memory FAT buffer (used by mkfat, which builds a whole FAT copy in
// memory before writing it, and by CheckFATSignatures).
func get12(buf []byte, cluster uint32) uint32 {
	off := cluster + cluster/2
	if cluster%2 == 0 {
		return uint32(buf[off]) | (uint32(buf[off+1]&0x0F) << 8)
	}
	return (uint32(buf[off]) >> 4) | (uint32(buf[off+1]) << 4)
}

func put12(buf []byte, cluster, val uint32) {
	off := cluster + cluster/2
	if cluster%2 == 0 {
		buf[off] = byte(val)
		buf[off+1] = (buf[off+1] & 0xF0) | byte(val>>8)
	} else {
		buf[off] = (buf[off] & 0x0F) | byte(val<<4)
		buf[off+1] = byte(val >> 4)
	}
}

// fatEntryLocation returns the sector index (relative to the start of FAT
// copy fatIndex) and the byte offset within it for cluster, along with
// whether a FAT12 entry straddles into the following sector.
func (v *Volume) fatEntryLocation(fatIndex int, cluster uint32) (sector uint32, byteOff uint32, straddles bool) {
	bps := uint32(v.boot.BytesPerSector)
	var bitOff uint32
	switch v.boot.Variant {
	case FAT12:
		bitOff = cluster + cluster/2
	case FAT16:
		bitOff = cluster * 2
	case FAT32:
		bitOff = cluster * 4
	}
	fatStart := v.boot.FirstFATSector() + uint32(fatIndex)*v.boot.SectorsPerFAT
	sector = fatStart + bitOff/bps
	byteOff = bitOff % bps
	if v.boot.Variant == FAT12 && byteOff == bps-1 {
		straddles = true
	}
	return
}

// GetCluster reads the FAT entry for cluster from FAT copy fatIndex,
// issuing one or two block fetches depending on whether a FAT12 entry
// straddles a sector boundary.
func (v *Volume) GetCluster(fatIndex int, cluster uint32) (uint32, error) {
	if cluster > v.boot.ClusterCount()+1 {
		return 0, newError(ErrLimitExceeded, "cluster %d out of range", cluster)
	}
	sector, byteOff, straddles := v.fatEntryLocation(fatIndex, cluster)

	b1, err := v.dev.Get(uint64(sector), 0)
	if err != nil {
		return 0, wrapCacheErr(err)
	}
	defer v.dev.Put(b1) //nolint:errcheck // read-only access, put error non-fatal here

	b1.RLock()
	lo := b1.Data()[byteOff]
	var hi byte
	haveHi := false
	if !straddles && int(byteOff)+1 < len(b1.Data()) {
		hi = b1.Data()[byteOff+1]
		haveHi = true
	}
	b1.RUnlock()

	if straddles {
		b2, err := v.dev.Get(uint64(sector+1), 0)
		if err != nil {
			return 0, wrapCacheErr(err)
		}
		b2.RLock()
		hi = b2.Data()[0]
		b2.RUnlock()
		_ = v.dev.Put(b2)
		haveHi = true
	}
	if !haveHi {
		return 0, newError(ErrIOError, "FAT entry read fell off the end of the cached sector")
	}

	switch v.boot.Variant {
	case FAT12:
		if cluster%2 == 0 {
			return uint32(lo) | (uint32(hi&0x0F) << 8), nil
		}
		return (uint32(lo) >> 4) | (uint32(hi) << 4), nil
	case FAT16:
		return uint32(binary.LittleEndian.Uint16([]byte{lo, hi})), nil
	default: // FAT32
		// 32-bit reads never straddle a 12-bit boundary; re-fetch the full
		// 4 bytes directly instead of reusing lo/hi.
		return v.getCluster32(sector, byteOff)
	}
}

func (v *Volume) getCluster32(sector, byteOff uint32) (uint32, error) {
	b, err := v.dev.Get(uint64(sector), 0)
	if err != nil {
		return 0, wrapCacheErr(err)
	}
	defer v.dev.Put(b) //nolint:errcheck
	b.RLock()
	val := binary.LittleEndian.Uint32(b.Data()[byteOff : byteOff+4])
	b.RUnlock()
	return val & 0x0FFFFFFF, nil
}

// SetCluster writes val into the FAT entry for cluster in FAT copy
// fatIndex, marking the underlying cache block(s) dirty.
func (v *Volume) SetCluster(fatIndex int, cluster, val uint32) error {
	sector, byteOff, straddles := v.fatEntryLocation(fatIndex, cluster)

	b1, err := v.dev.Get(uint64(sector), 0)
	if err != nil {
		return wrapCacheErr(err)
	}

	switch v.boot.Variant {
	case FAT12:
		if !straddles {
			b1.Lock()
			put12InBlock(b1.Data(), byteOff, cluster%2 == 0, val)
			b1.Unlock()
			b1.MarkDirty()
			return v.dev.Put(b1)
		}
		b2, err := v.dev.Get(uint64(sector+1), 0)
		if err != nil {
			_ = v.dev.Put(b1)
			return wrapCacheErr(err)
		}
		b1.Lock()
		b2.Lock()
		if cluster%2 == 0 {
			b1.Data()[byteOff] = byte(val)
			b2.Data()[0] = (b2.Data()[0] & 0xF0) | byte(val>>8)
		} else {
			b1.Data()[byteOff] = (b1.Data()[byteOff] & 0x0F) | byte(val<<4)
			b2.Data()[0] = byte(val >> 4)
		}
		b2.Unlock()
		b1.Unlock()
		b1.MarkDirty()
		b2.MarkDirty()
		if err := v.dev.Put(b2); err != nil {
			_ = v.dev.Put(b1)
			return err
		}
		return v.dev.Put(b1)
	case FAT16:
		b1.Lock()
		binary.LittleEndian.PutUint16(b1.Data()[byteOff:byteOff+2], uint16(val))
		b1.Unlock()
		b1.MarkDirty()
		return v.dev.Put(b1)
	default: // FAT32, preserve top reserved nibble
		b1.Lock()
		old := binary.LittleEndian.Uint32(b1.Data()[byteOff : byteOff+4])
		binary.LittleEndian.PutUint32(b1.Data()[byteOff:byteOff+4], (val&0x0FFFFFFF)|(old&0xF0000000))
		b1.Unlock()
		b1.MarkDirty()
		return v.dev.Put(b1)
	}
}

func put12InBlock(buf []byte, byteOff uint32, lowNibbleFirst bool, val uint32) {
	if lowNibbleFirst {
		buf[byteOff] = byte(val)
		buf[byteOff+1] = (buf[byteOff+1] & 0xF0) | byte(val>>8)
	} else {
		buf[byteOff] = (buf[byteOff] & 0x0F) | byte(val<<4)
		buf[byteOff+1] = byte(val >> 4)
	}
}

func wrapCacheErr(err error) error {
	return newError(ErrIOError, "%v", err)
}

// ClusterWalk walks up to maxClusters links starting at firstCluster,
// returning the list of visited clusters (not including an EOC/bad
// marker). A bad-cluster marker encountered mid-chain is an I/O error,
// never a silent end-of-file.
func (v *Volume) ClusterWalk(firstCluster uint32, maxClusters int) ([]uint32, error) {
	var chain []uint32
	cur := firstCluster
	for i := 0; i < maxClusters && cur != 0; i++ {
		if v.boot.Variant.IsBad(cur) {
			return chain, newError(ErrIOError, "bad cluster marker at position %d", i)
		}
		if v.boot.Variant.IsEOC(cur) {
			break
		}
		chain = append(chain, cur)
		next, err := v.GetCluster(0, cur)
		if err != nil {
			return chain, err
		}
		cur = next
	}
	return chain, nil
}

// AllocClusters allocates n free clusters under the volume-wide
// allocation mutex: it scans FAT copy 0 from cluster 2 upward, chaining
// each find to the previous one as it goes (building an orphan chain in
// FAT copy 0 only), then replays the same links into every other FAT
// copy. Any failure during replay resets every tentative FAT0 entry back
// to free and returns no-space; on success all FAT copies are guaranteed
// bit-identical for the newly allocated run.
func (v *Volume) AllocClusters(n int) ([]uint32, error) {
	v.allocMu.Lock()
	defer v.allocMu.Unlock()

	var found []uint32
	var prev uint32
	for c := uint32(2); len(found) < n && c <= v.boot.ClusterCount()+1; c++ {
		val, err := v.GetCluster(0, c)
		if err != nil {
			return nil, err
		}
		if val != ClstRes0 {
			continue
		}
		linkVal := v.boot.Variant.ClusterLast1()
		if prev != 0 {
			if err := v.SetCluster(0, prev, c); err != nil {
				v.rollbackAlloc(found)
				return nil, err
			}
		}
		if err := v.SetCluster(0, c, linkVal); err != nil {
			v.rollbackAlloc(found)
			return nil, err
		}
		found = append(found, c)
		prev = c
	}
	if len(found) < n {
		v.rollbackAlloc(found)
		logger.Warn("fatfs: cluster allocation exhausted volume capacity",
			logger.Operation("ALLOC"), logger.Variant(v.boot.Variant.String()),
			logger.ClusterCount(n), logger.Count(uint32(len(found))))
		return nil, newError(ErrNoSpace, "no space: found %d of %d requested clusters", len(found), n)
	}

	if err := v.replayShadowFATs(found); err != nil {
		v.rollbackAlloc(found)
		return nil, newError(ErrNoSpace, "no space: shadow FAT replay failed: %v", err)
	}
	return found, nil
}

func (v *Volume) rollbackAlloc(found []uint32) {
	for _, c := range found {
		_ = v.SetCluster(0, c, ClstRes0)
	}
}

// replayShadowFATs mirrors the orphan chain just built in FAT copy 0 into
// every additional FAT copy.
func (v *Volume) replayShadowFATs(chain []uint32) error {
	last := v.boot.Variant.ClusterLast1()
	for fi := 1; fi < int(v.boot.FATCount); fi++ {
		for i, c := range chain {
			val := last
			if i+1 < len(chain) {
				val = chain[i+1]
			}
			if err := v.SetCluster(fi, c, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// FreeClusters marks every cluster in chain as free, in every FAT copy.
func (v *Volume) FreeClusters(chain []uint32) error {
	v.allocMu.Lock()
	defer v.allocMu.Unlock()
	for fi := 0; fi < int(v.boot.FATCount); fi++ {
		for _, c := range chain {
			if err := v.SetCluster(fi, c, ClstRes0); err != nil {
				return err
			}
		}
	}
	return nil
}

// AppendClusters links mcl onto the end of node's chain (or becomes the
// chain's start if the node was empty), updating the node's
// cached-last-cluster to lcl, in every FAT copy.
func (v *Volume) AppendClusters(n *Node, mcl, lcl uint32) error {
	n.mu.Lock()
	empty := n.firstCluster == 0
	cached := n.lastcCached
	n.mu.Unlock()

	if empty {
		n.mu.Lock()
		n.firstCluster = mcl
		n.lastcCached = lcl
		n.dirty = true
		n.mu.Unlock()
		return nil
	}

	tail := cached
	if tail == 0 {
		chain, err := v.ClusterWalk(n.firstCluster, 1<<20)
		if err != nil {
			return err
		}
		if len(chain) == 0 {
			return newError(ErrIOError, "non-empty node has no clusters")
		}
		tail = chain[len(chain)-1]
	}

	for fi := 0; fi < int(v.boot.FATCount); fi++ {
		if err := v.SetCluster(fi, tail, mcl); err != nil {
			return err
		}
	}
	n.mu.Lock()
	n.lastcCached = lcl
	n.mu.Unlock()
	return nil
}

// ChopClusters terminates node's chain at lcl in every FAT copy then
// frees every cluster strictly after it; lcl == 0 frees the whole chain
// and resets the node to empty.
func (v *Volume) ChopClusters(n *Node, lcl uint32) error {
	n.mu.Lock()
	first := n.firstCluster
	n.mu.Unlock()

	chain, err := v.ClusterWalk(first, 1<<20)
	if err != nil {
		return err
	}

	if lcl == 0 {
		if err := v.FreeClusters(chain); err != nil {
			return err
		}
		n.mu.Lock()
		n.firstCluster = 0
		n.lastcCached = 0
		n.currcCached = 0
		n.currcIndex = 0
		n.dirty = true
		n.mu.Unlock()
		return nil
	}

	idx := -1
	for i, c := range chain {
		if c == lcl {
			idx = i
			break
		}
	}
	if idx < 0 {
		return newError(ErrBadArgument, "cluster %d is not part of the node's chain", lcl)
	}

	last := v.boot.Variant.ClusterLast1()
	for fi := 0; fi < int(v.boot.FATCount); fi++ {
		if err := v.SetCluster(fi, lcl, last); err != nil {
			return err
		}
	}
	if err := v.FreeClusters(chain[idx+1:]); err != nil {
		return err
	}
	n.mu.Lock()
	n.lastcCached = lcl
	n.dirty = true
	n.mu.Unlock()
	return nil
}
