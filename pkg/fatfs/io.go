package fatfs

// capacityClusters returns how many whole clusters are needed to hold
// size bytes.
func (v *Volume) capacityClusters(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	bpc := v.boot.BytesPerCluster()
	return (size + bpc - 1) / bpc
}

// ensureCapacity grows n's cluster chain, if needed, so it can hold want
// bytes, allocating and appending one cluster at a time (each freshly
// allocated cluster already comes back from AllocClusters as its own
// one-cluster chain, so linking them on is just a sequence of appends).
func (v *Volume) ensureCapacity(n *Node, want uint32) error {
	have := v.capacityClusters(n.Size())
	wantClusters := v.capacityClusters(want)
	if wantClusters <= have {
		return nil
	}
	clusters, err := v.AllocClusters(int(wantClusters - have))
	if err != nil {
		return err
	}
	for _, cl := range clusters {
		if err := v.AppendClusters(n, cl, cl); err != nil {
			return err
		}
	}
	return nil
}

// ioRead copies len(dst) bytes from n starting at byte offset pos into
// dst, one sector at a time.
func (v *Volume) ioRead(n *Node, pos uint64, dst []byte) error {
	bps := uint64(v.boot.BytesPerSector)
	remaining := len(dst)
	cur, off := pos, 0
	for remaining > 0 {
		bn := uint32(cur / bps)
		within := uint32(cur % bps)
		chunk := int(bps) - int(within)
		if chunk > remaining {
			chunk = remaining
		}
		blk, err := v.blockAt(n, bn)
		if err != nil {
			return err
		}
		blk.RLock()
		copy(dst[off:off+chunk], blk.Data()[within:within+uint32(chunk)])
		blk.RUnlock()
		if err := v.dev.Put(blk); err != nil {
			return err
		}
		cur += uint64(chunk)
		off += chunk
		remaining -= chunk
	}
	return nil
}

// ioTransfer writes length bytes into n starting at byte offset pos, one
// sector at a time (read-modify-write, since a write can land on a
// partial sector). src supplies the bytes to write; when src is nil the
// range is zero-filled instead, used both for Truncate-growth and for
// the gap a write past EOF leaves behind.
func (v *Volume) ioTransfer(n *Node, pos uint64, length int, src []byte) error {
	bps := uint64(v.boot.BytesPerSector)
	remaining := length
	cur, off := pos, 0
	for remaining > 0 {
		bn := uint32(cur / bps)
		within := uint32(cur % bps)
		chunk := int(bps) - int(within)
		if chunk > remaining {
			chunk = remaining
		}
		blk, err := v.blockAt(n, bn)
		if err != nil {
			return err
		}
		blk.Lock()
		if src != nil {
			copy(blk.Data()[within:within+uint32(chunk)], src[off:off+chunk])
		} else {
			clear(blk.Data()[within : within+uint32(chunk)])
		}
		blk.MarkDirty()
		blk.Unlock()
		if err := v.dev.Put(blk); err != nil {
			return err
		}
		cur += uint64(chunk)
		off += chunk
		remaining -= chunk
	}
	return nil
}

// Read copies up to len(buf) bytes from n starting at pos, clipped to
// the node's current size, returning the number of bytes actually read
// (0 at or past EOF, not an error).
func (v *Volume) Read(n *Node, pos uint64, buf []byte) (int, error) {
	size := uint64(n.Size())
	if pos >= size || len(buf) == 0 {
		return 0, nil
	}
	if avail := size - pos; uint64(len(buf)) > avail {
		buf = buf[:avail]
	}
	if err := v.ioRead(n, pos, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Write writes buf into n starting at pos, growing the node (allocating
// and appending clusters) as needed. A write starting past the current
// size first zero-fills the gap — the tail of the old last block, then
// the prefix of any newly appended cluster — before the real data is
// written, so a reader can never observe uninitialized disk contents.
func (v *Volume) Write(n *Node, pos uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	oldSize := uint64(n.Size())
	end := pos + uint64(len(buf))
	if end > 0xFFFFFFFF {
		return 0, newError(ErrLimitExceeded, "write would exceed the 32-bit FAT file size limit")
	}

	if err := v.ensureCapacity(n, uint32(end)); err != nil {
		return 0, err
	}
	if pos > oldSize {
		if err := v.ioTransfer(n, oldSize, int(pos-oldSize), nil); err != nil {
			return 0, err
		}
	}
	if err := v.ioTransfer(n, pos, len(buf), buf); err != nil {
		return 0, err
	}

	if end > oldSize {
		n.mu.Lock()
		n.size = uint32(end)
		n.dirty = true
		n.mu.Unlock()
	}
	return len(buf), nil
}

// Truncate sets n's size exactly to size, zero-filling newly exposed
// bytes on growth and freeing now-unreferenced clusters on shrink.
func (v *Volume) Truncate(n *Node, size uint32) error {
	oldSize := n.Size()
	if size == oldSize {
		return nil
	}

	if size > oldSize {
		if err := v.ensureCapacity(n, size); err != nil {
			return err
		}
		if err := v.ioTransfer(n, uint64(oldSize), int(size-oldSize), nil); err != nil {
			return err
		}
		n.mu.Lock()
		n.size = size
		n.dirty = true
		n.mu.Unlock()
		return nil
	}

	n.mu.Lock()
	n.size = size
	n.dirty = true
	n.currcCached = 0
	n.currcIndex = 0
	n.mu.Unlock()

	wantClusters := v.capacityClusters(size)
	if wantClusters == 0 {
		return v.ChopClusters(n, 0)
	}
	chain, err := v.ClusterWalk(n.FirstCluster(), int(wantClusters))
	if err != nil {
		return err
	}
	return v.ChopClusters(n, chain[len(chain)-1])
}
