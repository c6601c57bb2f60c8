package blockcache

import "github.com/marmos91/vfskit/internal/logger"

// Get implements the get(lba, flags) algorithm: hash hit bumps the
// refcount (unlatching from the free list if it was idle); a toxic block
// fails without I/O; a miss grows the cache below the low watermark or
// recycles the least-recently-put block, syncing it outside the cache
// lock if dirty and retrying the whole call if that sync fails.
func (d *Device) Get(lba uint64, flags GetFlags) (*Block, error) {
	for {
		d.cacheMu.Lock()
		if !d.enabled {
			d.cacheMu.Unlock()
			return nil, newError(ErrBadArgument, "cache not initialized")
		}

		if b, ok := d.blocks[lba]; ok {
			b.mu.Lock()
			if b.toxic {
				b.mu.Unlock()
				d.cacheMu.Unlock()
				return nil, newError(ErrIOError, "block is toxic")
			}
			if b.refcnt == 0 {
				d.removeFromFreeListLocked(b)
			}
			b.refcnt++
			b.mu.Unlock()
			d.cacheMu.Unlock()
			return b, nil
		}

		// Miss. Either grow (below low watermark) or recycle from the free
		// list; if neither is available the cache is full.
		var victim *Block
		switch {
		case d.freeH != nil:
			victim = d.freeH
			d.removeFromFreeListLocked(victim)
			delete(d.blocks, victim.lba)
			d.cached--
		case d.cached < d.low:
			// grow: allocate a fresh buffer, no recycling needed.
		default:
			d.cacheMu.Unlock()
			return nil, newError(ErrOutOfMemory, "block cache exhausted")
		}
		d.cacheMu.Unlock()

		if victim != nil {
			victim.mu.Lock()
			dirty := victim.dirty
			victim.mu.Unlock()

			if dirty {
				if err := d.syncBlock(victim); err != nil {
					// Abandon the sync failure: return the buffer to the tail
					// of the free list under its original identity and retry
					// the whole Get from scratch rather than livelock here.
					d.cacheMu.Lock()
					victim.mu.Lock()
					victim.refcnt = 0
					victim.mu.Unlock()
					d.blocks[victim.lba] = victim
					d.cached++
					d.appendFreeListLocked(victim)
					d.cacheMu.Unlock()
					continue
				}
				victim.mu.Lock()
				victim.dirty = false
				victim.mu.Unlock()
			}

			// Re-check: did another requester instantiate our target lba
			// while we synced outside the lock? If so, abandon the recycled
			// buffer (it is simply dropped — the Go GC reclaims it) and
			// retry to pick up the winner's block.
			d.cacheMu.Lock()
			if _, ok := d.blocks[lba]; ok {
				d.cacheMu.Unlock()
				continue
			}
		} else {
			victim = newBlock(lba, d.toPhysical(lba), d.lbSize)
			d.cacheMu.Lock()
			if _, ok := d.blocks[lba]; ok {
				d.cacheMu.Unlock()
				continue
			}
		}

		victim.lba = lba
		victim.pa = d.toPhysical(lba)
		victim.refcnt = 1
		victim.dirty = false
		victim.toxic = false
		d.blocks[lba] = victim
		d.cached++
		d.cacheMu.Unlock()

		if flags&FlagNoRead != 0 {
			return victim, nil
		}

		victim.contentsMu.Lock()
		err := d.readPhysical(victim.pa, victim.data)
		victim.contentsMu.Unlock()
		if err != nil {
			victim.mu.Lock()
			victim.toxic = true
			victim.mu.Unlock()
			return nil, newError(ErrIOError, err.Error())
		}
		return victim, nil
	}
}

// Put implements the put() algorithm: snapshot occupancy and
// mode, sync outside the lock if warranted, then retake locks and
// decrement the refcount, freeing the buffer (rather than caching it) if
// occupancy is over the high watermark or the sync failed. If a
// concurrent writer re-dirtied the block between the snapshot and the
// retake, the decrement is undone and the whole call restarts.
func (d *Device) Put(b *Block) error {
	for {
		d.cacheMu.Lock()
		if !d.enabled {
			d.cacheMu.Unlock()
			return newError(ErrBadArgument, "cache not initialized")
		}
		cached, mode := d.cached, d.mode
		d.cacheMu.Unlock()

		b.mu.Lock()
		dirtyBefore := b.dirty
		b.mu.Unlock()

		needSync := dirtyBefore && (cached > d.high || mode == ModeWriteThrough)
		var syncErr error
		if needSync {
			syncErr = d.syncBlock(b)
		}

		d.cacheMu.Lock()
		b.mu.Lock()

		if b.dirty != dirtyBefore && !(needSync && syncErr == nil) {
			// Dirty state changed underneath us and our sync decision is
			// stale; restart rather than silently losing a write.
			b.mu.Unlock()
			d.cacheMu.Unlock()
			continue
		}
		if needSync && syncErr == nil {
			b.dirty = false
		}

		b.refcnt--
		if b.refcnt == 0 {
			if cached > d.high || syncErr != nil {
				delete(d.blocks, b.lba)
				d.cached--
				b.mu.Unlock()
				d.cacheMu.Unlock()
				logger.Debug("blockcache: evicting block over high watermark",
					logger.Operation("PUT"), logger.Evicted(true),
					logger.CacheSize(cached), logger.CacheCapacity(d.high))
				if syncErr != nil {
					return newError(ErrIOError, syncErr.Error())
				}
				return nil
			}
			b.mu.Unlock()
			d.appendFreeListLocked(b)
			d.cacheMu.Unlock()
			return nil
		}

		b.mu.Unlock()
		d.cacheMu.Unlock()
		if syncErr != nil {
			return newError(ErrIOError, syncErr.Error())
		}
		return nil
	}
}

// Stats reports cache occupancy, mainly for the testable-property
// |{refcnt>0}| + |freelist| == cached invariant.
type Stats struct {
	Cached       int
	FreeListLen  int
	LowWatermark int
	HighWatermark int
}

func (d *Device) Stats() Stats {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	n := 0
	for b := d.freeH; b != nil; b = b.flNext {
		n++
	}
	return Stats{Cached: d.cached, FreeListLen: n, LowWatermark: d.low, HighWatermark: d.high}
}
