// Package blockcache implements a per-device buffer cache, the libblock
// analogue: bounded occupancy, write-through/write-back put semantics,
// toxic-block latching on I/O error, and a fixed cache→block→comm-area
// lock order.
package blockcache

import (
	"sync"

	"github.com/marmos91/vfskit/internal/logger"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// Mode selects put() semantics for dirty blocks.
type Mode int

const (
	// ModeWriteBack defers syncing a dirty block to eviction or Fini.
	ModeWriteBack Mode = iota
	// ModeWriteThrough syncs a dirty block synchronously on every Put.
	ModeWriteThrough
)

// ParseMode implements the mount-option convention: "wtcache" selects
// write-through, anything else selects write-back.
func ParseMode(opt string) Mode {
	if opt == "wtcache" {
		return ModeWriteThrough
	}
	return ModeWriteBack
}

// GetFlags modify Device.Get.
type GetFlags uint8

const (
	// FlagNoRead skips the initial read on a cache miss; the caller takes
	// full responsibility for the buffer's contents (used when a block is
	// about to be completely overwritten).
	FlagNoRead GetFlags = 1 << iota
)

// Default low/high watermarks (10 and 20 blocks). These are deliberately
// small and meant as configuration, not law — Device.CacheInit accepts
// overrides.
const (
	DefaultLowWatermark  = 10
	DefaultHighWatermark = 20
)

// Device wraps a blockdev.Device with a cache of fixed-size logical
// blocks. A Device must be bound with Init and then switched into caching
// mode with CacheInit before Get/Put are usable; ReadDirect/WriteDirect
// work immediately after Init.
type Device struct {
	dev blockdev.Device

	commMu sync.Mutex // serializes all I/O to dev — the comm-area lock

	lbSize    uint32 // logical (cache) block size
	physRatio uint32 // lbSize / dev.BlockSize(), always >= 1

	cacheMu sync.Mutex
	enabled bool
	blocks  map[uint64]*Block
	freeH   *Block
	freeT   *Block
	cached  int
	low     int
	high    int
	mode    Mode

	bbMu sync.Mutex
	bb   *Block
}

// Init binds a Device to an already-open blockdev.Device. It is the
// counterpart of libblock's block_init: no caching occurs until
// CacheInit is also called.
func Init(dev blockdev.Device) *Device {
	return &Device{dev: dev, lbSize: dev.BlockSize(), physRatio: 1}
}

// CacheInit turns on caching with the given logical block size (a
// multiple of the underlying device's physical block size), block-count
// budget expressed as low/high watermarks, and dirty-write policy.
func (d *Device) CacheInit(lbSize uint32, low, high int, mode Mode) error {
	if lbSize == 0 || lbSize%d.dev.BlockSize() != 0 {
		return newError(ErrBadArgument, "logical block size must be a nonzero multiple of the device block size")
	}
	if low <= 0 || high < low {
		return newError(ErrBadArgument, "invalid watermarks")
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.lbSize = lbSize
	d.physRatio = lbSize / d.dev.BlockSize()
	d.blocks = make(map[uint64]*Block)
	d.low, d.high, d.mode = low, high, mode
	d.enabled = true
	return nil
}

// CacheFini flushes every dirty block and disables caching.
func (d *Device) CacheFini() error {
	d.cacheMu.Lock()
	if !d.enabled {
		d.cacheMu.Unlock()
		return nil
	}
	blocks := make([]*Block, 0, len(d.blocks))
	for _, b := range d.blocks {
		blocks = append(blocks, b)
	}
	d.cacheMu.Unlock()

	var firstErr error
	for _, b := range blocks {
		b.mu.Lock()
		dirty := b.dirty
		b.mu.Unlock()
		if !dirty {
			continue
		}
		if err := d.syncBlock(b); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	d.cacheMu.Lock()
	d.enabled = false
	d.blocks = nil
	d.freeH, d.freeT, d.cached = nil, nil, 0
	d.cacheMu.Unlock()
	return firstErr
}

// Fini flushes the cache (if enabled) and closes the underlying device.
func (d *Device) Fini() error {
	if err := d.CacheFini(); err != nil {
		logger.Warn("blockcache: fini sync error, closing device anyway", logger.Err(err))
	}
	return d.dev.Close()
}

// BlockSize returns the cache's logical block size.
func (d *Device) BlockSize() uint32 { return d.lbSize }

// NumBlocks returns the device's extent expressed in logical blocks.
func (d *Device) NumBlocks() uint64 {
	return d.dev.NumBlocks() / uint64(d.physRatio)
}

func (d *Device) toPhysical(lba uint64) uint64 {
	return lba * uint64(d.physRatio)
}

func (d *Device) readPhysical(pa uint64, buf []byte) error {
	d.commMu.Lock()
	defer d.commMu.Unlock()
	return d.dev.ReadBlocks(pa, d.physRatio, buf)
}

func (d *Device) writePhysical(pa uint64, buf []byte) error {
	d.commMu.Lock()
	defer d.commMu.Unlock()
	return d.dev.WriteBlocks(pa, d.physRatio, buf)
}

func (d *Device) syncBlock(b *Block) error {
	b.contentsMu.RLock()
	err := d.writePhysical(b.pa, b.data)
	b.contentsMu.RUnlock()
	return err
}

// removeFromFreeListLocked and appendFreeListLocked manipulate the
// doubly-linked free list. Callers must hold cacheMu.
func (d *Device) removeFromFreeListLocked(b *Block) {
	if b.flPrev != nil {
		b.flPrev.flNext = b.flNext
	} else if d.freeH == b {
		d.freeH = b.flNext
	}
	if b.flNext != nil {
		b.flNext.flPrev = b.flPrev
	} else if d.freeT == b {
		d.freeT = b.flPrev
	}
	b.flPrev, b.flNext = nil, nil
}

func (d *Device) appendFreeListLocked(b *Block) {
	b.flPrev, b.flNext = d.freeT, nil
	if d.freeT != nil {
		d.freeT.flNext = b
	} else {
		d.freeH = b
	}
	d.freeT = b
}
