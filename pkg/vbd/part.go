package vbd

import (
	"sync"
	"sync/atomic"

	"github.com/marmos91/vfskit/pkg/blockcache"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// Partition describes one discovered partition of a disk: its extent on
// the underlying disk and the proxy block device publishing it.
type Partition struct {
	Index    int    // 1-based, renumbered on create/delete
	Name     string // "<disk>p<index>"
	FirstLBA uint64
	NumLBA   uint64
	refcnt   atomic.Int64

	proxy *PartitionDevice
}

// Proxy returns the partition's block device, usable directly as a
// blockdev.Device by anything mounting a filesystem on it (e.g. FAT).
func (p *Partition) Proxy() *PartitionDevice { return p.proxy }

// Ref/Unref implement a per-partition atomic refcount, letting callers
// holding a *Partition (for example from Disk.Partitions) mark it as
// borrowed without holding the disk-wide lock.
func (p *Partition) Ref() { p.refcnt.Add(1) }

// Unref drops a reference; it never deallocates the Partition itself
// (that happens under the disk lock during DeletePartition), it only
// tracks outstanding borrows, which make DeletePartition fail with
// ErrBusy.
func (p *Partition) Unref() { p.refcnt.Add(-1) }

func (p *Partition) refs() int64 { return p.refcnt.Load() }

// PartitionDevice is the address-translating proxy block device:
// read_blocks(ba, cnt) becomes block_read_direct(disk,
// first_lba+ba, cnt) after a range check, serialized against Close by a
// partition-level rw-lock (the writer side of which Close takes to drain
// in-flight I/O).
type PartitionDevice struct {
	disk     *blockcache.Device
	firstLBA uint64
	numLBA   uint64
	blockSz  uint32

	mu     sync.RWMutex
	closed bool
}

func newPartitionDevice(disk *blockcache.Device, firstLBA, numLBA uint64) *PartitionDevice {
	return &PartitionDevice{disk: disk, firstLBA: firstLBA, numLBA: numLBA, blockSz: disk.BlockSize()}
}

func (p *PartitionDevice) ReadBlocks(ba uint64, cnt uint32, buf []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return blockdev.ErrClosed
	}
	if err := blockdev.CheckRange(ba, cnt, p.numLBA); err != nil {
		return err
	}
	return p.disk.ReadDirect(p.firstLBA+ba, cnt, buf)
}

func (p *PartitionDevice) WriteBlocks(ba uint64, cnt uint32, buf []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return blockdev.ErrClosed
	}
	if err := blockdev.CheckRange(ba, cnt, p.numLBA); err != nil {
		return err
	}
	return p.disk.WriteDirect(p.firstLBA+ba, cnt, buf)
}

func (p *PartitionDevice) BlockSize() uint32 { return p.blockSz }

func (p *PartitionDevice) NumBlocks() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.numLBA
}

// Close drains in-flight I/O by taking the writer side of the rw-lock,
// then marks the proxy closed. It does not close the underlying disk.
func (p *PartitionDevice) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ blockdev.Device = (*PartitionDevice)(nil)
