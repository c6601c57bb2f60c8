package vbd

import (
	"fmt"
	"sync"

	"github.com/marmos91/vfskit/internal/logger"
	"github.com/marmos91/vfskit/pkg/blockcache"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// Disk is a discovered block device plus the partitions read off its
// label. It corresponds to one entry in the VBD's disk list.
type Disk struct {
	Name string
	dev  *blockcache.Device

	mu         sync.RWMutex
	partitions []*Partition
	nextIndex  int
}

// OpenDisk wraps an already-open block device as a VBD disk, initializing
// a direct-access-only cache on it (VBD itself never caches file data; it
// only ever issues direct reads of the label and of partition content on
// behalf of proxies).
func OpenDisk(name string, raw blockdev.Device) *Disk {
	dev := blockcache.Init(raw)
	return &Disk{Name: name, dev: dev}
}

// Device returns the disk's underlying cache device, for callers that
// need whole-disk access rather than a partition proxy.
func (d *Disk) Device() *blockcache.Device { return d.dev }

// Probe reads the disk's boot sector and, if it carries an MBR
// signature, discovers its partitions. Disks with no recognizable label
// are treated as unpartitioned: the whole disk is NOT published as a
// partition (callers needing whole-disk access use d.Device() directly).
func (d *Disk) Probe() error {
	sector, err := d.dev.ReadBootBlock()
	if err != nil {
		return newError(ErrIOError, "reading boot sector: %v", err)
	}
	sector.RLock()
	raw := append([]byte(nil), sector.Data()[:512]...)
	sector.RUnlock()

	if !HasMBRSignature(raw) {
		logger.Debug("vbd: disk has no MBR signature, treating as unpartitioned", logger.Device(d.Name))
		return nil
	}

	entries := ParseMBR(raw)
	var found []MBREntry
	for _, e := range entries {
		if e.isEmpty() {
			continue
		}
		if e.isExtended() {
			logicals, err := resolveExtendedChain(d.readSector, e.FirstLBA)
			if err != nil {
				return err
			}
			found = append(found, logicals...)
			continue
		}
		found = append(found, e)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.partitions = nil
	d.nextIndex = 1
	for _, e := range found {
		d.registerPartitionLocked(uint64(e.FirstLBA), uint64(e.NumLBA))
	}
	return nil
}

func (d *Disk) readSector(lba uint64) ([]byte, error) {
	buf := make([]byte, d.dev.BlockSize())
	if err := d.dev.ReadDirect(lba, 1, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// registerPartitionLocked assigns the next sequential index and wires up
// a fresh proxy device. Callers must hold d.mu for writing.
func (d *Disk) registerPartitionLocked(firstLBA, numLBA uint64) *Partition {
	p := &Partition{
		Index:    d.nextIndex,
		Name:     fmt.Sprintf("%sp%d", d.Name, d.nextIndex),
		FirstLBA: firstLBA,
		NumLBA:   numLBA,
		proxy:    newPartitionDevice(d.dev, firstLBA, numLBA),
	}
	d.nextIndex++
	d.partitions = append(d.partitions, p)
	return p
}

// Partitions returns a snapshot of the disk's current partition list.
func (d *Disk) Partitions() []*Partition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Partition, len(d.partitions))
	copy(out, d.partitions)
	return out
}

// renumberLocked reassigns sequential indices/names after a create or delete,
// exactly as MBR extended-partition renumbering requires: every
// partition's registered service name is derived from its position, so
// any partition whose position shifted must be re-registered.
func (d *Disk) renumberLocked() {
	for i, p := range d.partitions {
		p.Index = i + 1
		p.Name = fmt.Sprintf("%sp%d", d.Name, p.Index)
	}
	d.nextIndex = len(d.partitions) + 1
}
