// Package vbd implements the Virtual Block Device partition proxy: disk
// discovery, MBR partition-table parsing, and address-translating
// partition devices. The naming/location service that a deployed
// system registers partition devices with is treated as an external
// collaborator; Registrar below is the seam a real deployment would
// plug a naming-service client into.
package vbd

import (
	"sync"

	"github.com/marmos91/vfskit/internal/logger"
)

// Registrar publishes and retracts partition service names. A real
// deployment backs this with the naming/location service; tests and
// standalone tools can use NewMemoryRegistrar.
type Registrar interface {
	Register(name string, part *Partition) error
	Unregister(name string) error
}

// MemoryRegistrar is an in-process stand-in for the naming service,
// sufficient for tests and for the vfsctl tool wiring everything together
// in a single process.
type MemoryRegistrar struct {
	mu   sync.Mutex
	byID map[string]*Partition
}

func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{byID: make(map[string]*Partition)}
}

func (r *MemoryRegistrar) Register(name string, part *Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[name] = part
	return nil
}

func (r *MemoryRegistrar) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, name)
	return nil
}

func (r *MemoryRegistrar) Lookup(name string) (*Partition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[name]
	return p, ok
}

// VBD owns the set of known disks and fronts partition create/delete.
type VBD struct {
	mu    sync.RWMutex
	disks map[string]*Disk
	reg   Registrar
}

func New(reg Registrar) *VBD {
	return &VBD{disks: make(map[string]*Disk), reg: reg}
}

// InsertDisk registers a newly discovered disk, probing its label and
// registering each discovered partition's service name.
func (v *VBD) InsertDisk(d *Disk) error {
	if err := d.Probe(); err != nil {
		return err
	}
	v.mu.Lock()
	v.disks[d.Name] = d
	v.mu.Unlock()

	for _, p := range d.Partitions() {
		if err := v.reg.Register(p.Name, p); err != nil {
			return newError(ErrIOError, "registering %s: %v", p.Name, err)
		}
	}
	return nil
}

func (v *VBD) Disk(name string) (*Disk, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d, ok := v.disks[name]
	return d, ok
}

// CreatePartition adds a new partition spanning [firstLBA, firstLBA+numLBA)
// on the named disk, zeroing its first block to destroy any residual
// filesystem signature, renumbering and re-registering every partition
// whose index shifted, and rolling back the renumbering if registration
// of any affected partition fails.
func (v *VBD) CreatePartition(diskName string, firstLBA, numLBA uint64) (*Partition, error) {
	d, ok := v.Disk(diskName)
	if !ok {
		return nil, newError(ErrNotFound, "disk %s not found", diskName)
	}

	d.mu.Lock()
	if err := checkOverlap(d.partitions, firstLBA, numLBA); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	before := snapshotNames(d.partitions)
	p := d.registerPartitionLocked(firstLBA, numLBA)
	d.renumberLocked()
	after := snapshotNames(d.partitions)
	d.mu.Unlock()

	zero := make([]byte, d.dev.BlockSize())
	if err := d.dev.WriteDirect(firstLBA, 1, zero); err != nil {
		logger.Warn("vbd: failed to zero new partition's first block", logger.Partition(p.Name), logger.Err(err))
	}

	if err := v.reregisterShifted(d, before, after); err != nil {
		// Rollback: remove the partition we just added and restore the old
		// numbering so the disk's registered names stay consistent with
		// what is actually reachable.
		d.mu.Lock()
		d.removePartitionLocked(p)
		d.renumberLocked()
		d.mu.Unlock()
		return nil, err
	}
	return p, nil
}

// DeletePartition removes a partition by name, refusing while any
// outstanding reference (taken with Partition.Ref) remains,
// then renumbers and re-registers the partitions that shifted.
func (v *VBD) DeletePartition(diskName, partName string) error {
	d, ok := v.Disk(diskName)
	if !ok {
		return newError(ErrNotFound, "disk %s not found", diskName)
	}

	d.mu.Lock()
	var target *Partition
	for _, p := range d.partitions {
		if p.Name == partName {
			target = p
			break
		}
	}
	if target == nil {
		d.mu.Unlock()
		return newError(ErrNotFound, "partition %s not found", partName)
	}
	if target.refs() > 0 {
		d.mu.Unlock()
		return newError(ErrBusy, "partition %s is in use", partName)
	}
	if err := target.proxy.Close(); err != nil {
		d.mu.Unlock()
		return err
	}
	before := snapshotNames(d.partitions)
	d.removePartitionLocked(target)
	d.renumberLocked()
	after := snapshotNames(d.partitions)
	d.mu.Unlock()

	if err := v.reg.Unregister(partName); err != nil {
		return err
	}
	return v.reregisterShifted(d, before, after)
}

func (d *Disk) removePartitionLocked(target *Partition) {
	out := d.partitions[:0]
	for _, p := range d.partitions {
		if p != target {
			out = append(out, p)
		}
	}
	d.partitions = out
}

func checkOverlap(existing []*Partition, firstLBA, numLBA uint64) error {
	end := firstLBA + numLBA
	for _, p := range existing {
		pEnd := p.FirstLBA + p.NumLBA
		if firstLBA < pEnd && p.FirstLBA < end {
			return newError(ErrBadArgument, "partition overlaps existing partition %s", p.Name)
		}
	}
	return nil
}

func snapshotNames(parts []*Partition) map[*Partition]string {
	m := make(map[*Partition]string, len(parts))
	for _, p := range parts {
		m[p] = p.Name
	}
	return m
}

// reregisterShifted re-registers every partition whose name changed
// between before and after — the MBR renumbering side effect that
// follows from a mid-table partition being inserted or removed.
func (v *VBD) reregisterShifted(d *Disk, before, after map[*Partition]string) error {
	for p, newName := range after {
		oldName, existed := before[p]
		if existed && oldName == newName {
			continue
		}
		if existed {
			if err := v.reg.Unregister(oldName); err != nil {
				return err
			}
		}
		if err := v.reg.Register(newName, p); err != nil {
			return newError(ErrIOError, "registering %s: %v", newName, err)
		}
	}
	return nil
}
