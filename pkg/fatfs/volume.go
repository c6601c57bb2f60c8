package fatfs

import (
	"sync"

	"github.com/marmos91/vfskit/pkg/blockcache"
	"github.com/marmos91/vfskit/pkg/blockdev"
)

// Volume is one mounted FAT filesystem instance: the cache device backing
// it, its boot parameters, the process-wide (here: per-volume) cluster
// allocation mutex, the index layer, and the node cache. It implements
// vfs.FileSystem (see fs.go).
type Volume struct {
	dev  *blockcache.Device
	boot *BootParams

	allocMu sync.Mutex // lock level 10, cluster-allocation mutex

	idx *indexTable

	nodeMu    sync.Mutex
	nodes     map[uint32]*Node // live (refcnt>0) nodes, by index
	idleHead  *Node
	idleTail  *Node
	idleCount int
}

const maxIdleNodes = 128

// Mount opens dev as a FAT volume: reads and sanity-checks the boot
// sector, turns on block caching at the volume's sector size, and
// prepares empty index/node tables. wtcache selects write-through caching
// per the usual mount-option convention.
func Mount(raw blockdev.Device, wtcache bool) (*Volume, error) {
	bc := blockcache.Init(raw)
	boot, err := bc.ReadBootBlock()
	if err != nil {
		return nil, newError(ErrIOError, "reading boot sector: %v", err)
	}
	boot.RLock()
	sector := append([]byte(nil), boot.Data()[:512]...)
	boot.RUnlock()

	bp, err := ParseBootSector(sector)
	if err != nil {
		return nil, err
	}

	mode := blockcache.ModeWriteBack
	if wtcache {
		mode = blockcache.ModeWriteThrough
	}
	// The cache's logical block is one sector, not one cluster: the FAT
	// table, the fixed-area root directory, and the boot sector itself are
	// all addressed at sector granularity and are not generally
	// cluster-aligned.
	if err := bc.CacheInit(uint32(bp.BytesPerSector), blockcache.DefaultLowWatermark, blockcache.DefaultHighWatermark, mode); err != nil {
		return nil, newError(ErrIOError, "cache init: %v", err)
	}

	v := &Volume{
		dev:   bc,
		boot:  bp,
		idx:   newIndexTable(),
		nodes: make(map[uint32]*Node),
	}
	return v, nil
}

// Root returns the volume's root directory node with a reference held on
// the caller's behalf; the caller must Put it when done.
func (v *Volume) Root() (*Node, error) {
	entry, _ := v.idx.LookupIndex(0)
	n, err := v.nodeGet(entry, KindDirectory, 0, v.rootFirstCluster())
	if err != nil {
		v.idx.Unref(entry)
		return nil, err
	}
	n.mu.Lock()
	n.fixedRoot = v.boot.Variant != FAT32
	n.mu.Unlock()
	return n, nil
}

// rootFirstCluster returns the cluster a walk of the root directory should
// start from: RootCluster on FAT32, 0 (unused, fixedRoot short-circuits
// every block lookup) otherwise.
func (v *Volume) rootFirstCluster() uint32 {
	if v.boot.Variant == FAT32 {
		return v.boot.RootCluster
	}
	return 0
}

// Put releases a reference obtained from Root, match, or link.
func (v *Volume) Put(n *Node) error {
	return v.putNode(n)
}

// Unmount flushes all dirty cache state and releases the device.
func (v *Volume) Unmount() error {
	return v.dev.Fini()
}

func (v *Volume) Boot() *BootParams { return v.boot }
