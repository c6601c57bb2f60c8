package blockdev

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a block device backed by a POSIX file or device node: a disk
// image for tests and mkfat, or (on Linux) a real /dev/sdX-style node.
type File struct {
	mu        sync.RWMutex
	f         *os.File
	blockSize uint32
	nblocks   uint64
	closed    bool
}

// OpenFile opens path for read/write and probes its size. blockSize is the
// logical block size to present upward; it need not match the host
// filesystem's block size. If path refers to a real block device on
// Linux, OpenFile takes its true size by seeking to the end and queries
// the kernel via ioctl for its sector size, preferring that over the
// caller-supplied block size when the probe succeeds.
func OpenFile(path string, blockSize uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	size, isBlockDev, probeErr := probeSize(f)
	if probeErr != nil {
		fi, statErr := f.Stat()
		if statErr != nil {
			_ = f.Close()
			return nil, fmt.Errorf("blockdev: stat %s: %w", path, statErr)
		}
		size = uint64(fi.Size())
	}
	if isBlockDev {
		if ssz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET); err == nil && ssz > 0 {
			blockSize = uint32(ssz)
		}
	}

	if blockSize == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("blockdev: zero block size for %s", path)
	}

	return &File{
		f:         f,
		blockSize: blockSize,
		nblocks:   size / uint64(blockSize),
	}, nil
}

// CreateFile creates (or truncates) a regular file of exactly
// nblocks*blockSize bytes, for use as a disk image by mkfat.
func CreateFile(path string, blockSize uint32, nblocks uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	size := int64(blockSize) * int64(nblocks) //nolint:gosec // caller-validated extent
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s: %w", path, err)
	}
	return &File{f: f, blockSize: blockSize, nblocks: nblocks}, nil
}

// probeSize returns the addressable extent of f. Regular files report
// their stat size; block device nodes report 0 from stat, so their true
// extent is obtained by seeking to the end, which the kernel honours for
// device nodes on Linux.
func probeSize(f *os.File) (size uint64, isBlockDev bool, err error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, false, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return uint64(fi.Size()), false, nil
	}
	end, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, true, err
	}
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		return 0, true, err
	}
	return uint64(end), true, nil
}

func (d *File) ReadBlocks(ba uint64, cnt uint32, buf []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	if err := CheckRange(ba, cnt, d.nblocks); err != nil {
		return err
	}
	n := uint64(cnt) * uint64(d.blockSize)
	off := int64(ba * uint64(d.blockSize)) //nolint:gosec // bounded by CheckRange
	if _, err := d.f.ReadAt(buf[:n], off); err != nil {
		return fmt.Errorf("blockdev: read at %d: %w", off, err)
	}
	return nil
}

func (d *File) WriteBlocks(ba uint64, cnt uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := CheckRange(ba, cnt, d.nblocks); err != nil {
		return err
	}
	n := uint64(cnt) * uint64(d.blockSize)
	off := int64(ba * uint64(d.blockSize)) //nolint:gosec // bounded by CheckRange
	if _, err := d.f.WriteAt(buf[:n], off); err != nil {
		return fmt.Errorf("blockdev: write at %d: %w", off, err)
	}
	return nil
}

func (d *File) BlockSize() uint32 { return d.blockSize }

func (d *File) NumBlocks() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.nblocks
}

func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.f.Close()
}

var _ Device = (*File)(nil)
