package blockcache

// ReadDirect reads cnt logical blocks starting at lba straight from the
// device, bypassing the cache entirely. Used for one-shot transfers where
// caching would only add pressure (VBD's extended-partition table reads
// and its partition proxies' transfers).
func (d *Device) ReadDirect(lba uint64, cnt uint32, buf []byte) error {
	if err := d.dev.ReadBlocks(d.toPhysical(lba), cnt*d.physRatio, buf); err != nil {
		return newError(ErrIOError, err.Error())
	}
	return nil
}

// WriteDirect is the write counterpart of ReadDirect.
func (d *Device) WriteDirect(lba uint64, cnt uint32, buf []byte) error {
	if err := d.dev.WriteBlocks(d.toPhysical(lba), cnt*d.physRatio, buf); err != nil {
		return newError(ErrIOError, err.Error())
	}
	return nil
}

// ReadBytesDirect reads length bytes at an arbitrary byte offset by
// computing the spanning logical-block range and issuing one direct,
// uncached, multi-block transfer — libblock's block_read_bytes_direct.
func (d *Device) ReadBytesDirect(offset uint64, length uint32, out []byte) error {
	bs := uint64(d.lbSize)
	first := offset / bs
	last := (offset + uint64(length) - 1) / bs
	blocks := uint32(last-first) + 1

	buf := make([]byte, uint64(blocks)*bs)
	if err := d.ReadDirect(first, blocks, buf); err != nil {
		return err
	}
	start := offset - first*bs
	copy(out[:length], buf[start:start+uint64(length)])
	return nil
}

// ReadBootBlock reads and caches the device's boot sector (logical block
// 0) outside the regular LRU cache: it is read far more often than any
// other block, and a filesystem expects its buffer to survive regardless
// of cache pressure.
func (d *Device) ReadBootBlock() (*Block, error) {
	d.bbMu.Lock()
	defer d.bbMu.Unlock()
	if d.bb != nil {
		return d.bb, nil
	}
	b := newBlock(0, 0, d.lbSize)
	if err := d.readPhysical(0, b.data); err != nil {
		return nil, newError(ErrIOError, err.Error())
	}
	d.bb = b
	return b, nil
}

// BootBlock returns the already-cached boot block, or nil if
// ReadBootBlock has not yet been called.
func (d *Device) BootBlock() *Block {
	d.bbMu.Lock()
	defer d.bbMu.Unlock()
	return d.bb
}

// SeqReader is the sequential-read fast path: it keeps a small
// caller-held cursor and refills one block at a time from the cache,
// skipping the hash lookup entirely while the cursor stays within the
// currently buffered block.
type SeqReader struct {
	dev *Device
	lba uint64
	buf []byte
	pos int
}

// NewSeqReader starts a sequential reader at logical block address lba.
func NewSeqReader(dev *Device, lba uint64) *SeqReader {
	return &SeqReader{dev: dev, lba: lba}
}

// Read fills p with the next len(p) bytes of the device, refilling from
// the cache one block at a time as the cursor crosses block boundaries.
func (r *SeqReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.pos == len(r.buf) {
			blk, err := r.dev.Get(r.lba, 0)
			if err != nil {
				return n, err
			}
			blk.RLock()
			r.buf = append(r.buf[:0], blk.Data()...)
			blk.RUnlock()
			if err := r.dev.Put(blk); err != nil {
				return n, err
			}
			r.lba++
			r.pos = 0
		}
		c := copy(p[n:], r.buf[r.pos:])
		n += c
		r.pos += c
	}
	return n, nil
}
