package vfs

import "sync"

// DefaultPLBSize is the default Path Lookup Buffer capacity in bytes.
const DefaultPLBSize = 4096

// plbClaim is one in-flight lookup's slice of the ring buffer: a
// (first, last) index pair, inclusive, into buf — possibly wrapping
// around the end of the buffer, mirroring how FS servers receive two
// indices into a shared read-only view.
type plbClaim struct {
	first, last int
}

// PLB is the process-wide Path Lookup Buffer: a single ring buffer that
// every in-flight lookup claims a contiguous (possibly wrapping) region
// of to publish its path, so a filesystem server can read it
// component-by-component through Byte without the VFS copying the path
// into a per-request message. Claims are released only once the owning
// lookup's reply has been produced. Claim does not check outstanding
// claims: a new claim is written at the cursor even when that region
// still belongs to a claim that has not been released.
type PLB struct {
	mu     sync.Mutex
	buf    []byte
	cursor int
	claims map[int]plbClaim // keyed by an opaque claim id
	nextID int
}

// NewPLB allocates a PLB of the given byte capacity.
func NewPLB(size int) *PLB {
	if size <= 0 {
		size = DefaultPLBSize
	}
	return &PLB{buf: make([]byte, size), claims: make(map[int]plbClaim)}
}

// Claim copies path into the ring buffer (wrapping if it doesn't fit
// before the end) and returns an id plus the (first, last) index pair a
// filesystem server would be handed. The caller must call Release(id)
// once every server the lookup touched has replied.
func (p *PLB) Claim(path string) (id int, first int, last int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(path)
	first = p.cursor
	for i := 0; i < n; i++ {
		p.buf[(first+i)%len(p.buf)] = path[i]
	}
	last = (first + n - 1 + len(p.buf)) % len(p.buf)
	p.cursor = (first + n) % len(p.buf)

	id = p.nextID
	p.nextID++
	p.claims[id] = plbClaim{first: first, last: last}
	return id, first, last
}

// Byte reads the byte at logical offset i (0-based from first) of
// claim id's path, the callback a filesystem server's walk would use
// instead of being handed the whole string directly.
func (p *PLB) Byte(id, i int) (byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.claims[id]
	if !ok {
		return 0, false
	}
	length := c.last - c.first + 1
	if length <= 0 {
		length += len(p.buf)
	}
	if i < 0 || i >= length {
		return 0, false
	}
	return p.buf[(c.first+i)%len(p.buf)], true
}

// Release frees claim id's region. It does not compact the buffer —
// the cursor only ever advances — since a claim's bytes are simply
// overwritten once the cursor wraps back around to them.
func (p *PLB) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claims, id)
}
