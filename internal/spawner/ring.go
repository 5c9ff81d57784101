package spawner

import (
	"sync"
)

// outputRing keeps a bounded window of recent PTY output for readiness
// detection. Bounding the buffer keeps long-lived agents from growing
// memory with their scrollback.
type outputRing struct {
	mu   sync.Mutex
	buf  []byte
	pos  int
	full bool
}

func newOutputRing(size int) *outputRing {
	return &outputRing{buf: make([]byte, size)}
}

func (r *outputRing) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range p {
		r.buf[r.pos] = b
		r.pos = (r.pos + 1) % len(r.buf)
		if r.pos == 0 {
			r.full = true
		}
	}
}

// Bytes returns the buffered window in write order.
func (r *outputRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]byte(nil), r.buf[:r.pos]...)
	}
	out := make([]byte, len(r.buf))
	copy(out, r.buf[r.pos:])
	copy(out[len(r.buf)-r.pos:], r.buf[:r.pos])
	return out
}
