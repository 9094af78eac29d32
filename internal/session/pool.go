package session

import "sync"

// bufferPool hands out reusable byte slices for the duplex copy loops,
// adapted from internal/proxy/pool.go's httputil.BufferPool (there, used
// to back httputil.ReverseProxy; here it backs our own io.CopyBuffer
// calls since the reverse-proxy streaming path was replaced — see
// DESIGN.md).
type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *bufferPool) put(b []byte) {
	// The &b forces a small heap allocation converting a non-pointer to
	// an interface{}; unavoidable, and cheap relative to the copy itself.
	p.pool.Put(&b)
}
