package journal

import "sync"

// bytesPool recycles scratch byte slices for transient encode paths —
// buffers that are filled, copied out, and discarded within a single
// call, as opposed to a reader's returned Record.Data, whose lifetime
// outlives the call and therefore must never come from a shared pool.
type bytesPool struct {
	pool sync.Pool
}

func newBytesPool() *bytesPool {
	return &bytesPool{
		pool: sync.Pool{
			New: func() any {
				buf := new([]byte)
				*buf = make([]byte, 0, 1<<10)
				return buf
			},
		},
	}
}

func (p *bytesPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bytesPool) put(b *[]byte) {
	*b = (*b)[:0]
	p.pool.Put(b)
}
