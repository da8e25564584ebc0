// Package bufpool pools the scratch buffers packets are assembled in.
package bufpool

import (
	"bytes"
	"sync"
)

// buffers larger than this are dropped instead of pooled
const maxPooledSize = 1 << 20

// Pool hands out reset bytes.Buffers.
type Pool struct {
	pool sync.Pool
}

// New returns a pool whose fresh buffers start with initialSize capacity.
func New(initialSize int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

func (p *Pool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *Pool) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledSize {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
