package proxy

import "sync"

const defaultBufferSize = 32 << 10

// BufferPool hands out copy buffers to the bridge.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

// SyncPoolBufferPool is a sync.Pool of equally sized buffers.
type SyncPoolBufferPool struct {
	size int
	pool sync.Pool
}

func NewSyncPoolBufferPool(size int) *SyncPoolBufferPool {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &SyncPoolBufferPool{size: size}
}

func (p *SyncPoolBufferPool) Get() []byte {
	if bp, ok := p.pool.Get().(*[]byte); ok {
		return (*bp)[:p.size]
	}
	return make([]byte, p.size)
}

// Put drops buffers too small to be handed out again.
func (p *SyncPoolBufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	p.pool.Put(&b)
}
