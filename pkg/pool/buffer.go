package pool

import "sync"

// sync.Pool is a mechanism to cache allocated but unused objects for later reuse,
// relieving pressure on the garbage collector. It is safe for concurrent use.
// Items in the Pool are automatically removed during garbage collection, so it
// is suitable for short-lived objects (like buffers) but not for persistent
// resources like database connections.

// FixedBufferPool hands out reusable byte slices of a single size. The hash
// pipeline reads every file through buffers of the configured I/O size, so a
// single bucket is all that is needed.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

func NewFixedBuffer(size int64) *FixedBufferPool {
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

func (fp *FixedBufferPool) Get() *[]byte {
	return fp.pool.Get().(*[]byte)
}

func (fp *FixedBufferPool) Put(b *[]byte) {
	// Only put it back if it's the right size.
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
