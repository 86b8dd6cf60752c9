package capture

import (
	"context"
	"sync"

	"github.com/maxpert/selfdiag/id"
	"github.com/puzpuzpuz/xsync/v3"
)

// WorkerID identifies a goroutine (or a group of goroutines that never run
// capture concurrently) that owns a scratch buffer. Zero means "no worker".
type WorkerID uint64

type workerKey struct{}

// NewWorkerID returns a fresh process-unique worker ID
func NewWorkerID() WorkerID {
	return WorkerID(id.Workers.NextID())
}

// WithWorker returns a context that carries the worker identity. A worker
// must not emit events from two goroutines at once under the same ID.
func WithWorker(ctx context.Context, worker WorkerID) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

// WorkerFromContext returns the worker identity carried by ctx
func WorkerFromContext(ctx context.Context) (WorkerID, bool) {
	if ctx == nil {
		return 0, false
	}
	w, ok := ctx.Value(workerKey{}).(WorkerID)
	return w, ok && w != 0
}

// ScratchBuffer is a fixed-size byte array used to assemble one line at a time
type ScratchBuffer struct {
	data []byte
}

// Bytes returns the whole buffer
func (b *ScratchBuffer) Bytes() []byte {
	return b.data
}

// ScratchCache hands every worker its own buffer, created on first use and
// kept until Release. Callers without a worker identity borrow a pooled
// buffer for the duration of one call.
type ScratchCache struct {
	size    int
	workers *xsync.MapOf[WorkerID, *ScratchBuffer]
	pool    sync.Pool
}

// NewScratchCache creates a cache of buffers of the given size
func NewScratchCache(size int) *ScratchCache {
	c := &ScratchCache{
		size:    size,
		workers: xsync.NewMapOf[WorkerID, *ScratchBuffer](),
	}
	c.pool.New = func() any {
		return &ScratchBuffer{data: make([]byte, size)}
	}
	return c
}

// Size returns the capacity of every buffer in the cache
func (c *ScratchCache) Size() int {
	return c.size
}

// Acquire returns the buffer for the worker in ctx. pooled reports whether
// the buffer was borrowed and must be handed back with Put.
func (c *ScratchCache) Acquire(ctx context.Context) (buf *ScratchBuffer, pooled bool) {
	if worker, ok := WorkerFromContext(ctx); ok {
		return c.Buffer(worker), false
	}
	return c.pool.Get().(*ScratchBuffer), true
}

// Put returns a borrowed buffer to the pool
func (c *ScratchCache) Put(buf *ScratchBuffer) {
	c.pool.Put(buf)
}

// Buffer returns the worker's buffer, creating it on first use
func (c *ScratchCache) Buffer(worker WorkerID) *ScratchBuffer {
	if buf, ok := c.workers.Load(worker); ok {
		return buf
	}

	buf, _ := c.workers.LoadOrCompute(worker, func() *ScratchBuffer {
		return &ScratchBuffer{data: make([]byte, c.size)}
	})
	return buf
}

// Release drops the worker's buffer at worker teardown
func (c *ScratchCache) Release(worker WorkerID) {
	c.workers.Delete(worker)
}

// Len returns the number of live worker buffers
func (c *ScratchCache) Len() int {
	return c.workers.Size()
}
