package router

import (
	"context"
	"errors"
	"sync"
)

// ErrBufferClosed is returned by Receive once the buffer is closed and empty.
var ErrBufferClosed = errors.New("buffer closed")

// GrowableBuffer is an unbounded FIFO between the router and a writer. The
// router must never block on it, so instead of rejecting items it doubles its
// ring once 70% full.
type GrowableBuffer[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int // Next read
	count  int
	closed bool

	// ready holds a token while items are queued or the buffer is closed.
	ready chan struct{}

	enqueued  int64
	dequeued  int64
	resizes   int
	highWater int
}

// NewGrowableBuffer creates a buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &GrowableBuffer[T]{
		ring:  make([]T, initialCapacity),
		ready: make(chan struct{}, 1),
	}
}

// Send appends item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := len(b.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.resize(len(b.ring) * 2)
	}

	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.enqueued++
	if b.count > b.highWater {
		b.highWater = b.count
	}

	b.signal()
	return true
}

// Receive blocks until an item is available, the buffer is closed and
// drained (ErrBufferClosed), or ctx is done.
func (b *GrowableBuffer[T]) Receive(ctx context.Context) (T, error) {
	for {
		if item, ok := b.TryReceive(); ok {
			return item, nil
		}
		if b.isDrained() {
			var zero T
			return zero, ErrBufferClosed
		}

		select {
		case <-b.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryReceive removes the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	item := b.pop()
	if b.count > 0 {
		b.signal()
	}
	return item, true
}

// DrainTo removes up to max items (all if max <= 0) without blocking.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	items := make([]T, n)
	for i := range items {
		items[i] = b.pop()
	}
	if b.count > 0 {
		b.signal()
	}
	return items
}

// Ready returns a channel that receives when items may be available or the
// buffer was closed. A receive is a hint; callers re-check with TryReceive or
// DrainTo.
func (b *GrowableBuffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Close stops accepting items. Queued items remain readable.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.signal()
}

// Closed reports whether Close was called.
func (b *GrowableBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the number of queued items.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current ring size.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:     b.count,
		Capacity:  len(b.ring),
		Enqueued:  b.enqueued,
		Dequeued:  b.dequeued,
		Resizes:   b.resizes,
		HighWater: b.highWater,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count     int
	Capacity  int
	Enqueued  int64
	Dequeued  int64
	Resizes   int
	HighWater int // Largest Count seen
}

func (b *GrowableBuffer[T]) isDrained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && b.count == 0
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	item := b.ring[b.head]
	var zero T
	b.ring[b.head] = zero // Drop reference for GC
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	b.dequeued++
	return item
}

// resize moves the queued items to the front of a new ring. Must be called
// with lock held.
func (b *GrowableBuffer[T]) resize(capacity int) {
	ring := make([]T, capacity)
	for i := 0; i < b.count; i++ {
		ring[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.ring = ring
	b.head = 0
	b.resizes++
}

// signal leaves a token in ready without blocking. Must be called with lock held.
func (b *GrowableBuffer[T]) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
