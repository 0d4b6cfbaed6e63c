package buffer

import (
	"sync"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// circularBuffer is a thread-safe circular buffer with drop-based overflow
// policies.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *bufferMetrics // optional Prometheus export
	opts     *bufferOptions[T]
	closed   bool
}

// newCircularBuffer creates a new circular buffer instance.
// Returns an error if metrics registration fails when requested.
func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == cb.capacity {
		switch cb.opts.overflowPolicy {
		case DropOldest:
			droppedItem := cb.items[cb.tail]
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--

			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordOverflow()
				cb.metrics.recordDrop()
			}

			if cb.opts.dropCallback != nil {
				// Run the callback outside the lock to avoid deadlock
				defer cb.opts.dropCallback(droppedItem)
			}

		case DropNewest:
			cb.stats.Overflow()
			cb.stats.Drop()
			if cb.metrics != nil {
				cb.metrics.recordOverflow()
				cb.metrics.recordDrop()
			}

			if cb.opts.dropCallback != nil {
				defer cb.opts.dropCallback(item)
			}
			return nil
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, cb.capacity)
	}

	return nil
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T

	if cb.size == 0 {
		return zero, false
	}

	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero // clear for GC
	cb.tail = (cb.tail + 1) % cb.capacity
	cb.size--

	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, cb.capacity)
	}

	return item, true
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	readCount := max
	if readCount > cb.size {
		readCount = cb.size
	}

	result := make([]T, readCount)
	var zero T

	for i := 0; i < readCount; i++ {
		result[i] = cb.items[cb.tail]
		cb.items[cb.tail] = zero
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, cb.capacity)
	}

	return result
}

// Peek retrieves one item without removing it from the buffer.
func (cb *circularBuffer[T]) Peek() (T, bool) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	var zero T

	if cb.size == 0 {
		return zero, false
	}

	cb.stats.Peek()
	return cb.items[cb.tail], true
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity // immutable, no lock needed
}

// IsFull returns true if the buffer is at maximum capacity.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == cb.capacity
}

// IsEmpty returns true if the buffer contains no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size == 0
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T

	if cb.opts.dropCallback != nil {
		itemsToDrop := make([]T, cb.size)
		for i := 0; i < cb.size; i++ {
			idx := (cb.tail + i) % cb.capacity
			itemsToDrop[i] = cb.items[idx]
		}
		defer func() {
			for _, item := range itemsToDrop {
				cb.opts.dropCallback(item)
			}
		}()
	}

	for i := 0; i < cb.capacity; i++ {
		cb.items[i] = zero
	}

	cb.head = 0
	cb.tail = 0
	cb.size = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, cb.capacity)
	}
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close shuts down the buffer.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.closed = true
	return nil
}
