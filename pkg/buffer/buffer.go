// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies. It backs the pending-publish queue that
// holds enriched events while the broker connection is down.
package buffer

// Buffer represents a generic bounded buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes one item from the buffer.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items from the buffer.
	ReadBatch(max int) []T

	// Peek retrieves one item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer. Subsequent writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified
// capacity. Stats are always collected; Prometheus export is enabled via
// WithMetrics(). Returns an error if metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
