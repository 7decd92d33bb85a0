package core

import (
	"sync"
)

// ObservationBuffer is a bounded FIFO of recent observations feeding future
// learning cycles. Push on a full buffer evicts the oldest entry; eviction
// and insertion happen under one lock so no reader ever observes the buffer
// over capacity.
type ObservationBuffer struct {
	mu       sync.Mutex
	entries  []Observation
	head     int
	size     int
	capacity int
	evicted  uint64
}

// NewObservationBuffer creates a ring buffer with the given capacity
func NewObservationBuffer(capacity int) (*ObservationBuffer, error) {
	if capacity <= 0 {
		return nil, &Error{Kind: ErrKindValidation, Detail: "buffer capacity must be positive"}
	}
	return &ObservationBuffer{
		entries:  make([]Observation, capacity),
		capacity: capacity,
	}, nil
}

// Push appends an observation, evicting the oldest entry when full.
// It reports whether an eviction took place.
func (b *ObservationBuffer) Push(obs Observation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	tail := (b.head + b.size) % b.capacity
	b.entries[tail] = obs
	if b.size < b.capacity {
		b.size++
		return false
	}
	// Full: the slot we just wrote was the oldest entry
	b.head = (b.head + 1) % b.capacity
	b.evicted++
	return true
}

// Len returns the number of buffered observations
func (b *ObservationBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the fixed capacity
func (b *ObservationBuffer) Capacity() int {
	return b.capacity
}

// Evicted returns the total number of FIFO evictions
func (b *ObservationBuffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Snapshot copies the buffered observations oldest-first
func (b *ObservationBuffer) Snapshot() []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Observation, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.head+i)%b.capacity]
	}
	return out
}
