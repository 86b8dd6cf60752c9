package id

import "sync/atomic"

// Sequence hands out increasing IDs starting at 1. Zero is never returned,
// so it can mean "no ID" to callers.
// Thread-safe via an atomic counter.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence creates a sequence whose first ID is after+1.
func NewSequence(after uint64) *Sequence {
	s := &Sequence{}
	s.last.Store(after)
	return s
}

// NextID returns the next ID in the sequence.
func (s *Sequence) NextID() uint64 {
	return s.last.Add(1)
}

// Workers is the process-wide sequence for worker identities.
var Workers = NewSequence(0)
