// Package ring implements the bounded multi-producer ring buffer that backs
// the event queue: padded sequences, a CAS claim sequencer with per-slot
// availability flags, a consumer barrier and pluggable wait strategies.
package ring

import "sync/atomic"

// InitialSequence is the value every cursor and gating sequence starts at.
const InitialSequence int64 = -1

const cacheLinePad = 56

// Sequence is an atomically updated counter padded to its own cache line so
// producers and the consumer do not false-share.
type Sequence struct {
	_     [cacheLinePad]byte
	value atomic.Int64
	_     [cacheLinePad]byte
}

// NewSequence returns a sequence holding initial.
func NewSequence(initial int64) *Sequence {
	s := &Sequence{}
	s.value.Store(initial)
	return s
}

func (s *Sequence) Get() int64 {
	return s.value.Load()
}

func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

func (s *Sequence) CompareAndSet(expected, next int64) bool {
	return s.value.CompareAndSwap(expected, next)
}

func minimumSequence(seqs []*Sequence, fallback int64) int64 {
	lowest := fallback
	for _, s := range seqs {
		if v := s.Get(); v < lowest {
			lowest = v
		}
	}
	return lowest
}
