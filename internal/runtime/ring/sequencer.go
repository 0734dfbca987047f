package ring

import (
	"math/bits"
	"sync/atomic"
)

// Sequencer coordinates slot claims between many producers and the gating
// sequences of the consumers. A claim never laps the slowest gating sequence.
type Sequencer struct {
	bufferSize int64
	indexMask  int64
	indexShift uint

	cursor      *Sequence
	gatingCache *Sequence
	gating      atomic.Pointer[[]*Sequence]

	available []atomic.Int32
	wait      WaitStrategy
}

// NewSequencer builds a multi-producer sequencer for a power-of-two capacity.
func NewSequencer(capacity int, wait WaitStrategy) (*Sequencer, error) {
	if capacity < 1 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}
	if wait == nil {
		wait = NewSleepingWaitStrategy()
	}
	s := &Sequencer{
		bufferSize:  int64(capacity),
		indexMask:   int64(capacity - 1),
		indexShift:  uint(bits.TrailingZeros64(uint64(capacity))),
		cursor:      NewSequence(InitialSequence),
		gatingCache: NewSequence(InitialSequence),
		available:   make([]atomic.Int32, capacity),
		wait:        wait,
	}
	for i := range s.available {
		s.available[i].Store(-1)
	}
	empty := []*Sequence{}
	s.gating.Store(&empty)
	return s, nil
}

func (s *Sequencer) BufferSize() int64 {
	return s.bufferSize
}

// Cursor returns the highest claimed sequence. Claimed slots may not be
// published yet; use HighestPublished to find readable ones.
func (s *Sequencer) Cursor() int64 {
	return s.cursor.Get()
}

// AddGatingSequences registers consumer sequences that producers must not lap.
func (s *Sequencer) AddGatingSequences(seqs ...*Sequence) {
	for {
		current := s.gating.Load()
		next := make([]*Sequence, 0, len(*current)+len(seqs))
		next = append(next, *current...)
		cursor := s.cursor.Get()
		for _, seq := range seqs {
			seq.Set(cursor)
			next = append(next, seq)
		}
		if s.gating.CompareAndSwap(current, &next) {
			return
		}
	}
}

// MinimumGatingSequence returns the slowest consumer position, or the cursor
// when nothing gates the buffer.
func (s *Sequencer) MinimumGatingSequence() int64 {
	return minimumSequence(*s.gating.Load(), s.cursor.Get())
}

// TryNext claims the next slot or fails with ErrInsufficientCapacity.
func (s *Sequencer) TryNext() (int64, error) {
	return s.TryNextN(1)
}

// TryNextN claims n contiguous slots and returns the highest claimed sequence.
func (s *Sequencer) TryNextN(n int64) (int64, error) {
	if n < 1 || n > s.bufferSize {
		return 0, ErrInvalidClaim
	}
	for {
		current := s.cursor.Get()
		next := current + n
		if !s.hasAvailableCapacity(n, current) {
			return 0, ErrInsufficientCapacity
		}
		if s.cursor.CompareAndSet(current, next) {
			return next, nil
		}
	}
}

func (s *Sequencer) hasAvailableCapacity(required, cursorValue int64) bool {
	wrapPoint := cursorValue + required - s.bufferSize
	cached := s.gatingCache.Get()
	if wrapPoint > cached || cached > cursorValue {
		lowest := minimumSequence(*s.gating.Load(), cursorValue)
		s.gatingCache.Set(lowest)
		if wrapPoint > lowest {
			return false
		}
	}
	return true
}

// HasAvailableCapacity reports whether n slots could be claimed right now.
func (s *Sequencer) HasAvailableCapacity(n int64) bool {
	return s.hasAvailableCapacity(n, s.cursor.Get())
}

// RemainingCapacity returns the number of free slots, always within
// [0, BufferSize].
func (s *Sequencer) RemainingCapacity() int64 {
	consumed := s.MinimumGatingSequence()
	produced := s.cursor.Get()
	remaining := s.bufferSize - (produced - consumed)
	switch {
	case remaining < 0:
		return 0
	case remaining > s.bufferSize:
		return s.bufferSize
	}
	return remaining
}

// Publish marks seq readable and wakes waiting consumers.
func (s *Sequencer) Publish(seq int64) {
	s.setAvailable(seq)
	s.wait.SignalAll()
}

// PublishRange marks every sequence in [lo, hi] readable.
func (s *Sequencer) PublishRange(lo, hi int64) {
	for seq := lo; seq <= hi; seq++ {
		s.setAvailable(seq)
	}
	s.wait.SignalAll()
}

func (s *Sequencer) setAvailable(seq int64) {
	s.available[seq&s.indexMask].Store(int32(seq >> s.indexShift))
}

// IsAvailable reports whether seq has been published in its current lap.
func (s *Sequencer) IsAvailable(seq int64) bool {
	return s.available[seq&s.indexMask].Load() == int32(seq>>s.indexShift)
}

// HighestPublished returns the highest sequence in [lower, available] such
// that every sequence up to it is published, or lower-1 if lower itself is not.
func (s *Sequencer) HighestPublished(lower, available int64) int64 {
	for seq := lower; seq <= available; seq++ {
		if !s.IsAvailable(seq) {
			return seq - 1
		}
	}
	return available
}

// NewBarrier returns a barrier consumers use to wait for published slots.
func (s *Sequencer) NewBarrier() *Barrier {
	b := &Barrier{sequencer: s, wait: s.wait}
	b.available = b.highestAvailable
	return b
}
