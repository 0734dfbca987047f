package ring

// RingBuffer stores preallocated entries addressed by sequence.
type RingBuffer[T any] struct {
	entries   []T
	mask      int64
	sequencer *Sequencer
}

// New allocates a ring of capacity entries. capacity must be a power of two.
func New[T any](capacity int, wait WaitStrategy) (*RingBuffer[T], error) {
	seq, err := NewSequencer(capacity, wait)
	if err != nil {
		return nil, err
	}
	return &RingBuffer[T]{
		entries:   make([]T, capacity),
		mask:      int64(capacity - 1),
		sequencer: seq,
	}, nil
}

// Get returns the entry for seq. Callers must own the slot: a claimed but
// unpublished sequence for producers, a published and ungated one for consumers.
func (r *RingBuffer[T]) Get(seq int64) *T {
	return &r.entries[seq&r.mask]
}

func (r *RingBuffer[T]) Capacity() int64 {
	return r.sequencer.BufferSize()
}

func (r *RingBuffer[T]) Sequencer() *Sequencer {
	return r.sequencer
}

func (r *RingBuffer[T]) Cursor() int64 {
	return r.sequencer.Cursor()
}

func (r *RingBuffer[T]) TryNext() (int64, error) {
	return r.sequencer.TryNext()
}

func (r *RingBuffer[T]) Publish(seq int64) {
	r.sequencer.Publish(seq)
}

func (r *RingBuffer[T]) RemainingCapacity() int64 {
	return r.sequencer.RemainingCapacity()
}

func (r *RingBuffer[T]) AddGatingSequences(seqs ...*Sequence) {
	r.sequencer.AddGatingSequences(seqs...)
}

func (r *RingBuffer[T]) NewBarrier() *Barrier {
	return r.sequencer.NewBarrier()
}
