package ring

import "sync/atomic"

// Alerter is checked by wait strategies between polls.
type Alerter interface {
	CheckAlert() error
}

// Barrier lets a consumer wait until a sequence becomes readable.
type Barrier struct {
	sequencer *Sequencer
	wait      WaitStrategy
	alerted   atomic.Bool
	waitFrom  atomic.Int64
	available func() int64
}

func (b *Barrier) highestAvailable() int64 {
	lower := b.waitFrom.Load()
	cursor := b.sequencer.Cursor()
	if cursor < lower {
		return cursor
	}
	return b.sequencer.HighestPublished(lower, cursor)
}

// WaitFor blocks until seq is published and returns the highest contiguous
// published sequence, which may exceed seq. It fails with ErrAlerted once
// Alert has been called.
func (b *Barrier) WaitFor(seq int64) (int64, error) {
	if err := b.CheckAlert(); err != nil {
		return InitialSequence, err
	}
	b.waitFrom.Store(seq)
	return b.wait.WaitFor(seq, b.available, b)
}

// Alert wakes every waiter and makes subsequent waits fail.
func (b *Barrier) Alert() {
	b.alerted.Store(true)
	b.wait.SignalAll()
}

func (b *Barrier) ClearAlert() {
	b.alerted.Store(false)
}

func (b *Barrier) IsAlerted() bool {
	return b.alerted.Load()
}

func (b *Barrier) CheckAlert() error {
	if b.alerted.Load() {
		return ErrAlerted
	}
	return nil
}
