package ring

import (
	"context"
	"runtime"
	"time"
)

// Backoff paces a producer retrying a claim on a full buffer: a few
// scheduler yields first, then exponentially growing sleeps capped at Max.
type Backoff struct {
	Spins   int
	Initial time.Duration
	Max     time.Duration

	attempt int
}

// Wait pauses for the current step. It returns ctx.Err() when ctx ends and
// ErrAlerted when done is closed.
func (b *Backoff) Wait(ctx context.Context, done <-chan struct{}) error {
	b.attempt++
	if b.attempt <= b.Spins {
		runtime.Gosched()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ErrAlerted
		default:
			return nil
		}
	}

	timer := time.NewTimer(b.delay(b.attempt - b.Spins - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrAlerted
	case <-timer.C:
		return nil
	}
}

func (b *Backoff) delay(step int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = 50 * time.Microsecond
	}
	limit := b.Max
	if limit < initial {
		limit = initial
	}
	if step >= 32 {
		return limit
	}
	d := initial << step
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// Attempts returns how many times Wait has been called since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}
