package runtime

import (
	"errors"
	"runtime/debug"
	"time"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	"github.com/drblury/ringflow/internal/runtime/ring"
)

// run is the dispatch loop. It waits for published batches and hands each
// event to every consumer until Stop alerts the barrier and the drain target
// has been reached, or the drain is forced.
func (q *Queue) run() {
	defer close(q.loopDone)

	slots := q.slots()
	last := q.lastSequence()
	sequencer := q.ring.Sequencer()
	next := last.Get() + 1

	for {
		available, err := q.barrier.WaitFor(next)
		if err != nil {
			if !errors.Is(err, ring.ErrAlerted) {
				q.Logger.Error("Dispatch loop stopped", err, nil)
				return
			}
			target := q.drainTarget.Load()
			if next > target || q.forced.Load() {
				return
			}
			available = sequencer.HighestPublished(next, target)
			if available < next {
				q.Logger.Error("Dispatch loop found an unpublished slot while draining", nil, loggingpkg.LogFields{
					"sequence": next,
					"target":   target,
				})
				return
			}
		}

		for seq := next; seq <= available; seq++ {
			if q.forced.Load() {
				return
			}
			q.dispatch(slots, last, seq, seq == available)
		}
		next = available + 1
	}
}

func (q *Queue) dispatch(slots []*consumerSlot, last *ring.Sequence, seq int64, endOfBatch bool) {
	ev := q.ring.Get(seq)
	protocol := ev.Protocol
	classify := q.getErrorClassifier()

	q.stats.RequestStarted(protocol)
	start := time.Now()

	var failure error
	for i, slot := range slots {
		began := time.Now()
		err := q.invoke(slot, ev, seq, endOfBatch)
		category := classify(err)
		slot.stats.record(time.Since(began), err, category)
		if err != nil {
			if failure == nil {
				failure = err
			}
			q.Logger.Error("Consumer failed", err, loggingpkg.LogFields{
				"consumer":    slot.name,
				"sequence":    seq,
				"event_id":    ev.ID,
				"protocol":    protocol.String(),
				"error_class": category.String(),
			})
		}
		if i < len(slots)-1 {
			slot.sequence.Set(seq)
		}
	}

	took := time.Since(start)
	if failure != nil {
		q.stats.RequestFailed(protocol, classify(failure), took)
	} else {
		q.stats.RequestCompleted(protocol, took)
	}

	ev.Clear()
	last.Set(seq)
}

// invoke calls one consumer and turns a returned error or a panic into a
// *ConsumerError so one faulty consumer never stops the loop.
func (q *Queue) invoke(slot *consumerSlot, ev *event.Event, seq int64, endOfBatch bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.ConsumerError{
				Consumer: slot.name,
				Sequence: seq,
				EventID:  ev.ID,
				Err:      &errspkg.PanicError{Value: r, Stack: debug.Stack()},
			}
		}
	}()

	if cerr := slot.consumer.Consume(slot.ctx, ev, seq, endOfBatch); cerr != nil {
		return &errspkg.ConsumerError{Consumer: slot.name, Sequence: seq, EventID: ev.ID, Err: cerr}
	}
	return nil
}
