package runtime

import (
	"context"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/ring"
)

// Consumer receives every published event exactly once, in sequence order.
// endOfBatch is true for the last event of the batch the dispatch loop is
// currently draining, which lets consumers flush buffered work.
type Consumer interface {
	Consume(ctx context.Context, ev *event.Event, sequence int64, endOfBatch bool) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, ev *event.Event, sequence int64, endOfBatch bool) error

func (f ConsumerFunc) Consume(ctx context.Context, ev *event.Event, sequence int64, endOfBatch bool) error {
	return f(ctx, ev, sequence, endOfBatch)
}

type consumerNameKey struct{}

// ConsumerNameFromContext returns the name of the consumer the dispatch loop
// is invoking, if ctx came from it.
func ConsumerNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(consumerNameKey{}).(string)
	return name
}

func withConsumerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, consumerNameKey{}, name)
}

type consumerSlot struct {
	name     string
	consumer Consumer
	sequence *ring.Sequence
	stats    *consumerStats
	ctx      context.Context
}
