package runtime

import (
	"context"
	"time"

	"github.com/drblury/ringflow/internal/runtime/event"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
)

// EventContext describes one consume call to hooks.
type EventContext struct {
	// Consumer is the name the consumer was registered under.
	Consumer string
	EventID  string
	Protocol event.ProtocolType
	ClientID string
	Route    string
	// Sequence is the ring position of the event.
	Sequence   int64
	EndOfBatch bool
	// Context is the context the consumer was invoked with.
	Context   context.Context
	StartedAt time.Time
	// Duration is how long the consumer took (only set in OnEventDone and OnEventError).
	Duration time.Duration
}

// ConsumerHooks defines callbacks around each consume call.
// All hooks are optional - nil hooks are simply not called.
type ConsumerHooks struct {
	// OnEventStart is called before the consumer is invoked.
	OnEventStart func(ctx EventContext)

	// OnEventDone is called when the consumer returned nil.
	OnEventDone func(ctx EventContext)

	// OnEventError is called when the consumer returned an error, or panicked
	// when a recoverer is registered after the hooks.
	OnEventError func(ctx EventContext, err error)
}

// Merge combines two ConsumerHooks. The hooks from 'other' are called after
// the hooks from 'h'.
func (h ConsumerHooks) Merge(other ConsumerHooks) ConsumerHooks {
	return ConsumerHooks{
		OnEventStart: chainHooks(h.OnEventStart, other.OnEventStart),
		OnEventDone:  chainHooks(h.OnEventDone, other.OnEventDone),
		OnEventError: chainErrorHooks(h.OnEventError, other.OnEventError),
	}
}

func chainHooks(a, b func(EventContext)) func(EventContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EventContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(EventContext, error)) func(EventContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EventContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// HooksMiddleware invokes hooks around every consume call.
func HooksMiddleware(hooks ConsumerHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "consumer_hooks",
		Middleware: hooksMiddleware(hooks),
	}
}

func hooksMiddleware(hooks ConsumerHooks) ConsumerMiddleware {
	return func(next Consumer) Consumer {
		return ConsumerFunc(func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) error {
			ec := EventContext{
				Consumer:   ConsumerNameFromContext(ctx),
				EventID:    ev.ID,
				Protocol:   ev.Protocol,
				ClientID:   ev.ClientID,
				Route:      ev.Route,
				Sequence:   seq,
				EndOfBatch: endOfBatch,
				Context:    ctx,
				StartedAt:  time.Now(),
			}

			if hooks.OnEventStart != nil {
				hooks.OnEventStart(ec)
			}

			err := next.Consume(ctx, ev, seq, endOfBatch)
			ec.Duration = time.Since(ec.StartedAt)

			if err != nil {
				if hooks.OnEventError != nil {
					hooks.OnEventError(ec, err)
				}
			} else if hooks.OnEventDone != nil {
				hooks.OnEventDone(ec)
			}
			return err
		})
	}
}

// LoggingHooks returns hooks that log consume calls.
func LoggingHooks(logger loggingpkg.ServiceLogger) ConsumerHooks {
	return ConsumerHooks{
		OnEventStart: func(ctx EventContext) {
			logger.Debug("Event started", loggingpkg.LogFields{
				"consumer": ctx.Consumer,
				"event_id": ctx.EventID,
				"sequence": ctx.Sequence,
			})
		},
		OnEventDone: func(ctx EventContext) {
			logger.Info("Event completed", loggingpkg.LogFields{
				"consumer":    ctx.Consumer,
				"event_id":    ctx.EventID,
				"protocol":    ctx.Protocol.String(),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnEventError: func(ctx EventContext, err error) {
			logger.Error("Event failed", err, loggingpkg.LogFields{
				"consumer":    ctx.Consumer,
				"event_id":    ctx.EventID,
				"protocol":    ctx.Protocol.String(),
				"sequence":    ctx.Sequence,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward consume outcomes to counters.
func MetricsHooks(onStart, onDone, onError func(consumer string, protocol event.ProtocolType)) ConsumerHooks {
	return ConsumerHooks{
		OnEventStart: func(ctx EventContext) {
			if onStart != nil {
				onStart(ctx.Consumer, ctx.Protocol)
			}
		},
		OnEventDone: func(ctx EventContext) {
			if onDone != nil {
				onDone(ctx.Consumer, ctx.Protocol)
			}
		},
		OnEventError: func(ctx EventContext, err error) {
			if onError != nil {
				onError(ctx.Consumer, ctx.Protocol)
			}
		},
	}
}

// AlertingHooks returns hooks that trigger alerts on consumer errors.
func AlertingHooks(alertFunc func(ctx EventContext, err error)) ConsumerHooks {
	return ConsumerHooks{
		OnEventError: alertFunc,
	}
}
