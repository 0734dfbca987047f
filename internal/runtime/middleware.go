package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
)

const tracerName = "github.com/drblury/ringflow"

// ConsumerMiddleware decorates a consumer.
type ConsumerMiddleware func(Consumer) Consumer

// MiddlewareBuilder constructs a consumer middleware using the queue instance.
type MiddlewareBuilder func(*Queue) (ConsumerMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to a Queue.
type MiddlewareRegistration struct {
	Name       string
	Middleware ConsumerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain applied to every consumer unless
// QueueDependencies.DisableDefaultMiddlewares is set. The first entry is
// the outermost wrapper.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogEventsMiddleware(nil),
		TracerMiddleware(),
		RecovererMiddleware(),
	}
}

// LogEventsMiddleware logs every event a consumer receives at debug level.
func LogEventsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_events",
		Builder: func(q *Queue) (ConsumerMiddleware, error) {
			l := logger
			if l == nil {
				l = q.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return logEventsMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps each consume call in an OpenTelemetry span linked
// to the span the producer attached to the event, if any.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RecovererMiddleware converts consumer panics into *PanicError values.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: recovererMiddleware,
	}
}

// TimeoutMiddleware bounds each consume call with a deadline.
func TimeoutMiddleware(timeout time.Duration) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "timeout",
		Builder: func(*Queue) (ConsumerMiddleware, error) {
			if timeout <= 0 {
				return nil, nil
			}
			return timeoutMiddleware(timeout), nil
		},
	}
}

// RegisterMiddleware adds a middleware for consumers registered afterwards.
func (q *Queue) RegisterMiddleware(cfg MiddlewareRegistration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if st := q.State(); st != StateCreated {
		return &errspkg.InvalidStateError{Op: "register middleware on", State: st.String()}
	}

	var mw ConsumerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(q)
		if err != nil {
			return err
		}
	default:
		return errspkg.ErrMiddlewareRequired
	}

	if mw == nil {
		return nil
	}

	q.middlewares = append(q.middlewares, mw)
	return nil
}

func logEventsMiddleware(logger loggingpkg.ServiceLogger) ConsumerMiddleware {
	return func(next Consumer) Consumer {
		return ConsumerFunc(func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) error {
			logger.Debug("Processing event", loggingpkg.LogFields{
				"consumer":     ConsumerNameFromContext(ctx),
				"event_id":     ev.ID,
				"protocol":     ev.Protocol.String(),
				"client_id":    ev.ClientID,
				"route":        ev.Route,
				"sequence":     seq,
				"end_of_batch": endOfBatch,
			})
			return next.Consume(ctx, ev, seq, endOfBatch)
		})
	}
}

func tracerMiddleware(next Consumer) Consumer {
	return ConsumerFunc(func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) error {
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("event.id", ev.ID),
				attribute.String("event.protocol", ev.Protocol.String()),
				attribute.String("event.client_id", ev.ClientID),
				attribute.String("event.route", ev.Route),
				attribute.Int64("ringflow.sequence", seq),
				attribute.Bool("ringflow.end_of_batch", endOfBatch),
				attribute.String("ringflow.consumer", ConsumerNameFromContext(ctx)),
			),
		}
		if producer := trace.SpanContextFromContext(ev.Context()); producer.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: producer}))
		}

		ctx, span := otel.Tracer(tracerName).Start(ctx, "ConsumeEvent", opts...)
		defer span.End()

		err := next.Consume(ctx, ev, seq, endOfBatch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
}

func recovererMiddleware(next Consumer) Consumer {
	return ConsumerFunc(func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &errspkg.PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		return next.Consume(ctx, ev, seq, endOfBatch)
	})
}

func timeoutMiddleware(timeout time.Duration) ConsumerMiddleware {
	return func(next Consumer) Consumer {
		return ConsumerFunc(func(ctx context.Context, ev *event.Event, seq int64, endOfBatch bool) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := next.Consume(ctx, ev, seq, endOfBatch); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("consumer exceeded %s: %w", timeout, err)
			}
			return nil
		})
	}
}
