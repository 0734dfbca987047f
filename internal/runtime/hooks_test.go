package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ringflow/internal/runtime/event"
)

func TestConsumerHooks_OnEventStart(t *testing.T) {
	var called bool
	var captured EventContext

	hooks := ConsumerHooks{
		OnEventStart: func(ctx EventContext) {
			called = true
			captured = ctx
		},
	}

	consumer := hooksMiddleware(hooks)(ConsumerFunc(func(context.Context, *event.Event, int64, bool) error {
		return nil
	}))

	ev := event.New(event.ProtocolWebSocket, "client-9", []byte("payload"))
	ev.Route = "chat"
	require.NoError(t, consumer.Consume(withConsumerName(context.Background(), "chat"), ev, 3, true))

	assert.True(t, called)
	assert.Equal(t, "chat", captured.Consumer)
	assert.Equal(t, ev.ID, captured.EventID)
	assert.Equal(t, event.ProtocolWebSocket, captured.Protocol)
	assert.Equal(t, "client-9", captured.ClientID)
	assert.Equal(t, "chat", captured.Route)
	assert.Equal(t, int64(3), captured.Sequence)
	assert.True(t, captured.EndOfBatch)
	assert.False(t, captured.StartedAt.IsZero())
}

func TestConsumerHooks_OnEventDone(t *testing.T) {
	var called bool
	var captured EventContext

	hooks := ConsumerHooks{
		OnEventDone: func(ctx EventContext) {
			called = true
			captured = ctx
		},
		OnEventError: func(EventContext, error) {
			t.Fatal("error hook must not run on success")
		},
	}

	consumer := hooksMiddleware(hooks)(ConsumerFunc(func(context.Context, *event.Event, int64, bool) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}))

	require.NoError(t, consumer.Consume(context.Background(), event.New(event.ProtocolTCP, "c1", nil), 0, false))
	assert.True(t, called)
	assert.GreaterOrEqual(t, captured.Duration, 10*time.Millisecond)
}

func TestConsumerHooks_OnEventError(t *testing.T) {
	var captured error
	expectedErr := errors.New("consumer error")

	hooks := ConsumerHooks{
		OnEventDone: func(EventContext) {
			t.Fatal("done hook must not run on failure")
		},
		OnEventError: func(_ EventContext, err error) {
			captured = err
		},
	}

	consumer := hooksMiddleware(hooks)(ConsumerFunc(func(context.Context, *event.Event, int64, bool) error {
		return expectedErr
	}))

	err := consumer.Consume(context.Background(), event.New(event.ProtocolTCP, "c1", nil), 0, false)
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, expectedErr, captured)
}

func TestConsumerHooks_Merge(t *testing.T) {
	var order []string

	first := ConsumerHooks{
		OnEventStart: func(EventContext) { order = append(order, "first-start") },
		OnEventError: func(EventContext, error) { order = append(order, "first-error") },
	}
	second := ConsumerHooks{
		OnEventStart: func(EventContext) { order = append(order, "second-start") },
		OnEventDone:  func(EventContext) { order = append(order, "second-done") },
		OnEventError: func(EventContext, error) { order = append(order, "second-error") },
	}

	merged := first.Merge(second)
	merged.OnEventStart(EventContext{})
	merged.OnEventDone(EventContext{})
	merged.OnEventError(EventContext{}, errors.New("x"))

	assert.Equal(t, []string{"first-start", "second-start", "second-done", "first-error", "second-error"}, order)

	empty := ConsumerHooks{}.Merge(ConsumerHooks{})
	assert.Nil(t, empty.OnEventStart)
	assert.Nil(t, empty.OnEventDone)
	assert.Nil(t, empty.OnEventError)
}

func TestMetricsHooks(t *testing.T) {
	var starts, dones, errs int

	hooks := MetricsHooks(
		func(consumer string, protocol event.ProtocolType) {
			starts++
			assert.Equal(t, "billing", consumer)
			assert.Equal(t, event.ProtocolMQTT, protocol)
		},
		func(string, event.ProtocolType) { dones++ },
		func(string, event.ProtocolType) { errs++ },
	)

	ec := EventContext{Consumer: "billing", Protocol: event.ProtocolMQTT}
	hooks.OnEventStart(ec)
	hooks.OnEventDone(ec)
	hooks.OnEventError(ec, errors.New("x"))

	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, dones)
	assert.Equal(t, 1, errs)

	nilHooks := MetricsHooks(nil, nil, nil)
	nilHooks.OnEventStart(ec)
	nilHooks.OnEventDone(ec)
	nilHooks.OnEventError(ec, errors.New("x"))
}

func TestLoggingAndAlertingHooks(t *testing.T) {
	logging := LoggingHooks(newTestLogger())
	ec := EventContext{Consumer: "audit", EventID: "01H", Protocol: event.ProtocolHTTP}
	logging.OnEventStart(ec)
	logging.OnEventDone(ec)
	logging.OnEventError(ec, errors.New("x"))

	var alerted error
	alerting := AlertingHooks(func(_ EventContext, err error) { alerted = err })
	assert.Nil(t, alerting.OnEventStart)
	alerting.OnEventError(ec, errors.New("page someone"))
	assert.EqualError(t, alerted, "page someone")
}

func TestHooksMiddlewareOnQueue(t *testing.T) {
	var (
		mu     sync.Mutex
		done   []string
		failed []string
	)
	hooks := ConsumerHooks{
		OnEventDone: func(ctx EventContext) {
			mu.Lock()
			done = append(done, ctx.Consumer)
			mu.Unlock()
		},
		OnEventError: func(ctx EventContext, _ error) {
			mu.Lock()
			failed = append(failed, ctx.Consumer)
			mu.Unlock()
		},
	}

	q := newTestQueue(t, newTestConfig(8), QueueDependencies{
		DisableDefaultMiddlewares: true,
		Middlewares:               []MiddlewareRegistration{HooksMiddleware(hooks), RecovererMiddleware()},
	})
	require.NoError(t, q.RegisterConsumer("ok", ConsumerFunc(func(context.Context, *event.Event, int64, bool) error { return nil })))
	require.NoError(t, q.RegisterConsumer("panicky", ConsumerFunc(func(context.Context, *event.Event, int64, bool) error { panic("nope") })))
	require.NoError(t, q.Start(context.Background()))
	for i := 0; i < 2; i++ {
		_, err := q.Publish(context.Background(), event.New(event.ProtocolHTTP, "c1", i))
		require.NoError(t, err)
	}
	stopQueue(t, q)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ok", "ok"}, done)
	assert.Equal(t, []string{"panicky", "panicky"}, failed)
}
