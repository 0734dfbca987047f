package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

func TestDeliver(t *testing.T) {
	ev := event.New(event.ProtocolTCP, "c1", nil)

	assert.NoError(t, Deliver(context.Background(), acceptAll, ev))

	refused := PublisherFunc(func(context.Context, *event.Event) (bool, error) { return false, nil })
	err := Deliver(context.Background(), refused, ev)
	assert.ErrorIs(t, err, errspkg.ErrQueueFull)
	assert.True(t, IsBusy(err))

	stopped := PublisherFunc(func(context.Context, *event.Event) (bool, error) {
		return false, &errspkg.InvalidStateError{Op: "publish to", State: "STOPPED"}
	})
	err = Deliver(context.Background(), stopped, ev)
	assert.ErrorIs(t, err, errspkg.ErrInvalidState)
	assert.True(t, IsBusy(err))

	failing := PublisherFunc(func(context.Context, *event.Event) (bool, error) { return false, context.DeadlineExceeded })
	err = Deliver(context.Background(), failing, ev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsBusy(err))

	assert.ErrorIs(t, Deliver(context.Background(), nil, ev), errspkg.ErrPublisherRequired)
}

type nonBlockingPublisher struct {
	t        *testing.T
	accepted bool
	tried    int
}

func (p *nonBlockingPublisher) Publish(context.Context, *event.Event) (bool, error) {
	p.t.Error("Publish must not be used when TryPublish is available")
	return false, nil
}

func (p *nonBlockingPublisher) TryPublish(context.Context, *event.Event) (bool, error) {
	p.tried++
	return p.accepted, nil
}

func TestDeliverNow(t *testing.T) {
	ev := event.New(event.ProtocolUDP, "c1", nil)

	pub := &nonBlockingPublisher{t: t, accepted: true}
	require.NoError(t, DeliverNow(context.Background(), pub, ev))

	pub.accepted = false
	err := DeliverNow(context.Background(), pub, ev)
	assert.ErrorIs(t, err, errspkg.ErrQueueFull)
	assert.True(t, IsBusy(err))
	assert.Equal(t, 2, pub.tried)

	// plain publishers fall back to Deliver
	assert.NoError(t, DeliverNow(context.Background(), acceptAll, ev))
	assert.ErrorIs(t, DeliverNow(context.Background(), nil, ev), errspkg.ErrPublisherRequired)
}

func TestDependenciesNormalize(t *testing.T) {
	_, err := Dependencies{}.Normalize(nil)
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)

	stats := statspkg.New()
	deps, err := Dependencies{Publisher: acceptAll, Stats: stats}.Normalize(&mockConfig{cacheSize: 1})
	require.NoError(t, err)
	assert.Same(t, stats, deps.Stats)
	assert.NotNil(t, deps.Logger)

	deps.Clients.Seen("a")
	deps.Clients.Seen("b")
	assert.Equal(t, 1, deps.Clients.Len(), "cache size comes from config")
}

func TestClientTracker(t *testing.T) {
	stats := statspkg.New()
	tracker := NewClientTracker(2, stats)

	assert.False(t, tracker.Seen("alpha"))
	assert.True(t, tracker.Seen("alpha"))
	assert.False(t, tracker.Seen(""))
	assert.Equal(t, int64(1), stats.TotalClients())

	id := tracker.Resolve("10.0.0.1:5000")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, tracker.Resolve("10.0.0.1:5000"))
	assert.Equal(t, int64(2), stats.TotalClients())

	// A third key evicts the least recently used one, which then counts again.
	assert.False(t, tracker.Seen("beta"))
	assert.Equal(t, 2, tracker.Len())
	assert.False(t, tracker.Seen("alpha"))
	assert.Equal(t, int64(4), stats.TotalClients())

	tracker.Forget("alpha")
	assert.Equal(t, 1, tracker.Len())

	assert.NotNil(t, NewClientTracker(0, nil))
	assert.False(t, NewClientTracker(0, nil).Seen("x"))
}

func TestFuncChannel(t *testing.T) {
	var (
		mu   sync.Mutex
		sent [][]byte
	)
	ch := NewFuncChannel("peer:1", func(_ context.Context, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, payload)
		return nil
	})
	assert.Equal(t, "peer:1", ch.RemoteAddr())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ch.Send(context.Background(), []byte("x")))
		}()
	}
	wg.Wait()
	assert.Len(t, sent, 10)

	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send(context.Background(), []byte("late")), ErrReplyClosed)

	broken := NewFuncChannel("peer:2", func(context.Context, []byte) error { return errors.New("write failed") })
	assert.EqualError(t, broken.Send(context.Background(), nil), "write failed")
}

func TestReplyChannel(t *testing.T) {
	ch := NewReplyChannel("peer:1")
	assert.Equal(t, "peer:1", ch.RemoteAddr())

	payload := []byte("first")
	require.NoError(t, ch.Send(context.Background(), payload))
	payload[0] = 'F'
	assert.ErrorIs(t, ch.Send(context.Background(), []byte("second")), ErrReplyClosed)

	assert.Equal(t, []byte("first"), <-ch.Replies(), "the reply is copied")

	closed := NewReplyChannel("peer:2")
	require.NoError(t, closed.Close())
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.Send(context.Background(), []byte("x")), ErrReplyClosed)
}
