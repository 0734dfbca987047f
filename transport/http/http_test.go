package http

import (
	"bytes"
	"context"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
	"github.com/drblury/ringflow/transport"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*event.Event
	accept bool
	err    error
	reply  []byte
}

func (p *capturePublisher) Publish(ctx context.Context, ev *event.Event) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil || !p.accept {
		return false, p.err
	}
	p.events = append(p.events, ev)
	if p.reply != nil {
		_, _ = ev.Reply(ctx, p.reply)
	}
	return true, nil
}

func (p *capturePublisher) last() *event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newHandler(pub transport.Publisher, opts Options) (nethttp.Handler, *statspkg.Collector) {
	stats := statspkg.New()
	return NewHandler(transport.Dependencies{Publisher: pub, Stats: stats}, opts), stats
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "http", caps.Name)
	assert.True(t, caps.SupportsReply)
	assert.False(t, caps.ConnectionOriented)
	assert.Equal(t, transport.HTTPCapabilities, Capabilities())
}

func TestPublishReturnsConsumerReply(t *testing.T) {
	pub := &capturePublisher{accept: true, reply: []byte(`{"status":"stored"}`)}
	h, stats := newHandler(pub, Options{ReplyTimeout: time.Second, MaxMessageSize: 1024})

	req := httptest.NewRequest(nethttp.MethodPost, "/events/sensor-7", strings.NewReader(`{"temp":21}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"stored"}`, rec.Body.String())

	ev := pub.last()
	require.NotNil(t, ev)
	assert.Equal(t, event.ProtocolHTTP, ev.Protocol)
	assert.Equal(t, "sensor-7", ev.ClientID)
	assert.Equal(t, "/events/sensor-7", ev.Route)
	assert.Equal(t, ev.ID, rec.Header().Get(HeaderEventID))
	assert.Equal(t, map[string]any{"temp": float64(21)}, ev.Payload)
	assert.Equal(t, int64(1), stats.TotalClients())
}

func TestPublishAcceptedWithoutReply(t *testing.T) {
	pub := &capturePublisher{accept: true}
	h, _ := newHandler(pub, Options{ReplyTimeout: 10 * time.Millisecond})

	req := httptest.NewRequest(nethttp.MethodPost, "/events", bytes.NewReader([]byte("raw bytes")))
	req.Header.Set(HeaderClientID, "header-client")
	req.Header.Set(HeaderRoute, "telemetry")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, nethttp.StatusAccepted, rec.Code)
	var body acceptedResponse
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &body))

	ev := pub.last()
	require.NotNil(t, ev)
	assert.Equal(t, ev.ID, body.ID)
	assert.Equal(t, "header-client", ev.ClientID)
	assert.Equal(t, "telemetry", ev.Route)
	assert.Equal(t, []byte("raw bytes"), ev.Payload)

	sent, err := ev.Reply(context.Background(), []byte("late"))
	assert.True(t, sent)
	assert.ErrorIs(t, err, transport.ErrReplyClosed, "replies after the request completed are refused")
}

func TestPublishBusyAndUnavailable(t *testing.T) {
	h, _ := newHandler(&capturePublisher{accept: false}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodPost, "/events", strings.NewReader("x")))
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "busy")

	stopped := &capturePublisher{err: &errspkg.InvalidStateError{Op: "publish to", State: "STOPPED"}}
	h, _ = newHandler(stopped, Options{})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodPost, "/events", strings.NewReader("x")))
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable")
}

func TestPublishRejectsOversizedBody(t *testing.T) {
	pub := &capturePublisher{accept: true}
	h, _ := newHandler(pub, Options{MaxMessageSize: 4})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodPost, "/events", strings.NewReader("too large")))
	assert.Equal(t, nethttp.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, pub.last())
}

func TestHealthz(t *testing.T) {
	h, _ := newHandler(&capturePublisher{}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/healthz", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestBuildServeAndClose(t *testing.T) {
	conf := configpkg.Default()
	conf.HTTPAddress = "127.0.0.1:0"
	conf.ReplyTimeout = 0

	pub := &capturePublisher{accept: true}
	stats := statspkg.New()
	l, err := Build(context.Background(), &conf, transport.Dependencies{
		Publisher: pub,
		Stats:     stats,
		Clients:   transport.NewClientTracker(8, stats),
	})
	require.NoError(t, err)
	assert.Equal(t, TransportName, l.Name())

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()

	resp, err := nethttp.Post("http://"+l.Addr()+"/events", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, nethttp.StatusAccepted, resp.StatusCode)
	assert.NotNil(t, pub.last())

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
	require.NoError(t, l.Close())
}

func TestBuildFailsWhenListenFails(t *testing.T) {
	original := ListenFactory
	defer func() { ListenFactory = original }()
	ListenFactory = func(string) (net.Listener, error) {
		return nil, assert.AnError
	}

	conf := configpkg.Default()
	_, err := Build(context.Background(), &conf, transport.Dependencies{Publisher: &capturePublisher{}})
	assert.ErrorIs(t, err, assert.AnError)
}
