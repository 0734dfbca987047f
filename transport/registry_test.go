package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
)

// Mock config for testing
type mockConfig struct {
	cacheSize int
}

func (m *mockConfig) GetHTTPAddress() string         { return "" }
func (m *mockConfig) GetWebSocketAddress() string    { return "" }
func (m *mockConfig) GetTCPAddress() string          { return "" }
func (m *mockConfig) GetUDPAddress() string          { return "" }
func (m *mockConfig) GetCustomAddress() string       { return "" }
func (m *mockConfig) GetReplyTimeout() time.Duration { return 0 }
func (m *mockConfig) GetMaxMessageSize() int         { return 0 }
func (m *mockConfig) GetClientCacheSize() int        { return m.cacheSize }
func (m *mockConfig) GetMQTTBrokerURL() string       { return "" }
func (m *mockConfig) GetMQTTClientID() string        { return "" }
func (m *mockConfig) GetMQTTUsername() string        { return "" }
func (m *mockConfig) GetMQTTPassword() string        { return "" }
func (m *mockConfig) GetMQTTTopics() []string        { return nil }
func (m *mockConfig) GetBrokerSystem() string        { return "" }
func (m *mockConfig) GetBrokerTopics() []string      { return nil }
func (m *mockConfig) GetKafkaBrokers() []string      { return nil }
func (m *mockConfig) GetKafkaConsumerGroup() string  { return "" }
func (m *mockConfig) GetRabbitMQURL() string         { return "" }
func (m *mockConfig) GetNATSURL() string             { return "" }

type mockListener struct {
	name   string
	closed bool
	err    error
	deps   Dependencies
}

func (m *mockListener) Name() string                { return m.name }
func (m *mockListener) Addr() string                { return "mock:" + m.name }
func (m *mockListener) Serve(context.Context) error { return nil }
func (m *mockListener) Close() error {
	m.closed = true
	return m.err
}

var acceptAll = PublisherFunc(func(context.Context, *event.Event) (bool, error) { return true, nil })

func mockBuilder(name string, built *[]*mockListener) Builder {
	return func(_ context.Context, _ Config, deps Dependencies) (Listener, error) {
		l := &mockListener{name: name, deps: deps}
		if built != nil {
			*built = append(*built, l)
		}
		return l, nil
	}
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test-frontend", mockBuilder("test-frontend", nil))

	assert.True(t, reg.Has("test-frontend"))
	assert.False(t, reg.Has("missing"))
	assert.Contains(t, reg.Names(), "test-frontend")
	assert.Equal(t, Capabilities{Name: "test-frontend"}, reg.GetCapabilities("test-frontend"))
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("tcp", mockBuilder("tcp", nil), TCPCapabilities)

	caps := reg.GetCapabilities("tcp")
	assert.Equal(t, "tcp", caps.Name)
	assert.True(t, caps.ConnectionOriented)
	assert.Equal(t, FramingLine, caps.Framing)
}

func TestRegistry_Names_Sorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"udp", "http", "mqtt"} {
		reg.Register(name, mockBuilder(name, nil))
	}
	assert.Equal(t, []string{"http", "mqtt", "udp"}, reg.Names())
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mock", mockBuilder("mock", nil))

	t.Run("requires config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), "mock", nil, Dependencies{Publisher: acceptAll})
		assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
	})

	t.Run("unknown front-end", func(t *testing.T) {
		_, err := reg.Build(context.Background(), "nope", &mockConfig{}, Dependencies{Publisher: acceptAll})
		assert.ErrorIs(t, err, errspkg.ErrUnknownFrontend)
		assert.Contains(t, err.Error(), "mock")
	})

	t.Run("requires publisher", func(t *testing.T) {
		_, err := reg.Build(context.Background(), "mock", &mockConfig{}, Dependencies{})
		assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
	})

	t.Run("normalizes dependencies", func(t *testing.T) {
		l, err := reg.Build(context.Background(), "mock", &mockConfig{cacheSize: 2}, Dependencies{Publisher: acceptAll})
		require.NoError(t, err)
		deps := l.(*mockListener).deps
		assert.NotNil(t, deps.Stats)
		assert.NotNil(t, deps.Logger)
		require.NotNil(t, deps.Clients)
	})
}

func TestRegistry_BuildAll(t *testing.T) {
	var built []*mockListener
	reg := NewRegistry()
	reg.Register("a", mockBuilder("a", &built))
	reg.Register("b", mockBuilder("b", &built))

	listeners, err := reg.BuildAll(context.Background(), []string{"a", "b"}, &mockConfig{}, Dependencies{Publisher: acceptAll})
	require.NoError(t, err)
	require.Len(t, listeners, 2)
	assert.Same(t, built[0].deps.Clients, built[1].deps.Clients, "front-ends share one client tracker")
	assert.Same(t, built[0].deps.Stats, built[1].deps.Stats)
}

func TestRegistry_BuildAllClosesOnFailure(t *testing.T) {
	var built []*mockListener
	reg := NewRegistry()
	reg.Register("a", mockBuilder("a", &built))
	reg.Register("broken", func(context.Context, Config, Dependencies) (Listener, error) {
		return nil, errors.New("bind failed")
	})

	_, err := reg.BuildAll(context.Background(), []string{"a", "broken"}, &mockConfig{}, Dependencies{Publisher: acceptAll})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build front-end broken")
	require.Len(t, built, 1)
	assert.True(t, built[0].closed)
}

func TestCloseAll(t *testing.T) {
	a := &mockListener{name: "a"}
	b := &mockListener{name: "b", err: errors.New("boom")}

	err := CloseAll([]Listener{a, b})
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.EqualError(t, err, "close b: boom")
	assert.NoError(t, CloseAll(nil))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	original := DefaultRegistry
	defer func() { DefaultRegistry = original }()
	DefaultRegistry = NewRegistry()

	Register("plain", mockBuilder("plain", nil))
	RegisterWithCapabilities("udp", mockBuilder("udp", nil), UDPCapabilities)

	assert.Equal(t, UDPCapabilities, GetCapabilities("udp"))
	l, err := Build(context.Background(), "plain", &mockConfig{}, Dependencies{Publisher: acceptAll})
	require.NoError(t, err)
	assert.Equal(t, "plain", l.Name())

	listeners, err := BuildAll(context.Background(), []string{"plain", "udp"}, &mockConfig{}, Dependencies{Publisher: acceptAll})
	require.NoError(t, err)
	assert.Len(t, listeners, 2)
}
