package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
	"github.com/drblury/ringflow/transport"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

// fakeClient implements the parts of paho.Client the front-end uses.
type fakeClient struct {
	paho.Client

	connectErr error

	mu           sync.Mutex
	handler      paho.MessageHandler
	filters      map[string]byte
	published    []published
	unsubscribed []string
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token { return &fakeToken{err: c.connectErr} }
func (c *fakeClient) IsConnected() bool   { return true }

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = filters
	c.handler = callback
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	handler(c, &fakeMessage{topic: topic, payload: payload})
}

func (c *fakeClient) publishedMessages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

type fakeMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	accept bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev *event.Event) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.accept, nil
}

func (p *recordingPublisher) snapshot() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Event(nil), p.events...)
}

func testConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.MQTTBrokerURL = "tcp://broker.local:1883"
	conf.MQTTClientID = "ringflow-test"
	conf.MQTTTopics = []string{"sensors/#", "commands"}
	return &conf
}

func useFakeClient(t *testing.T, client *fakeClient) {
	t.Helper()
	original := ClientFactory
	t.Cleanup(func() { ClientFactory = original })
	ClientFactory = func(*paho.ClientOptions) paho.Client { return client }
}

func serve(t *testing.T, l transport.Listener, client *fakeClient) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.handler != nil
	}, 5*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return cancel
}

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	assert.Equal(t, transport.MQTTCapabilities, transport.GetCapabilities(TransportName))
	assert.Equal(t, transport.MQTTCapabilities, Capabilities())
}

func TestBuildValidations(t *testing.T) {
	pub := &recordingPublisher{accept: true}

	conf := testConfig()
	conf.MQTTBrokerURL = ""
	_, err := Build(context.Background(), conf, transport.Dependencies{Publisher: pub})
	assert.ErrorIs(t, err, errBrokerURLRequired)

	conf = testConfig()
	conf.MQTTTopics = nil
	_, err = Build(context.Background(), conf, transport.Dependencies{Publisher: pub})
	assert.ErrorIs(t, err, errTopicsRequired)

	useFakeClient(t, &fakeClient{connectErr: errors.New("not authorized")})
	_, err = Build(context.Background(), testConfig(), transport.Dependencies{Publisher: pub})
	assert.ErrorContains(t, err, "not authorized")
}

func TestBuildConfiguresClient(t *testing.T) {
	client := &fakeClient{}
	original := ClientFactory
	defer func() { ClientFactory = original }()
	var opts *paho.ClientOptions
	ClientFactory = func(o *paho.ClientOptions) paho.Client {
		opts = o
		return client
	}

	l, err := Build(context.Background(), testConfig(), transport.Dependencies{Publisher: &recordingPublisher{}})
	require.NoError(t, err)
	assert.Equal(t, TransportName, l.Name())
	assert.Equal(t, "tcp://broker.local:1883", l.Addr())

	require.NotNil(t, opts)
	assert.Equal(t, "ringflow-test", opts.ClientID)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.True(t, opts.AutoReconnect)
}

func TestMessagesBecomeEvents(t *testing.T) {
	client := &fakeClient{}
	useFakeClient(t, client)
	stats := statspkg.New()
	pub := &recordingPublisher{accept: true}

	l, err := Build(context.Background(), testConfig(), transport.Dependencies{Publisher: pub, Stats: stats})
	require.NoError(t, err)
	serve(t, l, client)

	assert.Equal(t, map[string]byte{"sensors/#": qos, "commands": qos}, client.filters)

	client.deliver("sensors/kitchen", []byte(`{"temp":21.5}`))
	client.deliver("sensors/kitchen", []byte("raw"))
	client.deliver("sensors/kitchen/reply", []byte("ignored"))

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, event.ProtocolMQTT, events[0].Protocol)
	assert.Equal(t, "sensors/kitchen", events[0].Route)
	assert.Equal(t, map[string]any{"temp": 21.5}, events[0].Payload)
	assert.Equal(t, []byte("raw"), events[1].Payload)
	assert.Equal(t, events[0].ClientID, events[1].ClientID)
	assert.Equal(t, int64(1), stats.TotalClients())

	sent, err := events[0].Reply(context.Background(), []byte("ack"))
	require.True(t, sent)
	require.NoError(t, err)
	assert.Equal(t, []published{{topic: "sensors/kitchen/reply", payload: []byte("ack")}}, client.publishedMessages())
}

func TestBusyReplyIsPublished(t *testing.T) {
	client := &fakeClient{}
	useFakeClient(t, client)
	pub := &recordingPublisher{accept: false}

	l, err := Build(context.Background(), testConfig(), transport.Dependencies{Publisher: pub})
	require.NoError(t, err)
	serve(t, l, client)

	client.deliver("commands", []byte("reboot"))

	msgs := client.publishedMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "commands/reply", msgs[0].topic)
	var status StatusMessage
	require.NoError(t, jsoncodec.Unmarshal(msgs[0].payload, &status))
	assert.Equal(t, "busy", status.Error)
	assert.Equal(t, pub.snapshot()[0].ID, status.ID)
}

func TestCloseUnsubscribesAndDisconnects(t *testing.T) {
	client := &fakeClient{}
	useFakeClient(t, client)
	pub := &recordingPublisher{accept: true}

	l, err := Build(context.Background(), testConfig(), transport.Dependencies{Publisher: pub})
	require.NoError(t, err)
	serve(t, l, client)

	client.deliver("commands", []byte("x"))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	client.mu.Lock()
	assert.ElementsMatch(t, []string{"sensors/#", "commands"}, client.unsubscribed)
	assert.True(t, client.disconnected)
	client.mu.Unlock()

	_, err = pub.snapshot()[0].Reply(context.Background(), []byte("late"))
	assert.ErrorIs(t, err, transport.ErrReplyClosed)
}
