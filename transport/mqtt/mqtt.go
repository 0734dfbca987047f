// Package mqtt provides the MQTT front-end for ringflow. It subscribes to the
// configured topics on a broker; every message becomes one event routed by
// its topic, and replies are published to the topic plus ReplySuffix.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "mqtt"

// ReplySuffix is appended to a message topic to form its reply topic.
// Messages on reply topics are never consumed.
const ReplySuffix = "/reply"

const (
	qos             = 1
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250
)

var (
	errBrokerURLRequired = errors.New("mqtt: broker url is required")
	errTopicsRequired    = errors.New("mqtt: at least one topic is required")
)

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *paho.ClientOptions) paho.Client {
	return paho.NewClient(opts)
}

func init() {
	Register()
}

// Register registers the MQTT front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.MQTTCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.MQTTCapabilities
}

// StatusMessage is published to the reply topic when the queue refuses a
// message.
type StatusMessage struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Listener serves the MQTT front-end.
type Listener struct {
	client    paho.Client
	brokerURL string
	topics    []string
	deps      transport.Dependencies

	mu      sync.Mutex
	ctx     context.Context
	serving bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Build connects to the configured broker.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	brokerURL := cfg.GetMQTTBrokerURL()
	if brokerURL == "" {
		return nil, errBrokerURLRequired
	}
	if len(cfg.GetMQTTTopics()) == 0 {
		return nil, errTopicsRequired
	}

	l := &Listener{
		brokerURL: brokerURL,
		topics:    cfg.GetMQTTTopics(),
		deps:      deps,
		ctx:       context.Background(),
		closed:    make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(cfg.GetMQTTClientID()).
		SetUsername(cfg.GetMQTTUsername()).
		SetPassword(cfg.GetMQTTPassword()).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(true).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			deps.Logger.Error("MQTT connection lost", err, watermill.LogFields{"broker": brokerURL})
		})

	l.client = ClientFactory(opts)
	token := l.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}
	return l, nil
}

func (l *Listener) Name() string { return TransportName }

func (l *Listener) Addr() string { return l.brokerURL }

// Serve subscribes to the topics and blocks until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.serving = true
	l.mu.Unlock()

	if err := l.subscribe(); err != nil {
		_ = l.Close()
		return err
	}
	l.deps.Logger.Info("MQTT front-end subscribed", watermill.LogFields{"broker": l.brokerURL, "topics": l.topics})

	select {
	case <-ctx.Done():
	case <-l.closed:
	}
	return l.Close()
}

// onConnect restores subscriptions after an automatic reconnect.
func (l *Listener) onConnect(paho.Client) {
	l.mu.Lock()
	serving := l.serving
	l.mu.Unlock()
	if !serving || l.isClosed() {
		return
	}
	if err := l.subscribe(); err != nil {
		l.deps.Logger.Error("MQTT resubscribe failed", err, watermill.LogFields{"broker": l.brokerURL})
	}
}

func (l *Listener) subscribe() error {
	filters := make(map[string]byte, len(l.topics))
	for _, topic := range l.topics {
		filters[topic] = qos
	}
	token := l.client.SubscribeMultiple(filters, l.handleMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt subscribe %v: timed out", l.topics)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %v: %w", l.topics, err)
	}
	return nil
}

func (l *Listener) serveContext() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}

// handleMessage runs on the client's router goroutine, so it never waits for
// its own publishes.
func (l *Listener) handleMessage(_ paho.Client, msg paho.Message) {
	topic := msg.Topic()
	if strings.HasSuffix(topic, ReplySuffix) {
		return
	}
	ctx := l.serveContext()

	// The broker hides the publisher, so the topic stands in for the client.
	data := append([]byte(nil), msg.Payload()...)
	ev := event.New(event.ProtocolMQTT, l.deps.Clients.Resolve(topic), jsoncodec.Payload(data))
	ev.Route = topic
	replyTopic := topic + ReplySuffix
	ev.Channel = transport.NewFuncChannel(replyTopic, func(_ context.Context, payload []byte) error {
		return l.publish(replyTopic, payload, true)
	})
	ev.SetContext(ctx)

	if err := transport.Deliver(ctx, l.deps.Publisher, ev); err != nil {
		if !transport.IsBusy(err) {
			l.deps.Logger.Error("MQTT publish failed", err, watermill.LogFields{"topic": topic})
			return
		}
		status, _ := jsoncodec.Marshal(StatusMessage{ID: ev.ID, Error: "busy"})
		if err := l.publish(replyTopic, status, false); err != nil {
			l.deps.Logger.Debug("MQTT busy reply failed", watermill.LogFields{"topic": replyTopic, "error": err.Error()})
		}
	}
}

func (l *Listener) publish(topic string, payload []byte, wait bool) error {
	if l.isClosed() {
		return transport.ErrReplyClosed
	}
	token := l.client.Publish(topic, qos, false, payload)
	if !wait {
		return nil
	}
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Close unsubscribes and disconnects from the broker.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)

		l.mu.Lock()
		serving := l.serving
		l.mu.Unlock()
		if serving && l.client.IsConnected() {
			token := l.client.Unsubscribe(l.topics...)
			if token.WaitTimeout(publishTimeout) {
				err = token.Error()
			}
		}
		l.client.Disconnect(disconnectQuiet)
	})
	return err
}
