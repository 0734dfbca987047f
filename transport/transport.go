// Package transport defines the boundary between network front-ends and the
// ringflow queue. Each front-end (http, websocket, tcp, udp, custom, mqtt,
// broker) lives in its own sub-package and registers a Builder with the
// registry. Front-ends only decode requests into events, publish them and
// hand consumers a reply channel.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

// ErrReplyClosed is returned by reply channels after the request that owned
// them has completed.
var ErrReplyClosed = errors.New("ringflow: reply channel closed")

// Publisher is the queue's inbound contract.
type Publisher interface {
	Publish(ctx context.Context, ev *event.Event) (bool, error)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, ev *event.Event) (bool, error)

func (f PublisherFunc) Publish(ctx context.Context, ev *event.Event) (bool, error) {
	return f(ctx, ev)
}

// TryPublisher is implemented by publishers that can refuse an event instead
// of waiting for capacity. The queue implements it.
type TryPublisher interface {
	TryPublish(ctx context.Context, ev *event.Event) (bool, error)
}

// Listener is a running front-end.
type Listener interface {
	// Name is the registry name of the front-end.
	Name() string
	// Addr is the bound address, available as soon as the builder returns.
	Addr() string
	// Serve accepts traffic until ctx ends or Close is called.
	Serve(ctx context.Context) error
	Close() error
}

// Dependencies are shared by every front-end built from one registry call.
type Dependencies struct {
	Publisher Publisher
	Stats     *statspkg.Collector
	Logger    watermill.LoggerAdapter
	Clients   *ClientTracker
}

// Normalize fills optional dependencies with working defaults.
func (d Dependencies) Normalize(cfg Config) (Dependencies, error) {
	if d.Publisher == nil {
		return d, errspkg.ErrPublisherRequired
	}
	if d.Stats == nil {
		d.Stats = statspkg.New()
	}
	if d.Logger == nil {
		d.Logger = watermill.NopLogger{}
	}
	if d.Clients == nil {
		size := 0
		if cfg != nil {
			size = cfg.GetClientCacheSize()
		}
		d.Clients = NewClientTracker(size, d.Stats)
	}
	return d, nil
}

// Builder creates a front-end from configuration. Builders bind their
// sockets eagerly so Addr works before Serve.
type Builder func(ctx context.Context, cfg Config, deps Dependencies) (Listener, error)

// Config provides the configuration values needed by front-ends.
// This interface allows front-ends to access only the config they need
// without depending on the full config package.
type Config interface {
	GetHTTPAddress() string
	GetWebSocketAddress() string
	GetTCPAddress() string
	GetUDPAddress() string
	GetCustomAddress() string

	// GetReplyTimeout bounds how long request/response front-ends wait for a
	// consumer reply.
	GetReplyTimeout() time.Duration
	GetMaxMessageSize() int
	GetClientCacheSize() int

	// MQTT
	GetMQTTBrokerURL() string
	GetMQTTClientID() string
	GetMQTTUsername() string
	GetMQTTPassword() string
	GetMQTTTopics() []string

	// Broker bridge
	GetBrokerSystem() string
	GetBrokerTopics() []string
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
	GetRabbitMQURL() string
	GetNATSURL() string
}

// Deliver publishes ev and turns a refused publish into ErrQueueFull, which
// front-ends map to their protocol's busy reply.
func Deliver(ctx context.Context, pub Publisher, ev *event.Event) error {
	if pub == nil {
		return errspkg.ErrPublisherRequired
	}
	ok, err := pub.Publish(ctx, ev)
	if err != nil {
		return err
	}
	if !ok {
		return errspkg.ErrQueueFull
	}
	return nil
}

// DeliverNow is Deliver without waiting for capacity when pub supports it.
// Front-ends that drop traffic when busy use it so a full queue never stalls
// their read loop.
func DeliverNow(ctx context.Context, pub Publisher, ev *event.Event) error {
	tp, ok := pub.(TryPublisher)
	if !ok {
		return Deliver(ctx, pub, ev)
	}
	accepted, err := tp.TryPublish(ctx, ev)
	if err != nil {
		return err
	}
	if !accepted {
		return errspkg.ErrQueueFull
	}
	return nil
}

// IsBusy reports whether err means the queue could not take the event right
// now. A stopping queue counts as busy for the caller.
func IsBusy(err error) bool {
	return errors.Is(err, errspkg.ErrQueueFull) || errors.Is(err, errspkg.ErrInvalidState)
}
