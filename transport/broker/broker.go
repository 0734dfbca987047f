// Package broker bridges an existing message infrastructure into ringflow.
// It subscribes to the configured topics through Watermill; a message the
// queue accepts is acked, a refused one is nacked so the broker redelivers
// it later.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "broker"

// ReplySuffix is appended to a topic to form the topic replies go to.
const ReplySuffix = ".reply"

// Metadata keys read from inbound and set on reply messages.
const (
	MetadataClientID      = "client_id"
	MetadataCorrelationID = "correlation_id"
)

var errTopicsRequired = errors.New("broker: at least one topic is required")

// nackDelay spaces out redeliveries while the queue is full.
var nackDelay = 100 * time.Millisecond

func init() {
	Register()
}

// Register registers the broker front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.BrokerCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.BrokerCapabilities
}

// Listener serves the broker front-end.
type Listener struct {
	system     string
	topics     []string
	subscriber message.Subscriber
	publisher  message.Publisher
	deps       transport.Dependencies

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Build connects to the configured broker system.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	topics := cfg.GetBrokerTopics()
	if len(topics) == 0 {
		return nil, errTopicsRequired
	}
	system, err := lookupSystem(cfg.GetBrokerSystem())
	if err != nil {
		return nil, err
	}

	subscriber, publisher, err := system(ctx, cfg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", cfg.GetBrokerSystem(), err)
	}
	return &Listener{
		system:     cfg.GetBrokerSystem(),
		topics:     topics,
		subscriber: subscriber,
		publisher:  publisher,
		deps:       deps,
		closed:     make(chan struct{}),
	}, nil
}

func (l *Listener) Name() string { return TransportName }

func (l *Listener) Addr() string { return l.system }

// Serve subscribes to every topic and blocks until ctx ends or Close is
// called. Messages still in flight at that point are nacked.
func (l *Listener) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range l.topics {
		messages, err := l.subscriber.Subscribe(gctx, topic)
		if err != nil {
			_ = l.Close()
			_ = g.Wait()
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		g.Go(func() error {
			l.consume(gctx, topic, messages)
			return nil
		})
	}
	l.deps.Logger.Info("Broker front-end subscribed", watermill.LogFields{"system": l.system, "topics": l.topics})

	select {
	case <-ctx.Done():
	case <-l.closed:
	}
	closeErr := l.Close()
	return errors.Join(g.Wait(), closeErr)
}

func (l *Listener) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			l.handle(ctx, topic, msg)
		}
	}
}

func (l *Listener) handle(ctx context.Context, topic string, msg *message.Message) {
	clientID := msg.Metadata.Get(MetadataClientID)
	if clientID != "" {
		l.deps.Clients.Seen(clientID)
	} else {
		clientID = l.deps.Clients.Resolve(topic)
	}

	data := append([]byte(nil), msg.Payload...)
	ev := event.New(event.ProtocolCustom, clientID, jsoncodec.Payload(data))
	ev.Route = topic
	if l.publisher != nil {
		replyTopic := topic + ReplySuffix
		correlationID := msg.UUID
		ev.Channel = transport.NewFuncChannel(replyTopic, func(_ context.Context, payload []byte) error {
			return l.reply(replyTopic, correlationID, payload)
		})
	}
	ev.SetContext(ctx)

	err := transport.Deliver(ctx, l.deps.Publisher, ev)
	if err == nil {
		msg.Ack()
		return
	}
	if !transport.IsBusy(err) && ctx.Err() == nil {
		l.deps.Logger.Error("Broker publish failed", err, watermill.LogFields{"topic": topic, "message_uuid": msg.UUID})
	}

	timer := time.NewTimer(nackDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-l.closed:
	}
	msg.Nack()
}

func (l *Listener) reply(topic, correlationID string, payload []byte) error {
	select {
	case <-l.closed:
		return transport.ErrReplyClosed
	default:
	}
	out := message.NewMessage(watermill.NewUUID(), payload)
	out.Metadata.Set(MetadataCorrelationID, correlationID)
	return l.publisher.Publish(topic, out)
}

// Close closes the subscriber and the reply publisher.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)

		var errs []error
		if err := l.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
		if l.publisher != nil && any(l.publisher) != any(l.subscriber) {
			if err := l.publisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close publisher: %w", err))
			}
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}
