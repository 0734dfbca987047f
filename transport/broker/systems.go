package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/transport"
)

// Message infrastructures bridged by the broker front-end.
const (
	SystemChannel  = "channel"
	SystemKafka    = "kafka"
	SystemRabbitMQ = "rabbitmq"
	SystemNATS     = "nats"
)

// System connects to one message infrastructure. The publisher carries
// consumer replies and may be nil.
type System func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, message.Publisher, error)

var (
	systemsMu sync.RWMutex
	systems = map[string]System{
		SystemChannel:  buildChannel,
		SystemKafka:    buildKafka,
		SystemRabbitMQ: buildRabbitMQ,
		SystemNATS:     buildNATS,
	}
)

// RegisterSystem adds or replaces a message infrastructure.
func RegisterSystem(name string, system System) {
	systemsMu.Lock()
	defer systemsMu.Unlock()
	systems[name] = system
}

// Systems returns the sorted names of the known infrastructures.
func Systems() []string {
	systemsMu.RLock()
	defer systemsMu.RUnlock()
	names := make([]string, 0, len(systems))
	for name := range systems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupSystem(name string) (System, error) {
	systemsMu.RLock()
	defer systemsMu.RUnlock()
	system, ok := systems[name]
	if !ok {
		return nil, fmt.Errorf("%w: broker system %q", errspkg.ErrUnknownFrontend, name)
	}
	return system, nil
}

// ChannelFactory allows overriding the in-process pub/sub creation for testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func buildChannel(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, message.Publisher, error) {
	pub, sub := ChannelFactory(gochannel.Config{}, logger)
	return sub, pub, nil
}

// KafkaPublisherFactory allows overriding the Kafka publisher creation for testing.
var KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// KafkaSubscriberFactory allows overriding the Kafka subscriber creation for testing.
var KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func buildKafka(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, message.Publisher, error) {
	brokers := cfg.GetKafkaBrokers()

	subscriber, err := KafkaSubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: cfg.GetKafkaConsumerGroup(),
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka subscriber: %w", err)
	}

	publisher, err := KafkaPublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()
		return nil, nil, fmt.Errorf("kafka publisher: %w", err)
	}
	return subscriber, publisher, nil
}

// AMQPConnectionFactory allows overriding the RabbitMQ connection creation for testing.
var AMQPConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// AMQPPublisherFactory allows overriding the RabbitMQ publisher creation for testing.
var AMQPPublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// AMQPSubscriberFactory allows overriding the RabbitMQ subscriber creation for testing.
var AMQPSubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func buildRabbitMQ(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, message.Publisher, error) {
	url := cfg.GetRabbitMQURL()
	amqpConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)

	conn, err := AMQPConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq connection: %w", err)
	}

	subscriber, err := AMQPSubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq subscriber: %w", err)
	}

	publisher, err := AMQPPublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = subscriber.Close()
		return nil, nil, fmt.Errorf("rabbitmq publisher: %w", err)
	}
	return subscriber, publisher, nil
}

// NATSPublisherFactory allows overriding the NATS publisher creation for testing.
var NATSPublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

// NATSSubscriberFactory allows overriding the NATS subscriber creation for testing.
var NATSSubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func natsOptions() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name("ringflow"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.Timeout(30 * time.Second),
		natsgo.ReconnectWait(time.Second),
	}
}

func buildNATS(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Subscriber, message.Publisher, error) {
	url := cfg.GetNATSURL()
	marshaler := &wmnats.NATSMarshaler{}
	jetStream := wmnats.JetStreamConfig{Disabled: true}

	subscriber, err := NATSSubscriberFactory(
		wmnats.SubscriberConfig{
			URL:         url,
			NatsOptions: natsOptions(),
			Unmarshaler: marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscriber: %w", err)
	}

	publisher, err := NATSPublisherFactory(
		wmnats.PublisherConfig{
			URL:         url,
			NatsOptions: natsOptions(),
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()
		return nil, nil, fmt.Errorf("nats publisher: %w", err)
	}
	return subscriber, publisher, nil
}
