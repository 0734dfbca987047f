// Package ringflow is a bounded, ordered, multi-producer event queue built on
// a ring buffer, with network front-ends that turn inbound requests into
// events.
//
// A Queue is created from Config, consumers are registered while it is still
// CREATED, and Start launches the single dispatch goroutine that hands every
// published event to each consumer in registration order. Publish claims a
// slot, copies the event into it and makes it visible; when the ring is full
// the configured overflow policy either rejects the event or retries with
// backoff. Stop closes the queue to new events, drains what was already
// accepted and reports a ShutdownTimeoutError when the drain does not finish
// in time. The lifecycle is CREATED, STARTED, STOPPED and never goes back.
//
// # Consumers
//
// A Consumer receives the event, its ring sequence and an end-of-batch flag
// that marks the last event of the batch the dispatch loop is draining.
// Consumers that need to answer the caller use Event.Reply, which writes to
// the front-end connection the event came from.
//
// # Middleware
//
// The default chain logs events, opens an OpenTelemetry span linked to the
// producer span and recovers panics. Additional middleware, consumer hooks and
// a per-call timeout can be registered through QueueDependencies.
//
// # Front-ends
//
// Front-ends live under transport/ and register themselves by name:
//   - http: POST requests with optional synchronous reply
//   - websocket: one event per frame, replies as frames
//   - tcp: newline-delimited messages
//   - udp: one event per datagram, busy datagrams are dropped
//   - custom: length-prefixed msgpack frames with correlation ids
//   - mqtt: subscriptions on a broker, replies on topic/reply
//   - broker: Watermill subscribers over Go channels, Kafka, RabbitMQ or NATS
//
// Import transport/transports to register all of them, then use BuildAll with
// the names from Config.Frontends.
package ringflow
