/*
Package runtime provides the event queue at the centre of ringflow.

# Architecture Overview

Network front-ends turn decoded requests into event.Event values and call
Queue.Publish. The queue copies each event into a preallocated ring slot
claimed through a multi-producer sequencer, and a single dispatch goroutine
hands every published event to each registered consumer in registration
order before the slot is reused.

# Package Structure

## Queue (queue.go)

The Queue owns the ring buffer, the lifecycle state machine
(CREATED, STARTED, STOPPING, STOPPED), consumer registration and the
publish path with its overflow policy:
  - OverflowBlock retries with backoff until a slot frees up
  - OverflowReject reports a full buffer immediately

## Dispatch (dispatch.go)

The dispatch loop waits on the ring barrier for the highest contiguous
published sequence and processes the batch. A failing or panicking
consumer is logged and counted; the loop moves on. On Stop the loop drains
everything published before the stop began, bounded by the drain timeout.

## Middleware and hooks (middleware.go, hooks.go)

Consumers are wrapped at registration time. The default chain logs events,
opens an OpenTelemetry span per consume call and recovers panics.
ConsumerHooks expose start, done and error callbacks.

## Status API (webui.go, resources.go)

When enabled, the queue serves /api/status, /api/stats and
/api/stats/reset, and exposes the statistics collector on /metrics.

# Subpackages

  - ring: sequences, sequencer, barrier, wait strategies and backoff
  - event: the event envelope and protocol tags
  - stats: the statistics collector and its Prometheus view
  - config: configuration struct, validation and loading
  - errors: sentinel and typed errors
  - logging: the ServiceLogger abstraction
  - ids: ULID and client id generation
  - jsoncodec: sonic-backed JSON helpers
*/
package runtime
