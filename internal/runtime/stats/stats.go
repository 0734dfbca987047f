// Package stats keeps lock-free counters describing queue traffic and
// exposes them to Prometheus.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/drblury/ringflow/internal/runtime/event"
)

// ErrorCategory groups consumer failures for reporting.
type ErrorCategory uint8

const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryPanic
	ErrorCategoryCanceled
	ErrorCategoryTimeout
	ErrorCategoryOther
	numErrorCategories
)

var errorCategoryNames = [numErrorCategories]string{"none", "panic", "canceled", "timeout", "other"}

func (c ErrorCategory) String() string {
	if c < numErrorCategories {
		return errorCategoryNames[c]
	}
	return "other"
}

const numProtocols = int(event.ProtocolCustom) + 1

type protocolCounters struct {
	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// Collector aggregates request, connection and queue counters. Every method
// is safe for concurrent use and never blocks.
type Collector struct {
	started    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	active     atomic.Int64
	clients    atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
	rejected   atomic.Int64
	discarded  atomic.Int64
	resetAt    atomic.Int64

	byCategory [numErrorCategories]atomic.Int64
	byProtocol [numProtocols]protocolCounters

	metrics *promMetrics
}

// New returns a zeroed collector.
func New() *Collector {
	c := &Collector{metrics: newPromMetrics()}
	c.resetAt.Store(time.Now().UnixNano())
	return c
}

func (c *Collector) protocol(p event.ProtocolType) *protocolCounters {
	if int(p) >= numProtocols {
		return &c.byProtocol[event.ProtocolUnknown]
	}
	return &c.byProtocol[p]
}

// RequestStarted records an event entering consumer dispatch.
func (c *Collector) RequestStarted(p event.ProtocolType) {
	c.started.Add(1)
	c.protocol(p).started.Add(1)
}

// RequestCompleted records an event every consumer handled successfully.
func (c *Collector) RequestCompleted(p event.ProtocolType, took time.Duration) {
	c.completed.Add(1)
	c.protocol(p).completed.Add(1)
	nanos := took.Nanoseconds()
	c.totalNanos.Add(nanos)
	for {
		current := c.maxNanos.Load()
		if nanos <= current || c.maxNanos.CompareAndSwap(current, nanos) {
			break
		}
	}
	c.metrics.observe(p, "ok", took)
}

// RequestFailed records an event at least one consumer failed on.
func (c *Collector) RequestFailed(p event.ProtocolType, category ErrorCategory, took time.Duration) {
	if category >= numErrorCategories {
		category = ErrorCategoryOther
	}
	c.failed.Add(1)
	c.protocol(p).failed.Add(1)
	c.byCategory[category].Add(1)
	c.metrics.observe(p, "error", took)
}

// PublishRejected records a publish refused because the buffer was full.
func (c *Collector) PublishRejected(p event.ProtocolType) {
	c.rejected.Add(1)
	c.protocol(p).rejected.Add(1)
}

// EventsDiscarded records published events Stop dropped without consuming.
func (c *Collector) EventsDiscarded(n int64) {
	if n > 0 {
		c.discarded.Add(n)
	}
}

func (c *Collector) ConnectionOpened() {
	c.active.Add(1)
}

// ConnectionClosed decrements the active connection gauge without letting it
// go negative.
func (c *Collector) ConnectionClosed() {
	for {
		current := c.active.Load()
		if current <= 0 {
			return
		}
		if c.active.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ClientSeen records the first sighting of a distinct client.
func (c *Collector) ClientSeen() {
	c.clients.Add(1)
}

func (c *Collector) TotalRequests() int64     { return c.started.Load() }
func (c *Collector) CompletedRequests() int64 { return c.completed.Load() }
func (c *Collector) ErrorRequestCount() int64 { return c.failed.Load() }
func (c *Collector) ActiveConnections() int64 { return c.active.Load() }
func (c *Collector) TotalClients() int64      { return c.clients.Load() }
func (c *Collector) RejectedPublishes() int64 { return c.rejected.Load() }
func (c *Collector) DiscardedEvents() int64   { return c.discarded.Load() }

// InFlight returns events that started dispatch but have not finished.
func (c *Collector) InFlight() int64 {
	n := c.started.Load() - c.completed.Load() - c.failed.Load()
	if n < 0 {
		return 0
	}
	return n
}

func (c *Collector) ErrorsByCategory(category ErrorCategory) int64 {
	if category >= numErrorCategories {
		return 0
	}
	return c.byCategory[category].Load()
}

// AverageProcessingTime returns the mean processing time of completed
// requests in nanoseconds, or 0 before the first completion.
func (c *Collector) AverageProcessingTime() float64 {
	completed := c.completed.Load()
	if completed == 0 {
		return 0
	}
	return float64(c.totalNanos.Load()) / float64(completed)
}

func (c *Collector) AverageProcessingDuration() time.Duration {
	return time.Duration(c.AverageProcessingTime())
}

func (c *Collector) MaxProcessingDuration() time.Duration {
	return time.Duration(c.maxNanos.Load())
}

// Reset zeroes every counter. Concurrent updates racing with Reset may land
// on either side of it.
func (c *Collector) Reset() {
	c.started.Store(0)
	c.completed.Store(0)
	c.failed.Store(0)
	c.active.Store(0)
	c.clients.Store(0)
	c.totalNanos.Store(0)
	c.maxNanos.Store(0)
	c.rejected.Store(0)
	c.discarded.Store(0)
	for i := range c.byCategory {
		c.byCategory[i].Store(0)
	}
	for i := range c.byProtocol {
		pc := &c.byProtocol[i]
		pc.started.Store(0)
		pc.completed.Store(0)
		pc.failed.Store(0)
		pc.rejected.Store(0)
	}
	c.metrics.processingSeconds.Reset()
	c.resetAt.Store(time.Now().UnixNano())
}
