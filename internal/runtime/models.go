package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// State is the lifecycle position of a Queue.
type State int32

const (
	StateCreated State = iota
	StateStarted
	StateStopping
	StateStopped
)

var stateNames = [...]string{"CREATED", "STARTED", "STOPPING", "STOPPED"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OverflowPolicy decides what Publish does when every slot is taken.
type OverflowPolicy int

const (
	// OverflowBlock retries with backoff until a slot frees up, the context
	// ends, the retry budget runs out or the queue stops.
	OverflowBlock OverflowPolicy = iota
	// OverflowReject fails the publish immediately.
	OverflowReject
)

func (p OverflowPolicy) String() string {
	if p == OverflowReject {
		return "reject"
	}
	return "block"
}

func (p OverflowPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

type ErrorCategory = statspkg.ErrorCategory

const (
	ErrorCategoryNone     = statspkg.ErrorCategoryNone
	ErrorCategoryPanic    = statspkg.ErrorCategoryPanic
	ErrorCategoryCanceled = statspkg.ErrorCategoryCanceled
	ErrorCategoryTimeout  = statspkg.ErrorCategoryTimeout
	ErrorCategoryOther    = statspkg.ErrorCategoryOther
)

// ErrorClassifier maps a consumer failure onto a reporting category.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var panicErr *errspkg.PanicError
	if errors.As(err, &panicErr) {
		return ErrorCategoryPanic
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCategoryCanceled
	}
	return ErrorCategoryOther
}

// Status is a point-in-time view of the queue.
type Status struct {
	State             State            `json:"state"`
	OverflowPolicy    OverflowPolicy   `json:"overflow_policy"`
	Capacity          int64            `json:"capacity"`
	RemainingCapacity int64            `json:"remaining_capacity"`
	Cursor            int64            `json:"cursor"`
	Consumers         []ConsumerStatus `json:"consumers"`
}

// ConsumerStatus describes one registered consumer.
type ConsumerStatus struct {
	Name     string         `json:"name"`
	Sequence int64          `json:"sequence"`
	Lag      int64          `json:"lag"`
	Stats    ConsumerReport `json:"stats"`
}

// ConsumerReport is the per-consumer processing summary.
type ConsumerReport struct {
	EventsProcessed uint64            `json:"events_processed"`
	EventsFailed    uint64            `json:"events_failed"`
	LastProcessedAt time.Time         `json:"last_processed_at"`
	Latency         LatencyMetrics    `json:"latency"`
	Throughput      ThroughputMetrics `json:"throughput"`
	Errors          ErrorBreakdown    `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS     float64 `json:"current_rps"`
	WindowSeconds  float64 `json:"window_seconds"`
	EventsInWindow uint64  `json:"events_in_window"`
}

type ErrorBreakdown struct {
	Panic     uint64 `json:"panic"`
	Canceled  uint64 `json:"canceled"`
	Timeout   uint64 `json:"timeout"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

// ResourceUsage is the process footprint reported next to the queue stats.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	HeapBytes  uint64  `json:"heap_bytes"`
	Goroutines int     `json:"goroutines"`
	GCCycles   uint64  `json:"gc_cycles"`
	RingBytes  int64   `json:"ring_bytes"`
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryPanic:
		e.Panic++
	case ErrorCategoryCanceled:
		e.Canceled++
	case ErrorCategoryTimeout:
		e.Timeout++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// consumerStats is written by the dispatch goroutine and read by Status.
type consumerStats struct {
	mu sync.Mutex

	processed        uint64
	failed           uint64
	totalNs          int64
	lastProcessedAt  time.Time
	errors           ErrorBreakdown
	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

func newConsumerStats() *consumerStats {
	return &consumerStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (c *consumerStats) record(took time.Duration, err error, category ErrorCategory) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.processed++
	if err != nil {
		c.failed++
		c.errors.Record(category, err)
	}
	c.totalNs += int64(took)
	c.lastProcessedAt = now
	c.latencyWindow.Add(took)
	c.throughputWindow.Add(now)
}

func (c *consumerStats) report() ConsumerReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	latency := c.latencyWindow.Snapshot()
	if c.processed > 0 {
		latency.AverageNs = c.totalNs / int64(c.processed)
	}
	tp := c.throughputWindow.snapshot(time.Now())
	return ConsumerReport{
		EventsProcessed: c.processed,
		EventsFailed:    c.failed,
		LastProcessedAt: c.lastProcessedAt,
		Latency:         latency,
		Throughput: ThroughputMetrics{
			CurrentRPS:     tp.CurrentRPS,
			WindowSeconds:  tp.WindowSeconds,
			EventsInWindow: uint64(tp.Count),
		},
		Errors: c.errors,
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) Add(now time.Time) {
	if tw == nil {
		return
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.cleanup(now)
	if len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
