package runtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/ringflow/internal/runtime/config"
	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	"github.com/drblury/ringflow/internal/runtime/ring"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

const (
	publishSpinAttempts = 16
	inflightPollPeriod  = 50 * time.Microsecond
	consumerReturnGrace = time.Second
)

// fallbackDrainTimeout bounds Stop when neither ctx nor the configuration
// provide a positive drain timeout.
var fallbackDrainTimeout = configpkg.DefaultDrainTimeout

// QueueDependencies holds the optional collaborators of a Queue.
type QueueDependencies struct {
	// Stats receives request counters. A fresh collector is created when nil.
	Stats *statspkg.Collector
	// Middlewares wrap every consumer, after the default chain.
	Middlewares []MiddlewareRegistration
	// DisableDefaultMiddlewares skips the default middleware chain when true.
	DisableDefaultMiddlewares bool
	ErrorClassifier           ErrorClassifier
	// WaitStrategy overrides the strategy named in the configuration.
	WaitStrategy ring.WaitStrategy
	// Registerer receives the stats collector when metrics are enabled.
	Registerer prometheus.Registerer
}

// Queue is the bounded, ordered event backbone: many producers publish into
// a ring buffer and one dispatch goroutine hands each event to every
// registered consumer in registration order.
type Queue struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	ring    *ring.RingBuffer[event.Event]
	barrier *ring.Barrier
	policy  OverflowPolicy
	stats   *statspkg.Collector

	errorClassifier ErrorClassifier
	middlewares     []ConsumerMiddleware
	registerer      prometheus.Registerer

	mu        sync.Mutex
	state     atomic.Int32
	consumers atomic.Pointer[[]*consumerSlot]
	drainSeq  *ring.Sequence

	inflight    atomic.Int64
	drainTarget atomic.Int64
	forced      atomic.Bool
	stopping    chan struct{}
	loopDone    chan struct{}
	cancelRun   context.CancelFunc
	stopWatch   func() bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	resourceTracker *resourceTracker
}

// NewQueue builds a queue in the CREATED state. Register consumers, then
// call Start.
func NewQueue(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps QueueDependencies) (*Queue, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	policy, err := parseOverflowPolicy(conf.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	wait := deps.WaitStrategy
	if wait == nil {
		if wait, err = ring.ParseWaitStrategy(conf.WaitStrategy); err != nil {
			return nil, fmt.Errorf("%w: %q", err, conf.WaitStrategy)
		}
	}
	rb, err := ring.New[event.Event](conf.Capacity, wait)
	if err != nil {
		return nil, fmt.Errorf("%w: got %d", err, conf.Capacity)
	}

	q := &Queue{
		Conf:            conf,
		Logger:          log,
		ring:            rb,
		barrier:         rb.NewBarrier(),
		policy:          policy,
		stats:           deps.Stats,
		errorClassifier: deps.ErrorClassifier,
		registerer:      deps.Registerer,
		drainSeq:        ring.NewSequence(ring.InitialSequence),
		resourceTracker: newResourceTracker(rb.Capacity()),
	}
	if q.stats == nil {
		q.stats = statspkg.New()
	}
	if q.errorClassifier == nil {
		q.errorClassifier = defaultErrorClassifier
	}
	empty := []*consumerSlot{}
	q.consumers.Store(&empty)
	q.drainTarget.Store(math.MaxInt64)

	if err := q.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	log.Info("Creating event queue", loggingpkg.LogFields{
		"capacity":        conf.Capacity,
		"overflow_policy": policy.String(),
		"wait_strategy":   conf.WaitStrategy,
	})
	return q, nil
}

func parseOverflowPolicy(name string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", configpkg.OverflowBlock:
		return OverflowBlock, nil
	case configpkg.OverflowReject:
		return OverflowReject, nil
	}
	return OverflowBlock, fmt.Errorf("ringflow: unknown overflow policy %q", name)
}

func (q *Queue) registerConfiguredMiddlewares(deps QueueDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := q.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	return State(q.state.Load())
}

// Stats returns the statistics collector fed by this queue.
func (q *Queue) Stats() *statspkg.Collector {
	return q.stats
}

// Capacity returns the number of ring slots.
func (q *Queue) Capacity() int64 {
	return q.ring.Capacity()
}

// RemainingCapacity returns the number of free slots, within [0, Capacity].
func (q *Queue) RemainingCapacity() int64 {
	return q.ring.RemainingCapacity()
}

func (q *Queue) slots() []*consumerSlot {
	return *q.consumers.Load()
}

// RegisterConsumer adds a consumer. Consumers are invoked in registration
// order and can only be added before Start.
func (q *Queue) RegisterConsumer(name string, c Consumer) error {
	if strings.TrimSpace(name) == "" {
		return errspkg.ErrConsumerNameRequired
	}
	if c == nil {
		return errspkg.ErrConsumerRequired
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if st := q.State(); st != StateCreated {
		return &errspkg.InvalidStateError{Op: "register consumer on", State: st.String()}
	}
	current := q.slots()
	for _, slot := range current {
		if slot.name == name {
			return fmt.Errorf("%w: %s", errspkg.ErrDuplicateConsumer, name)
		}
	}

	wrapped := c
	for i := len(q.middlewares) - 1; i >= 0; i-- {
		wrapped = q.middlewares[i](wrapped)
	}

	next := make([]*consumerSlot, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, &consumerSlot{
		name:     name,
		consumer: wrapped,
		sequence: ring.NewSequence(ring.InitialSequence),
		stats:    newConsumerStats(),
	})
	q.consumers.Store(&next)

	q.Logger.Debug("Consumer registered", loggingpkg.LogFields{"consumer": name})
	return nil
}

// lastSequence is the sequence that gates slot reuse.
func (q *Queue) lastSequence() *ring.Sequence {
	slots := q.slots()
	if len(slots) == 0 {
		return q.drainSeq
	}
	return slots[len(slots)-1].sequence
}

// Start launches the dispatch loop. Starting a started queue is a no-op;
// starting a stopped one fails. When ctx ends the queue stops itself with
// the configured drain timeout.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch st := q.State(); st {
	case StateStarted:
		return nil
	case StateStopping, StateStopped:
		return &errspkg.InvalidStateError{Op: "start", State: st.String()}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancelRun = cancel

	slots := q.slots()
	gating := make([]*ring.Sequence, 0, len(slots))
	for _, slot := range slots {
		slot.ctx = withConsumerName(runCtx, slot.name)
		gating = append(gating, slot.sequence)
	}
	if len(gating) == 0 {
		q.Logger.Info("Queue started without consumers, published events stay buffered until Stop", nil)
		gating = append(gating, q.drainSeq)
	}
	q.ring.AddGatingSequences(gating...)

	q.stopping = make(chan struct{})
	q.loopDone = make(chan struct{})

	q.StartWebUIServer()
	q.startMetrics()
	q.startHTTPServers()

	q.state.Store(int32(StateStarted))
	if len(slots) > 0 {
		go q.run()
	} else {
		// Nothing advances drainSeq, so the ring fills up and Stop discards
		// whatever was published.
		close(q.loopDone)
	}

	if ctx.Done() != nil {
		q.stopWatch = context.AfterFunc(ctx, func() {
			if err := q.Stop(context.Background()); err != nil {
				q.Logger.Error("Queue stop after context end failed", err, nil)
			}
		})
	}

	q.Logger.Info("Queue started", loggingpkg.LogFields{
		"capacity":  q.ring.Capacity(),
		"consumers": len(slots),
	})
	return nil
}

// Publish copies ev into the next free slot and makes it visible to the
// dispatch loop. It reports false without an error when the buffer stays
// full: immediately under OverflowReject, after the retry budget under
// OverflowBlock. Producers publishing from one goroutine are delivered in
// publish order.
func (q *Queue) Publish(ctx context.Context, ev *event.Event) (bool, error) {
	return q.publish(ctx, ev, q.policy)
}

// TryPublish is Publish under OverflowReject whatever the configured policy.
// It never waits for capacity; front-ends without backpressure use it.
func (q *Queue) TryPublish(ctx context.Context, ev *event.Event) (bool, error) {
	return q.publish(ctx, ev, OverflowReject)
}

func (q *Queue) publish(ctx context.Context, ev *event.Event, policy OverflowPolicy) (bool, error) {
	if ev == nil {
		return false, errspkg.ErrEventRequired
	}

	q.inflight.Add(1)
	defer q.inflight.Add(-1)

	if st := q.State(); st != StateStarted {
		return false, &errspkg.InvalidStateError{Op: "publish to", State: st.String()}
	}

	seq, err := q.ring.TryNext()
	if err != nil {
		if policy == OverflowReject {
			q.stats.PublishRejected(ev.Protocol)
			return false, nil
		}
		seq, err = q.claimBlocking(ctx)
		if errors.Is(err, ring.ErrInsufficientCapacity) {
			q.stats.PublishRejected(ev.Protocol)
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}

	q.ring.Get(seq).CopyFrom(ev)
	q.ring.Publish(seq)
	return true, nil
}

func (q *Queue) claimBlocking(ctx context.Context) (int64, error) {
	backoff := ring.Backoff{
		Spins:   publishSpinAttempts,
		Initial: q.Conf.PublishInitialBackoff,
		Max:     q.Conf.PublishMaxBackoff,
	}
	for {
		if err := backoff.Wait(ctx, q.stopping); err != nil {
			if errors.Is(err, ring.ErrAlerted) {
				return 0, &errspkg.InvalidStateError{Op: "publish to", State: StateStopping.String()}
			}
			return 0, err
		}
		seq, err := q.ring.TryNext()
		if err == nil {
			return seq, nil
		}
		if limit := q.Conf.PublishMaxRetries; limit > 0 && backoff.Attempts() >= limit {
			return 0, err
		}
	}
}

// Stop rejects new publishes, waits for in-flight ones, then drains every
// published event until ctx ends or, when ctx has no deadline, until the
// configured drain timeout. Events still pending at that point are
// discarded and reported through a *ShutdownTimeoutError. A non-positive
// drain timeout falls back to config.DefaultDrainTimeout. Stopping a queue
// that is not started is a no-op.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.State() != StateStarted {
		return nil
	}
	q.state.Store(int32(StateStopping))
	close(q.stopping)
	if q.stopWatch != nil {
		q.stopWatch()
	}

	timeout := q.Conf.DrainTimeout
	if timeout <= 0 {
		timeout = fallbackDrainTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for q.inflight.Load() > 0 {
		time.Sleep(inflightPollPeriod)
	}

	target := q.ring.Cursor()
	q.drainTarget.Store(target)
	q.barrier.Alert()
	q.Logger.Info("Draining queue", loggingpkg.LogFields{"cursor": target})

	forced, finished := false, true
	select {
	case <-q.loopDone:
	case <-ctx.Done():
		forced = true
		q.forced.Store(true)
		q.cancelRun()
		select {
		case <-q.loopDone:
		case <-time.After(consumerReturnGrace):
			finished = false
			q.Logger.Error("Consumer did not return after cancellation", ctx.Err(), nil)
		}
	}
	q.cancelRun()

	discarded := q.releasePending(target, finished)
	q.stats.EventsDiscarded(discarded)
	q.shutdownHTTPServers()
	q.state.Store(int32(StateStopped))

	if forced && discarded > 0 {
		err := &errspkg.ShutdownTimeoutError{Timeout: timeout, Discarded: discarded}
		q.Logger.Error("Queue stopped before draining", err, loggingpkg.LogFields{"discarded": discarded})
		return err
	}
	q.Logger.Info("Queue stopped", loggingpkg.LogFields{
		"processed": q.stats.TotalRequests(),
		"discarded": discarded,
	})
	return nil
}

// releasePending returns how many published events the dispatch loop never
// finished. Once the loop has exited their slots are cleared and handed back.
func (q *Queue) releasePending(target int64, loopExited bool) int64 {
	last := q.lastSequence()
	done := last.Get()
	if done >= target {
		return 0
	}
	if loopExited {
		for seq := done + 1; seq <= target; seq++ {
			q.ring.Get(seq).Clear()
		}
		last.Set(target)
	}
	return target - done
}

// Status returns a snapshot of the lifecycle state, capacity and consumer
// positions.
func (q *Queue) Status() Status {
	cursor := q.ring.Cursor()
	slots := q.slots()
	st := Status{
		State:             q.State(),
		OverflowPolicy:    q.policy,
		Capacity:          q.ring.Capacity(),
		RemainingCapacity: q.ring.RemainingCapacity(),
		Cursor:            cursor,
		Consumers:         make([]ConsumerStatus, 0, len(slots)),
	}
	for _, slot := range slots {
		seq := slot.sequence.Get()
		lag := cursor - seq
		if lag < 0 {
			lag = 0
		}
		st.Consumers = append(st.Consumers, ConsumerStatus{
			Name:     slot.name,
			Sequence: seq,
			Lag:      lag,
			Stats:    slot.stats.report(),
		})
	}
	return st
}

func (q *Queue) getErrorClassifier() ErrorClassifier {
	if q.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return q.errorClassifier
}

func (q *Queue) getResourceTracker() *resourceTracker {
	if q.resourceTracker == nil {
		q.resourceTracker = newResourceTracker(q.ring.Capacity())
	}
	return q.resourceTracker
}
