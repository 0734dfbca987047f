package ring

import (
	"runtime"
	"strings"
	"sync"
	"time"
)

// WaitStrategy decides how a consumer idles while no event is readable.
// available reports the highest readable sequence; WaitFor returns once it
// reaches seq or the alerter fires.
type WaitStrategy interface {
	WaitFor(seq int64, available func() int64, alert Alerter) (int64, error)
	SignalAll()
}

const (
	WaitBusySpin = "busy-spin"
	WaitYielding = "yielding"
	WaitSleeping = "sleeping"
	WaitBlocking = "blocking"
)

// ParseWaitStrategy maps a configured name onto a strategy.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case WaitBusySpin:
		return BusySpinWaitStrategy{}, nil
	case WaitYielding:
		return NewYieldingWaitStrategy(), nil
	case "", WaitSleeping:
		return NewSleepingWaitStrategy(), nil
	case WaitBlocking:
		return NewBlockingWaitStrategy(), nil
	}
	return nil, ErrUnknownWaitStrategy
}

// BusySpinWaitStrategy polls without ever yielding the processor.
type BusySpinWaitStrategy struct{}

func (BusySpinWaitStrategy) WaitFor(seq int64, available func() int64, alert Alerter) (int64, error) {
	for {
		if v := available(); v >= seq {
			return v, nil
		}
		if err := alert.CheckAlert(); err != nil {
			return available(), err
		}
	}
}

func (BusySpinWaitStrategy) SignalAll() {}

// YieldingWaitStrategy spins a bounded number of times, then yields.
type YieldingWaitStrategy struct {
	spinTries int
}

func NewYieldingWaitStrategy() *YieldingWaitStrategy {
	return &YieldingWaitStrategy{spinTries: 100}
}

func (y *YieldingWaitStrategy) WaitFor(seq int64, available func() int64, alert Alerter) (int64, error) {
	counter := y.spinTries
	for {
		if v := available(); v >= seq {
			return v, nil
		}
		if err := alert.CheckAlert(); err != nil {
			return available(), err
		}
		if counter > 0 {
			counter--
			continue
		}
		runtime.Gosched()
	}
}

func (y *YieldingWaitStrategy) SignalAll() {}

// SleepingWaitStrategy spins, then yields, then parks for short sleeps.
type SleepingWaitStrategy struct {
	spins  int
	yields int
	sleep  time.Duration
}

func NewSleepingWaitStrategy() *SleepingWaitStrategy {
	return NewSleepingWaitStrategyWith(100, 100, 100*time.Microsecond)
}

func NewSleepingWaitStrategyWith(spins, yields int, sleep time.Duration) *SleepingWaitStrategy {
	if sleep <= 0 {
		sleep = 100 * time.Microsecond
	}
	return &SleepingWaitStrategy{spins: spins, yields: yields, sleep: sleep}
}

func (s *SleepingWaitStrategy) WaitFor(seq int64, available func() int64, alert Alerter) (int64, error) {
	counter := s.spins + s.yields
	for {
		if v := available(); v >= seq {
			return v, nil
		}
		if err := alert.CheckAlert(); err != nil {
			return available(), err
		}
		switch {
		case counter > s.yields:
			counter--
		case counter > 0:
			counter--
			runtime.Gosched()
		default:
			time.Sleep(s.sleep)
		}
	}
}

func (s *SleepingWaitStrategy) SignalAll() {}

// BlockingWaitStrategy parks consumers on a condition variable that every
// publish broadcasts.
type BlockingWaitStrategy struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func NewBlockingWaitStrategy() *BlockingWaitStrategy {
	b := &BlockingWaitStrategy{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *BlockingWaitStrategy) WaitFor(seq int64, available func() int64, alert Alerter) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if v := available(); v >= seq {
			return v, nil
		}
		if err := alert.CheckAlert(); err != nil {
			return available(), err
		}
		b.cond.Wait()
	}
}

func (b *BlockingWaitStrategy) SignalAll() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}
