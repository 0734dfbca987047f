package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull            = sterrors.New("ringflow: queue is full")
	ErrInvalidState         = sterrors.New("ringflow: operation not allowed in current queue state")
	ErrShutdownTimeout      = sterrors.New("ringflow: shutdown drain timed out")
	ErrConsumerRequired     = sterrors.New("ringflow: consumer is required")
	ErrConsumerNameRequired = sterrors.New("ringflow: consumer name is required")
	ErrDuplicateConsumer    = sterrors.New("ringflow: consumer already registered")
	ErrEventRequired        = sterrors.New("ringflow: event is required")
	ErrPublisherRequired    = sterrors.New("ringflow: publisher is required")
	ErrConfigRequired       = sterrors.New("ringflow: configuration is required")
	ErrLoggerRequired       = sterrors.New("ringflow: logger is required")
	ErrMiddlewareRequired   = sterrors.New("ringflow: middleware or builder is required")
	ErrUnknownFrontend      = sterrors.New("ringflow: unknown front-end")
	ErrMessageTooLarge      = sterrors.New("ringflow: message exceeds maximum size")
	ErrConsumerPanicked     = sterrors.New("ringflow: consumer panicked")
)

// InvalidStateError reports an operation attempted in the wrong lifecycle state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ringflow: cannot %s queue in state %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ShutdownTimeoutError reports events that were still pending when the drain
// deadline expired.
type ShutdownTimeoutError struct {
	Timeout   time.Duration
	Discarded int64
}

func (e *ShutdownTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("ringflow: shutdown drain exceeded %s, %d events discarded", e.Timeout, e.Discarded)
	}
	return fmt.Sprintf("ringflow: shutdown drain cancelled, %d events discarded", e.Discarded)
}

func (e *ShutdownTimeoutError) Is(target error) bool {
	return target == ErrShutdownTimeout
}

// ConsumerError wraps a failure returned by, or a panic raised in, a consumer.
type ConsumerError struct {
	Consumer string
	Sequence int64
	EventID  string
	Err      error
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("ringflow: consumer %q failed on event %s (sequence %d): %v", e.Consumer, e.EventID, e.Sequence, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// PanicError carries a recovered panic value and the stack it was raised on.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("ringflow: consumer panicked: %v", e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrConsumerPanicked
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ConfigValidationError wraps the joined configuration problems.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "ringflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
