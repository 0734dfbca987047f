package ring

import "errors"

var (
	ErrInvalidCapacity      = errors.New("ringflow: ring capacity must be a positive power of two")
	ErrInvalidClaim         = errors.New("ringflow: claim size must be between 1 and the ring capacity")
	ErrInsufficientCapacity = errors.New("ringflow: ring buffer has no free slot")
	ErrAlerted              = errors.New("ringflow: barrier alerted")
	ErrUnknownWaitStrategy  = errors.New("ringflow: unknown wait strategy")
)
