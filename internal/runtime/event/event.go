// Package event defines the envelope carried through the ring buffer.
package event

import (
	"context"
	"time"

	"github.com/drblury/ringflow/internal/runtime/ids"
)

// Channel is a reply handle owned by the front-end that produced an event.
// The queue never calls it; consumers may.
type Channel interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
	RemoteAddr() string
}

// Event is the unit of work stored in a ring slot.
type Event struct {
	ID        string
	Protocol  ProtocolType
	ClientID  string
	Route     string
	Payload   any
	Channel   Channel
	Timestamp time.Time

	ctx context.Context
}

// New builds an event with a fresh id and the current timestamp.
func New(protocol ProtocolType, clientID string, payload any) *Event {
	now := time.Now()
	return &Event{
		ID:        ids.NewEventIDAt(now),
		Protocol:  protocol,
		ClientID:  clientID,
		Payload:   payload,
		Timestamp: now,
	}
}

// Context returns the context attached by the producer, or context.Background.
func (e *Event) Context() context.Context {
	if e == nil || e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// SetContext attaches per-call state to the event.
func (e *Event) SetContext(ctx context.Context) {
	e.ctx = ctx
}

// Reply sends payload through the event's channel. It reports false when the
// event carries no channel.
func (e *Event) Reply(ctx context.Context, payload []byte) (bool, error) {
	if e == nil || e.Channel == nil {
		return false, nil
	}
	return true, e.Channel.Send(ctx, payload)
}

// CopyFrom overwrites e with src, filling a missing id or timestamp.
func (e *Event) CopyFrom(src *Event) {
	*e = *src
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = ids.NewEventIDAt(e.Timestamp)
	}
}

// Clear drops every reference held by the slot so the previous payload and
// channel can be collected.
func (e *Event) Clear() {
	*e = Event{}
}
