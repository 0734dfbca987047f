package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// SendFunc writes one reply payload to a peer.
type SendFunc func(ctx context.Context, payload []byte) error

// FuncChannel is an event.Channel backed by a send function. Sends are
// serialized, and fail with ErrReplyClosed after Close.
type FuncChannel struct {
	mu     sync.Mutex
	send   SendFunc
	remote string
	closed atomic.Bool
}

// NewFuncChannel returns a channel that writes through send.
func NewFuncChannel(remote string, send SendFunc) *FuncChannel {
	return &FuncChannel{send: send, remote: remote}
}

func (c *FuncChannel) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrReplyClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrReplyClosed
	}
	return c.send(ctx, payload)
}

// Close stops further sends. It does not close the underlying connection,
// which stays owned by the front-end.
func (c *FuncChannel) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *FuncChannel) RemoteAddr() string {
	return c.remote
}

// ReplyChannel hands the first reply of a request/response exchange to the
// waiting front-end goroutine.
type ReplyChannel struct {
	remote string
	once   sync.Once
	ch     chan []byte
	done   chan struct{}
	closed sync.Once
}

// NewReplyChannel returns a channel accepting a single reply.
func NewReplyChannel(remote string) *ReplyChannel {
	return &ReplyChannel{
		remote: remote,
		ch:     make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

// Send delivers payload unless a reply was already sent or the request has
// completed.
func (c *ReplyChannel) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrReplyClosed
	default:
	}
	sent := false
	c.once.Do(func() {
		c.ch <- append([]byte(nil), payload...)
		sent = true
	})
	if !sent {
		return ErrReplyClosed
	}
	return nil
}

// Replies yields the reply, if one is sent.
func (c *ReplyChannel) Replies() <-chan []byte {
	return c.ch
}

func (c *ReplyChannel) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}

func (c *ReplyChannel) RemoteAddr() string {
	return c.remote
}
