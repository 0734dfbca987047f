// Package custom provides the binary front-end for ringflow: a stream of
// msgpack frames, each behind a 4-byte big-endian length prefix.
package custom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/ids"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "custom"

const writeTimeout = 5 * time.Second

// ListenFactory allows overriding the socket creation for testing.
var ListenFactory = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func init() {
	Register()
}

// Register registers the custom front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.CustomCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.CustomCapabilities
}

// Listener serves the custom front-end.
type Listener struct {
	*transport.StreamServer

	deps    transport.Dependencies
	maxSize int
}

// Build creates the custom front-end bound to the configured address.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := ListenFactory(cfg.GetCustomAddress())
	if err != nil {
		return nil, fmt.Errorf("listen custom %s: %w", cfg.GetCustomAddress(), err)
	}

	l := &Listener{deps: deps, maxSize: cfg.GetMaxMessageSize()}
	l.StreamServer = transport.NewStreamServer(ln, deps.Stats, l.handleConn)
	return l, nil
}

func (l *Listener) Name() string { return TransportName }

// Serve blocks until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	l.deps.Logger.Info("Custom front-end listening", watermill.LogFields{"address": l.Addr()})
	return l.StreamServer.Serve(ctx)
}

// replyWriter serializes replies on one connection.
type replyWriter struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (w *replyWriter) write(reply Reply) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return transport.ErrReplyClosed
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return WriteMessage(w.conn, reply)
}

func (w *replyWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	connClientID := ids.NewClientID()
	writer := &replyWriter{conn: conn}
	defer writer.close()

	for {
		var frame Frame
		if err := ReadMessage(conn, l.maxSize, &frame); err != nil {
			switch {
			case errors.Is(err, errspkg.ErrMessageTooLarge):
				_ = writer.write(Reply{Status: StatusError, Error: err.Error()})
				transport.Drain(conn)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				l.deps.Logger.Debug("Custom connection ended", watermill.LogFields{"remote": remote, "error": err.Error()})
			}
			return
		}

		clientID := frame.ClientID
		if clientID == "" {
			clientID = connClientID
		}
		l.deps.Clients.Seen(clientID)

		ev := event.New(event.ProtocolCustom, clientID, jsoncodec.Payload(frame.Body))
		ev.Route = frame.Route
		correlation := frame.ID
		if correlation == "" {
			correlation = ev.ID
		}
		ev.Channel = transport.NewFuncChannel(remote, func(_ context.Context, payload []byte) error {
			return writer.write(Reply{ID: correlation, Status: StatusOK, Body: payload})
		})
		ev.SetContext(ctx)

		if err := transport.Deliver(ctx, l.deps.Publisher, ev); err != nil {
			if !transport.IsBusy(err) {
				l.deps.Logger.Error("Custom publish failed", err, watermill.LogFields{"remote": remote})
				_ = writer.write(Reply{ID: correlation, Status: StatusError, Error: err.Error()})
				return
			}
			if err := writer.write(Reply{ID: correlation, Status: StatusBusy}); err != nil {
				return
			}
		}
	}
}
