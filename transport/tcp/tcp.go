// Package tcp provides the line-oriented TCP front-end for ringflow. Every
// newline-terminated line becomes one event; replies are written back as
// lines on the same connection.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/ids"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "tcp"

// Replies the front-end writes on its own behalf.
const (
	BusyReply     = "BUSY"
	TooLargeReply = "ERROR message too large"
)

const (
	writeTimeout      = 5 * time.Second
	initialBufferSize = 4096
)

// ListenFactory allows overriding the socket creation for testing.
var ListenFactory = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func init() {
	Register()
}

// Register registers the TCP front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.TCPCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.TCPCapabilities
}

// Listener serves the TCP front-end.
type Listener struct {
	*transport.StreamServer

	deps    transport.Dependencies
	maxLine int
}

// Build creates the TCP front-end bound to the configured address.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := ListenFactory(cfg.GetTCPAddress())
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", cfg.GetTCPAddress(), err)
	}

	l := &Listener{deps: deps, maxLine: cfg.GetMaxMessageSize()}
	if l.maxLine <= 0 {
		l.maxLine = bufio.MaxScanTokenSize
	}
	l.StreamServer = transport.NewStreamServer(ln, deps.Stats, l.handleConn)
	return l, nil
}

func (l *Listener) Name() string { return TransportName }

// Serve blocks until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	l.deps.Logger.Info("TCP front-end listening", watermill.LogFields{"address": l.Addr()})
	return l.StreamServer.Serve(ctx)
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	clientID := ids.NewClientID()
	l.deps.Clients.Seen(clientID)

	reply := transport.NewFuncChannel(remote, func(_ context.Context, payload []byte) error {
		return writeLine(conn, payload)
	})
	defer reply.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(initialBufferSize, l.maxLine)), l.maxLine)
	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer for the next line.
		data := append([]byte(nil), line...)

		ev := event.New(event.ProtocolTCP, clientID, jsoncodec.Payload(data))
		ev.Channel = reply
		ev.SetContext(ctx)

		if err := transport.Deliver(ctx, l.deps.Publisher, ev); err != nil {
			if !transport.IsBusy(err) {
				l.deps.Logger.Error("TCP publish failed", err, watermill.LogFields{"remote": remote})
				return
			}
			if err := reply.Send(ctx, []byte(BusyReply)); err != nil {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			_ = reply.Send(ctx, []byte(TooLargeReply))
			transport.Drain(conn)
			return
		}
		if !errors.Is(err, net.ErrClosed) {
			l.deps.Logger.Debug("TCP connection ended", watermill.LogFields{"remote": remote, "error": err.Error()})
		}
	}
}

func writeLine(conn net.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := conn.Write(buf)
	return err
}
