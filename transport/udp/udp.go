// Package udp provides the datagram front-end for ringflow. Each datagram is
// one event. Peers are identified by their source address, and a datagram
// that finds the queue full is dropped.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "udp"

const (
	maxDatagramSize = 65507
	writeTimeout    = 5 * time.Second
)

// ListenPacketFactory allows overriding the socket creation for testing.
var ListenPacketFactory = func(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp", addr)
}

func init() {
	Register()
}

// Register registers the UDP front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.UDPCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.UDPCapabilities
}

// Listener serves the UDP front-end.
type Listener struct {
	conn    net.PacketConn
	deps    transport.Dependencies
	bufSize int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Build creates the UDP front-end bound to the configured address.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := ListenPacketFactory(cfg.GetUDPAddress())
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.GetUDPAddress(), err)
	}

	bufSize := cfg.GetMaxMessageSize()
	if bufSize <= 0 || bufSize > maxDatagramSize {
		bufSize = maxDatagramSize
	}
	return &Listener{
		conn:    conn,
		deps:    deps,
		bufSize: bufSize,
		closed:  make(chan struct{}),
	}, nil
}

func (l *Listener) Name() string { return TransportName }

func (l *Listener) Addr() string { return l.conn.LocalAddr().String() }

// Serve reads datagrams until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.deps.Logger.Info("UDP front-end listening", watermill.LogFields{"address": l.Addr()})

	buf := make([]byte, l.bufSize)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		// buf is reused for the next datagram.
		data := append([]byte(nil), buf[:n]...)
		l.handle(ctx, addr, data)
	}
}

func (l *Listener) handle(ctx context.Context, addr net.Addr, data []byte) {
	peer := addr.String()
	ev := event.New(event.ProtocolUDP, l.deps.Clients.Resolve(peer), jsoncodec.Payload(data))
	ev.Channel = transport.NewFuncChannel(peer, func(_ context.Context, payload []byte) error {
		return l.writeTo(addr, payload)
	})
	ev.SetContext(ctx)

	if err := transport.DeliverNow(ctx, l.deps.Publisher, ev); err != nil {
		if transport.IsBusy(err) {
			l.deps.Logger.Debug("UDP datagram dropped", watermill.LogFields{"remote": peer, "reason": err.Error()})
			return
		}
		l.deps.Logger.Error("UDP publish failed", err, watermill.LogFields{"remote": peer})
	}
}

func (l *Listener) writeTo(addr net.Addr, payload []byte) error {
	if l.isClosed() {
		return transport.ErrReplyClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := l.conn.WriteTo(payload, addr)
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Close releases the socket. Replies sent afterwards fail.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.conn.Close()
	})
	return err
}
