package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

const drainTimeout = 100 * time.Millisecond

// ConnHandler serves one accepted connection until the peer goes away or ctx
// ends. The server closes conn afterwards.
type ConnHandler func(ctx context.Context, conn net.Conn)

// StreamServer is the accept loop shared by the stream front-ends. It tracks
// live connections so Close can end them.
type StreamServer struct {
	ln     net.Listener
	stats  *statspkg.Collector
	handle ConnHandler

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewStreamServer wraps a bound listener.
func NewStreamServer(ln net.Listener, stats *statspkg.Collector, handle ConnHandler) *StreamServer {
	return &StreamServer{
		ln:     ln,
		stats:  stats,
		handle: handle,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *StreamServer) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts connections until ctx ends or Close is called. It returns
// once every connection handler has finished.
func (s *StreamServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			closing := s.isClosed()
			_ = s.Close()
			s.wg.Wait()
			if closing || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *StreamServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	if s.stats != nil {
		s.stats.ConnectionOpened()
		defer s.stats.ConnectionClosed()
	}
	s.handle(ctx, conn)
}

func (s *StreamServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *StreamServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *StreamServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting and closes every live connection.
func (s *StreamServer) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()

		s.closeErr = s.ln.Close()
		if errors.Is(s.closeErr, net.ErrClosed) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// Drain discards input the peer has already sent, for at most drainTimeout.
// Closing a socket with unread input resets the connection, which can destroy
// a final error reply before the peer reads it.
func Drain(conn net.Conn) {
	if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, conn)
}
