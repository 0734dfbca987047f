// Package websocket provides the WebSocket front-end for ringflow. A client
// upgrades on GET /ws; every message it sends is one event and consumer
// replies come back as frames on the same connection.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	gws "github.com/gorilla/websocket"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/ids"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "websocket"

const (
	// Path is where clients upgrade.
	Path = "/ws"
	// ClientIDParam optionally names the client in the upgrade query string.
	ClientIDParam = "client_id"
	// RouteParam optionally sets the route of every event on the connection.
	RouteParam = "route"

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ListenFactory allows overriding the socket creation for testing.
var ListenFactory = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func init() {
	Register()
}

// Register registers the WebSocket front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.WebSocketCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.WebSocketCapabilities
}

// StatusFrame is written by the front-end itself, for example when the
// queue refuses a message.
type StatusFrame struct {
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// Handler upgrades connections and pumps their messages into the queue.
type Handler struct {
	deps     transport.Dependencies
	upgrader gws.Upgrader
	maxSize  int64

	mu    sync.Mutex
	conns map[*gws.Conn]struct{}
}

// NewHandler returns a handler that accepts messages up to maxSize bytes.
// Zero means no bound.
func NewHandler(deps transport.Dependencies, maxSize int64) *Handler {
	if normalized, err := deps.Normalize(nil); err == nil {
		deps = normalized
	}
	return &Handler{
		deps:    deps,
		maxSize: maxSize,
		upgrader: gws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*gws.Conn]struct{}),
	}
}

// Router mounts the handler on Path.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get(Path, h.ServeHTTP)
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		h.deps.Logger.Debug("WebSocket upgrade failed", watermill.LogFields{"remote": r.RemoteAddr, "error": err.Error()})
		return
	}
	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	h.deps.Stats.ConnectionOpened()
	defer h.deps.Stats.ConnectionClosed()

	clientID := r.URL.Query().Get(ClientIDParam)
	if clientID == "" {
		clientID = ids.NewClientID()
	}
	h.deps.Clients.Seen(clientID)

	h.pump(r.Context(), conn, clientID, r.URL.Query().Get(RouteParam))
}

func (h *Handler) pump(ctx context.Context, conn *gws.Conn, clientID, route string) {
	remote := conn.RemoteAddr().String()
	reply := transport.NewFuncChannel(remote, func(_ context.Context, payload []byte) error {
		msgType := gws.BinaryMessage
		if utf8.Valid(payload) {
			msgType = gws.TextMessage
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return conn.WriteMessage(msgType, payload)
	})
	defer reply.Close()

	if h.maxSize > 0 {
		conn.SetReadLimit(h.maxSize)
	}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, gws.ErrReadLimit) {
				transport.Drain(conn.NetConn())
				return
			}
			if !gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				h.deps.Logger.Debug("WebSocket connection ended", watermill.LogFields{"remote": remote, "error": err.Error()})
			}
			return
		}

		var payload any = data
		if msgType == gws.TextMessage {
			payload = jsoncodec.Payload(data)
		}
		ev := event.New(event.ProtocolWebSocket, clientID, payload)
		ev.Route = route
		ev.Channel = reply
		ev.SetContext(ctx)

		if err := transport.Deliver(ctx, h.deps.Publisher, ev); err != nil {
			if !transport.IsBusy(err) {
				h.deps.Logger.Error("WebSocket publish failed", err, watermill.LogFields{"remote": remote})
				return
			}
			frame, _ := jsoncodec.Marshal(StatusFrame{ID: ev.ID, Error: "busy"})
			if err := reply.Send(ctx, frame); err != nil {
				return
			}
		}
	}
}

func (h *Handler) track(conn *gws.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *gws.Conn) {
	h.mu.Lock()
	if h.conns != nil {
		delete(h.conns, conn)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

// CloseConnections sends a close frame to every live connection and refuses
// new ones.
func (h *Handler) CloseConnections() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	msg := gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down")
	for conn := range conns {
		_ = conn.WriteControl(gws.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Listener serves the WebSocket front-end.
type Listener struct {
	ln      net.Listener
	server  *http.Server
	handler *Handler
	deps    transport.Dependencies

	closeOnce sync.Once
	closeErr  error
}

// Build creates the WebSocket front-end bound to the configured address.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := ListenFactory(cfg.GetWebSocketAddress())
	if err != nil {
		return nil, fmt.Errorf("listen websocket %s: %w", cfg.GetWebSocketAddress(), err)
	}

	handler := NewHandler(deps, int64(cfg.GetMaxMessageSize()))
	return &Listener{
		ln:      ln,
		handler: handler,
		deps:    deps,
		server: &http.Server{
			Handler:           handler.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (l *Listener) Name() string { return TransportName }

func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Serve blocks until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.deps.Logger.Info("WebSocket front-end listening", watermill.LogFields{"address": l.Addr()})
	err := l.server.Serve(l.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the server and closes hijacked connections, which Shutdown
// does not track.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		l.closeErr = l.server.Shutdown(ctx)
		// Shutdown only closes the listener once Serve has started.
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && l.closeErr == nil {
			l.closeErr = err
		}
		l.handler.CloseConnections()
	})
	return l.closeErr
}
