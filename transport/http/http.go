// Package http provides the HTTP front-end for ringflow. Each POST becomes
// one event; the handler waits briefly for a consumer reply.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
	"github.com/drblury/ringflow/transport"
)

// TransportName is the name used to register this front-end.
const TransportName = "http"

const (
	HeaderClientID = "X-Client-ID"
	HeaderRoute    = "X-Route"
	HeaderEventID  = "X-Event-ID"

	shutdownTimeout = 5 * time.Second
)

// ListenFactory allows overriding the socket creation for testing.
var ListenFactory = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func init() {
	Register()
}

// Register registers the HTTP front-end with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Capabilities returns the capabilities of this front-end.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}

// Options tunes the request handler.
type Options struct {
	// ReplyTimeout is how long a request waits for a consumer reply before
	// it is answered with 202 Accepted. Zero answers immediately.
	ReplyTimeout time.Duration
	// MaxMessageSize bounds the request body. Zero means no bound.
	MaxMessageSize int64
}

// Listener serves the HTTP front-end.
type Listener struct {
	ln     net.Listener
	server *nethttp.Server
	deps   transport.Dependencies

	closeOnce sync.Once
	closeErr  error
}

// Build creates the HTTP front-end bound to the configured address.
func Build(ctx context.Context, cfg transport.Config, deps transport.Dependencies) (transport.Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	ln, err := ListenFactory(cfg.GetHTTPAddress())
	if err != nil {
		return nil, fmt.Errorf("listen http %s: %w", cfg.GetHTTPAddress(), err)
	}

	handler := NewHandler(deps, Options{
		ReplyTimeout:   cfg.GetReplyTimeout(),
		MaxMessageSize: int64(cfg.GetMaxMessageSize()),
	})
	return &Listener{
		ln:   ln,
		deps: deps,
		server: &nethttp.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ConnState:         trackConnections(deps.Stats),
		},
	}, nil
}

func (l *Listener) Name() string { return TransportName }

func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Serve blocks until ctx ends or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	l.deps.Logger.Info("HTTP front-end listening", watermill.LogFields{"address": l.Addr()})
	err := l.server.Serve(l.ln)
	if errors.Is(err, nethttp.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts the server down, letting in-flight requests finish.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		l.closeErr = l.server.Shutdown(ctx)
		// Shutdown only closes the listener once Serve has started.
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) && l.closeErr == nil {
			l.closeErr = err
		}
	})
	return l.closeErr
}

func trackConnections(stats *statspkg.Collector) func(net.Conn, nethttp.ConnState) {
	return func(_ net.Conn, state nethttp.ConnState) {
		if stats == nil {
			return
		}
		switch state {
		case nethttp.StateNew:
			stats.ConnectionOpened()
		case nethttp.StateClosed, nethttp.StateHijacked:
			stats.ConnectionClosed()
		}
	}
}

type handler struct {
	deps transport.Dependencies
	opts Options
}

type acceptedResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the router serving POST /events, POST /events/{clientID}
// and GET /healthz.
func NewHandler(deps transport.Dependencies, opts Options) nethttp.Handler {
	if normalized, err := deps.Normalize(nil); err == nil {
		deps = normalized
	}
	h := &handler{deps: deps, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.health)
	r.Post("/events", h.publish)
	r.Post("/events/{clientID}", h.publish)
	return r
}

func (h *handler) health(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (h *handler) publish(w nethttp.ResponseWriter, r *nethttp.Request) {
	body := io.Reader(r.Body)
	if h.opts.MaxMessageSize > 0 {
		body = nethttp.MaxBytesReader(w, r.Body, h.opts.MaxMessageSize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *nethttp.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, nethttp.StatusRequestEntityTooLarge, errorResponse{Error: errspkg.ErrMessageTooLarge.Error()})
			return
		}
		writeJSON(w, nethttp.StatusBadRequest, errorResponse{Error: "unreadable body"})
		return
	}

	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		clientID = r.Header.Get(HeaderClientID)
	}
	if clientID == "" {
		clientID = h.deps.Clients.Resolve(r.RemoteAddr)
	} else {
		h.deps.Clients.Seen(clientID)
	}

	ev := event.New(event.ProtocolHTTP, clientID, jsoncodec.Payload(data))
	ev.Route = r.Header.Get(HeaderRoute)
	if ev.Route == "" {
		ev.Route = r.URL.Path
	}
	reply := transport.NewReplyChannel(r.RemoteAddr)
	defer reply.Close()
	ev.Channel = reply
	ev.SetContext(r.Context())

	if err := transport.Deliver(r.Context(), h.deps.Publisher, ev); err != nil {
		h.writeDeliverError(w, err)
		return
	}
	w.Header().Set(HeaderEventID, ev.ID)

	if h.opts.ReplyTimeout <= 0 {
		writeJSON(w, nethttp.StatusAccepted, acceptedResponse{ID: ev.ID})
		return
	}

	timer := time.NewTimer(h.opts.ReplyTimeout)
	defer timer.Stop()
	select {
	case payload := <-reply.Replies():
		contentType := "application/octet-stream"
		if jsoncodec.Valid(payload) {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(nethttp.StatusOK)
		_, _ = w.Write(payload)
	case <-timer.C:
		writeJSON(w, nethttp.StatusAccepted, acceptedResponse{ID: ev.ID})
	case <-r.Context().Done():
	}
}

func (h *handler) writeDeliverError(w nethttp.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errspkg.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, nethttp.StatusServiceUnavailable, errorResponse{Error: "busy"})
	case errors.Is(err, errspkg.ErrInvalidState):
		writeJSON(w, nethttp.StatusServiceUnavailable, errorResponse{Error: "unavailable"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, nethttp.StatusGatewayTimeout, errorResponse{Error: "publish timed out"})
	default:
		h.deps.Logger.Error("HTTP publish failed", err, nil)
		writeJSON(w, nethttp.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w nethttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}
