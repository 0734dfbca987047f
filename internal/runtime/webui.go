package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ringflow/internal/runtime/logging"
	statspkg "github.com/drblury/ringflow/internal/runtime/stats"
)

const (
	defaultWebUIPort    = 8081
	httpShutdownTimeout = 5 * time.Second
)

// StatsReport is the body of GET /api/stats.
type StatsReport struct {
	statspkg.Snapshot
	Resources ResourceUsage `json:"resources"`
}

// StartWebUIServer registers the status API when it is enabled.
func (q *Queue) StartWebUIServer() {
	if !q.Conf.WebUIEnabled {
		return
	}

	port := q.Conf.WebUIPort
	if port == 0 {
		port = defaultWebUIPort
	}

	q.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(q.handleGetStatus))
	q.RegisterHTTPHandler(port, "/api/stats", http.HandlerFunc(q.handleGetStats))
	q.RegisterHTTPHandler(port, "/api/stats/reset", http.HandlerFunc(q.handleResetStats))
}

func (q *Queue) startMetrics() {
	if !q.Conf.MetricsEnabled {
		return
	}
	if err := q.stats.Register(q.registerer); err != nil {
		q.Logger.Error("Failed to register queue metrics", err, nil)
		return
	}
	if q.Conf.MetricsPort > 0 {
		q.RegisterHTTPHandler(q.Conf.MetricsPort, "/metrics", promhttp.Handler())
	}
}

func (q *Queue) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if q.writeCORS(w, r, "GET, OPTIONS") {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	q.writeJSON(w, q.Status())
}

func (q *Queue) handleGetStats(w http.ResponseWriter, r *http.Request) {
	if q.writeCORS(w, r, "GET, OPTIONS") {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	q.writeJSON(w, StatsReport{
		Snapshot:  q.stats.Snapshot(),
		Resources: q.getResourceTracker().Snapshot(),
	})
}

func (q *Queue) handleResetStats(w http.ResponseWriter, r *http.Request) {
	if q.writeCORS(w, r, "POST, OPTIONS") {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	q.stats.Reset()
	q.Logger.Info("Statistics reset", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (q *Queue) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		q.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// writeCORS sets CORS headers and reports whether the request was a
// preflight that has been fully answered.
func (q *Queue) writeCORS(w http.ResponseWriter, r *http.Request, methods string) bool {
	if q.Conf != nil && len(q.Conf.WebUICORSAllowedOrigins) > 0 {
		allowedOrigin := q.getAllowedCORSOrigin(r.Header.Get("Origin"))
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (q *Queue) getAllowedCORSOrigin(requestOrigin string) string {
	if q.Conf == nil {
		return ""
	}
	for _, allowed := range q.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}

// RegisterHTTPHandler mounts handler on the status server listening on
// port. Servers are started by Start and shut down by Stop.
func (q *Queue) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	q.httpServersMu.Lock()
	defer q.httpServersMu.Unlock()

	if q.httpServers == nil {
		q.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := q.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		q.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (q *Queue) startHTTPServers() {
	q.httpServersMu.Lock()
	defer q.httpServersMu.Unlock()

	for port, mux := range q.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		q.servers = append(q.servers, srv)
		q.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				q.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (q *Queue) shutdownHTTPServers() {
	q.httpServersMu.Lock()
	servers := q.servers
	q.servers = nil
	q.httpServersMu.Unlock()

	if len(servers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			q.Logger.Error("Failed to shut down HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
