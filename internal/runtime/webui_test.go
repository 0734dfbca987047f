package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ringflow/internal/runtime/event"
	"github.com/drblury/ringflow/internal/runtime/jsoncodec"
)

func TestHandleGetStatusReturnsJSON(t *testing.T) {
	conf := newTestConfig(8)
	conf.WebUICORSAllowedOrigins = []string{"*"}
	q := newTestQueue(t, conf, QueueDependencies{DisableDefaultMiddlewares: true})
	require.NoError(t, q.RegisterConsumer("orders", ConsumerFunc(func(context.Context, *event.Event, int64, bool) error { return nil })))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	q.handleGetStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var payload struct {
		State     string `json:"state"`
		Capacity  int64  `json:"capacity"`
		Consumers []struct {
			Name string `json:"name"`
		} `json:"consumers"`
	}
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "CREATED", payload.State)
	assert.Equal(t, int64(8), payload.Capacity)
	require.Len(t, payload.Consumers, 1)
	assert.Equal(t, "orders", payload.Consumers[0].Name)
}

func TestHandleStatsAndReset(t *testing.T) {
	q := newTestQueue(t, newTestConfig(8), QueueDependencies{DisableDefaultMiddlewares: true})
	q.Stats().RequestStarted(event.ProtocolHTTP)
	q.Stats().RequestCompleted(event.ProtocolHTTP, 0)

	rec := httptest.NewRecorder()
	q.handleGetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report map[string]any
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &report))
	assert.EqualValues(t, 1, report["total_requests"])
	assert.Contains(t, report, "resources")

	rec = httptest.NewRecorder()
	q.handleResetStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	q.handleResetStats(rec, httptest.NewRequest(http.MethodPost, "/api/stats/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, q.Stats().TotalRequests())
}

func TestCORSPreflightAndOrigins(t *testing.T) {
	conf := newTestConfig(8)
	conf.WebUICORSAllowedOrigins = []string{"https://ops.example.com"}
	q := newTestQueue(t, conf, QueueDependencies{DisableDefaultMiddlewares: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats/reset", nil)
	req.Header.Set("Origin", "https://OPS.example.com")
	rec := httptest.NewRecorder()
	q.handleResetStats(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://OPS.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))

	assert.Empty(t, q.getAllowedCORSOrigin("https://evil.example.com"))
	assert.Empty(t, (&Queue{}).getAllowedCORSOrigin("https://ops.example.com"))
}

func TestRegisterHTTPHandlerSharesPortMux(t *testing.T) {
	q := newTestQueue(t, newTestConfig(8), QueueDependencies{DisableDefaultMiddlewares: true})
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	q.RegisterHTTPHandler(18081, "/a", ok)
	q.RegisterHTTPHandler(18081, "/b", ok)
	q.RegisterHTTPHandler(18082, "/c", ok)

	require.Len(t, q.httpServers, 2)
	rec := httptest.NewRecorder()
	q.httpServers[18081].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStartMetricsRegistersCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	conf := newTestConfig(8)
	conf.MetricsEnabled = true
	conf.MetricsPort = 0
	q := newTestQueue(t, conf, QueueDependencies{DisableDefaultMiddlewares: true, Registerer: reg})

	q.startMetrics()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ringflow_queue_requests_total"])
	assert.True(t, names["ringflow_queue_active_connections"])
	assert.Empty(t, q.httpServers, "no metrics server without a port")
}
