package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxbuckets/internal/config"
)

const partitionBody = `{
	"correlations": [
		{"a": "EURUSD", "b": "GBPUSD", "value": 88},
		{"a": "AUDUSD", "b": "NZDUSD", "value": 91},
		{"a": "EURUSD", "b": "AUDUSD", "value": 20},
		{"a": "EURUSD", "b": "NZDUSD", "value": 15},
		{"a": "GBPUSD", "b": "AUDUSD", "value": 25},
		{"a": "GBPUSD", "b": "NZDUSD", "value": 30}
	],
	"buckets": 2,
	"restarts": 5,
	"seed": 3
}`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.RateLimit.Enabled = false
	cfg.Telemetry.TraceExporter = "none"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := New(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { a.OTelProviders.Shutdown(context.Background()) })
	return a
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	a := newTestApp(t, testConfig())

	tests := []struct {
		target string
		key    string
		want   interface{}
	}{
		{"/api/health", "status", "ok"},
		{"/api/health/ready", "status", "ready"},
		{"/api/version", "version", Version},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, a.Router, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body[tt.key])
			assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestPartitionEndpoint(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := do(t, a.Router, http.MethodPost, "/api/v1/partitions", partitionBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Buckets   [][]string `json:"buckets"`
		HighCount int        `json:"high_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Buckets, 2)
	assert.Equal(t, 0, body.HighCount)
}

func TestPartitionEndpointRequiresJSON(t *testing.T) {
	a := newTestApp(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/partitions", strings.NewReader(partitionBody))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 64
	a := newTestApp(t, cfg)

	rec := do(t, a.Router, http.MethodPost, "/api/v1/partitions", partitionBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.01, Burst: 1}
	a := newTestApp(t, cfg)

	first := do(t, a.Router, http.MethodPost, "/api/v1/partitions", partitionBody)
	require.Equal(t, http.StatusOK, first.Code)

	second := do(t, a.Router, http.MethodPost, "/api/v1/partitions", partitionBody)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "100", second.Header().Get("Retry-After"))

	health := do(t, a.Router, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, health.Code, "health checks are not rate limited")
}

func TestNotFoundIsProblemJSON(t *testing.T) {
	a := newTestApp(t, testConfig())

	rec := do(t, a.Router, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/not-found", problem["type"])
	assert.NotEmpty(t, problem["trace_id"])
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, testConfig())

	require.Equal(t, http.StatusOK, do(t, a.Router, http.MethodPost, "/api/v1/partitions", partitionBody).Code)

	rec := do(t, a.Router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "http_requests_total")
	assert.Contains(t, body, `http_route="/api/v1/partitions`)
	assert.Contains(t, body, "bucketing_restarts_total")
	assert.Contains(t, body, "bucketing_optimizations_total")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Enabled = false
	a := newTestApp(t, cfg)

	rec := do(t, a.Router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartStop(t *testing.T) {
	a := newTestApp(t, testConfig())
	ctx := context.Background()

	require.NoError(t, a.Start(ctx))
	addr := a.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(ctx))
}
