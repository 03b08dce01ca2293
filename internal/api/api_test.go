package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/invite-runner/internal/browser/browsertest"
	"github.com/shehryarbajwa/invite-runner/internal/proxy"
	"github.com/shehryarbajwa/invite-runner/internal/ratelimit"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
	"github.com/shehryarbajwa/invite-runner/pkg/models"
)

type stubEngine struct {
	mu       sync.Mutex
	requests []models.AutomationRequest
	started  chan struct{}
	release  chan struct{}
}

func (s *stubEngine) Submit(ctx context.Context, req models.AutomationRequest) models.AutomationResult {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	return models.AutomationResult{
		Success:       true,
		Message:       "Connection request sent",
		OutcomeKind:   "Success",
		CorrelationID: req.CorrelationID,
		Logs:          []string{"ok"},
	}
}

type fixture struct {
	engine   *stubEngine
	registry *proxy.Registry
	reg      *prometheus.Registry
	router   http.Handler
}

func newFixture(maxRuns int64, perHour, burst int) *fixture {
	f := &fixture{
		engine:   &stubEngine{},
		registry: proxy.NewRegistry(),
		reg:      prometheus.NewRegistry(),
	}
	metrics := telemetry.NewMetrics(f.reg)
	h := NewHandler(f.engine, f.registry, maxRuns, metrics, nil)
	f.router = h.SetupRoutes(proxy.NewServer(f.registry, nil), ratelimit.NewLimiter(perHour, burst), f.reg)
	return f
}

func (f *fixture) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/invitations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"targetUrl":"https://www.linkedin.com/in/jane/","sessionBundle":"li_at=x","note":"hi"}`

func TestCreateInvitation(t *testing.T) {
	f := newFixture(2, 100, 10)

	rec := f.post(validBody, map[string]string{"X-Correlation-ID": "corr-7", "X-Account-ID": "a1"})

	require.Equal(t, http.StatusOK, rec.Code)
	var res models.AutomationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "corr-7", res.CorrelationID)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	require.Len(t, f.engine.requests, 1)
	assert.Equal(t, "hi", f.engine.requests[0].Note)
}

func TestCreateInvitationRejectsBadBodies(t *testing.T) {
	f := newFixture(2, 100, 10)
	for _, body := range []string{"", "{", `{"targetUrl":"https://x"}`, `{"sessionBundle":"x"}`} {
		rec := f.post(body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "Invalid request")
	}
	assert.Empty(t, f.engine.requests)
}

func TestRateLimitPerAccount(t *testing.T) {
	f := newFixture(2, 100, 1)

	assert.Equal(t, http.StatusOK, f.post(validBody, map[string]string{"X-Account-ID": "a1"}).Code)
	rec := f.post(validBody, map[string]string{"X-Account-ID": "a1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, f.post(validBody, map[string]string{"X-Account-ID": "a2"}).Code)
}

func TestCapacity(t *testing.T) {
	f := newFixture(1, 100, 10)
	f.engine.started = make(chan struct{})
	f.engine.release = make(chan struct{})

	done := make(chan int)
	go func() { done <- f.post(validBody, map[string]string{"X-Account-ID": "a1"}).Code }()
	<-f.engine.started

	rec := f.post(validBody, map[string]string{"X-Account-ID": "a2"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	close(f.engine.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestListRunsAndHealth(t *testing.T) {
	f := newFixture(1, 100, 10)
	f.registry.RunStarted("run-1", browsertest.NewInstance(browsertest.NewPage()))

	req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	req.Host = "runner:8080"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "ws://runner:8080/v1/runs/run-1/ws", runs[0].DebugURL)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExposesRejections(t *testing.T) {
	f := newFixture(1, 100, 10)
	f.post("{", nil)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `invite_runner_api_rejections_total{reason="bad_request"} 1`)
}

func TestPreflight(t *testing.T) {
	f := newFixture(1, 100, 10)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/invitations", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.engine.requests)
}
