// Package api serves the invitation runner over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/invite-runner/internal/proxy"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
	"github.com/shehryarbajwa/invite-runner/pkg/models"
)

// maxBodyBytes bounds a request body; session bundles are a few KiB.
const maxBodyBytes = 1 << 20

// Submitter runs one invitation. *engine.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, req models.AutomationRequest) models.AutomationResult
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine   Submitter
	registry *proxy.Registry
	capacity *semaphore.Weighted
	metrics  *telemetry.Metrics
	log      *zap.Logger
}

// NewHandler creates a handler that runs at most maxRuns invitations at once.
func NewHandler(engine Submitter, registry *proxy.Registry, maxRuns int64, metrics *telemetry.Metrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		registry: registry,
		capacity: semaphore.NewWeighted(maxRuns),
		metrics:  metrics,
		log:      log,
	}
}

// CreateInvitation handles POST /v1/invitations.
func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		h.metrics.Rejected("bad_request")
		writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	if !h.capacity.TryAcquire(1) {
		h.metrics.Rejected("capacity")
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "Runner is at capacity, retry later")
		return
	}
	defer h.capacity.Release(1)

	if req.CorrelationID == "" {
		req.CorrelationID = r.Header.Get("X-Correlation-ID")
	}
	res := h.engine.Submit(r.Context(), req)
	h.log.Info("invitation handled",
		zap.String("correlation_id", res.CorrelationID),
		zap.String("outcome", res.OutcomeKind),
		zap.Bool("success", res.Success))

	writeJSON(w, http.StatusOK, res)
}

func decodeRequest(r *http.Request) (models.AutomationRequest, error) {
	var req models.AutomationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("empty body")
		}
		return req, fmt.Errorf("malformed JSON: %w", err)
	}
	switch {
	case strings.TrimSpace(req.TargetURL) == "":
		return req, errors.New("targetUrl is required")
	case strings.TrimSpace(req.SessionBundle) == "":
		return req, errors.New("sessionBundle is required")
	}
	return req, nil
}

// ListRuns handles GET /v1/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.registry.List(func(id string) string {
		return fmt.Sprintf("ws://%s/v1/runs/%s/ws", r.Host, id)
	})
	writeJSON(w, http.StatusOK, runs)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
