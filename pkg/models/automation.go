package models

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// AutomationRequest asks for one invitation to be sent.
type AutomationRequest struct {
	TargetURL     string `json:"targetUrl"`
	Note          string `json:"note,omitempty"`
	SessionBundle string `json:"sessionBundle"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// MarshalLogObject logs the request without the session bundle.
func (r AutomationRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("target_url", r.TargetURL)
	enc.AddInt("note_length", len([]rune(r.Note)))
	enc.AddInt("bundle_length", len(r.SessionBundle))
	enc.AddString("correlation_id", r.CorrelationID)
	return nil
}

// Screenshot is a checkpoint image. PNG is base64 in JSON.
type Screenshot struct {
	Checkpoint string    `json:"checkpoint"`
	TakenAt    time.Time `json:"takenAt"`
	PNG        []byte    `json:"png"`
}

// AutomationResult is returned for every request, whatever happened.
type AutomationResult struct {
	Success       bool         `json:"success"`
	Message       string       `json:"message"`
	OutcomeKind   string       `json:"outcomeKind"`
	Stage         string       `json:"stage,omitempty"`
	Indicator     string       `json:"indicator,omitempty"`
	Error         string       `json:"error,omitempty"`
	CorrelationID string       `json:"correlationId"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Logs          []string     `json:"logs"`
	LogsDropped   int          `json:"logsDropped,omitempty"`
	Screenshots   []Screenshot `json:"screenshots"`
}

// RunInfo describes a run that currently holds a browser.
type RunInfo struct {
	CorrelationID string    `json:"correlationId"`
	StartedAt     time.Time `json:"startedAt"`
	DebugURL      string    `json:"debugUrl,omitempty"`
}
