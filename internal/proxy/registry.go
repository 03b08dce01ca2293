// Package proxy tracks runs that hold a browser and relays DevTools
// websocket traffic to them for live debugging.
package proxy

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/pkg/models"
)

// ErrUnknownRun is returned for runs that are not holding a browser.
var ErrUnknownRun = errors.New("run not found or already finished")

type live struct {
	controlURL string
	startedAt  time.Time
}

// Registry records in-flight runs. It implements engine.Observer.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]live
	now  func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]live), now: time.Now}
}

func (r *Registry) RunStarted(id string, inst browser.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = live{controlURL: inst.ControlURL(), startedAt: r.now()}
}

func (r *Registry) RunFinished(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// ControlURL returns the DevTools endpoint of a live run.
func (r *Registry) ControlURL(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.runs[id]
	if !ok || l.controlURL == "" {
		return "", ErrUnknownRun
	}
	return l.controlURL, nil
}

// List returns live runs, oldest first. debugURL renders the relay address
// for a run id; it may be nil.
func (r *Registry) List(debugURL func(id string) string) []models.RunInfo {
	r.mu.RLock()
	out := make([]models.RunInfo, 0, len(r.runs))
	for id, l := range r.runs {
		info := models.RunInfo{CorrelationID: id, StartedAt: l.startedAt}
		if debugURL != nil {
			info.DebugURL = debugURL(id)
		}
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].CorrelationID < out[j].CorrelationID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
