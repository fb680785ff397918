// Package health serves liveness and readiness probes for the shipper.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
	Queued    *int   `json:"queued,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// Pipeline is the view of a delivery pipeline needed for readiness.
type Pipeline interface {
	Key() string
	Healthy() bool
	Connected() bool
	QueueLen() int
}

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
type CheckFunc func() error

// Checker provides liveness and readiness probes. Pipelines are created
// lazily, so they are listed on every request instead of registered once.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	pipelines       func() []Pipeline
	shuttingDown    atomic.Bool
}

// New creates a new health Checker.
func New() *Checker {
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
	}
}

// RegisterReadiness registers a named readiness check.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// WatchPipelines makes readiness fail while any listed pipeline's latest
// flush cycle ended without a collector connection.
func (c *Checker) WatchPipelines(list func() []Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines = list
}

// SetShuttingDown marks the instance as shutting down.
// After this, both /live and /ready return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

func shuttingDownResponse() Response {
	return Response{
		Status:    StatusDown,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	}
}

// LiveHandler returns an http.HandlerFunc for the /live endpoint.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeJSON(w, http.StatusServiceUnavailable, shuttingDownResponse())
			return
		}
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Ready evaluates every check and pipeline.
func (c *Checker) Ready() Response {
	if c.shuttingDown.Load() {
		return shuttingDownResponse()
	}

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.readinessChecks))
	for k, v := range c.readinessChecks {
		checks[k] = v
	}
	list := c.pipelines
	c.mu.RUnlock()

	overall := StatusUp
	components := make(map[string]ComponentCheck, len(checks))

	for name, check := range checks {
		if err := check(); err != nil {
			overall = StatusDown
			components[name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
		} else {
			components[name] = ComponentCheck{Status: StatusUp}
		}
	}

	if list != nil {
		for _, p := range list() {
			connected, queued := p.Connected(), p.QueueLen()
			cc := ComponentCheck{Status: StatusUp, Connected: &connected, Queued: &queued}
			if !p.Healthy() {
				overall = StatusDown
				cc.Status = StatusDown
				cc.Message = fmt.Sprintf("collector unreachable, %d records queued", queued)
			}
			components["pipeline:"+p.Key()] = cc
		}
	}

	return Response{
		Status:     overall,
		Components: components,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// ReadyHandler returns an http.HandlerFunc for the /ready endpoint.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := c.Ready()
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
