// Package health provides liveness and readiness probe endpoints for the
// resilience layer. Liveness reports process health only; readiness runs the
// registered dependency checks (shared store reachability and the like) and
// degrades instead of failing when the layer can still serve from local state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the reported probe status.
type Status string

const (
	// StatusHealthy indicates the service is fully operational.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the service is operational with reduced
	// capability, such as the shared store being unreachable.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the service cannot serve requests.
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of a single readiness check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs one readiness check. It must honor ctx.
type CheckFunc func(ctx context.Context) Check

// LivenessResponse is the body served on the liveness endpoint.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body served on the readiness endpoint.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Checker aggregates registered readiness checks.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker returns a Checker reporting the given version string.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   5 * time.Second,
		checks:    make(map[string]CheckFunc),
	}
}

// Register adds a named readiness check. Registering the same name again
// replaces the previous check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Unregister removes a named readiness check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Liveness reports process liveness. It never runs dependency checks.
func (c *Checker) Liveness() LivenessResponse {
	return LivenessResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs all registered checks and aggregates their status. A single
// unhealthy check makes the whole response unhealthy; a degraded check makes
// it degraded unless something else is unhealthy.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(checks)),
		Timestamp: time.Now(),
	}

	for name, fn := range checks {
		check := fn(ctx)
		response.Checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			response.Status = StatusUnhealthy
		case StatusDegraded:
			if response.Status != StatusUnhealthy {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

// LivenessHandler returns the HTTP handler for the liveness endpoint.
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, c.Liveness())
	}
}

// ReadinessHandler returns the HTTP handler for the readiness endpoint.
// Degraded still answers 200: the layer keeps serving from local state when
// the shared store is down, so it must not be pulled out of rotation.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Readiness(r.Context())

		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	}
}

// PingCheck adapts a ping function into a readiness check that reports
// degraded on failure.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
