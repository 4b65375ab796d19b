package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const readyCheckTimeout = 5 * time.Second

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	logger *zap.Logger
	mu     sync.RWMutex
	checks []namedCheck
}

type namedCheck struct {
	name string
	ping func(ctx context.Context) error
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's probe outcome.
type CheckResult struct {
	Status  string `json:"status"` // pass, fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler creates a health handler with no checks registered.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// RegisterCheck adds a named readiness check (database ping, Redis ping).
func (h *HealthHandler) RegisterCheck(name string, ping func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, ping: ping})
}

// HandleHealthz is the liveness probe: the process is up.
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady is the readiness probe: every registered dependency check must
// pass within the timeout.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]namedCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	healthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.ping(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			healthy = false
			h.logger.Warn("readiness check failed",
				zap.String("check", check.name),
				zap.Error(err),
			)
		}
		status.Checks[check.name] = result
	}

	if !healthy {
		status.Status = "unhealthy"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
