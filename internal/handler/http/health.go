// Package http is the ops API of the notification pipeline: dispatch,
// recall, schedule commands, delivery callbacks and media upload, plus the
// health and metrics endpoints.
package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"notify-pipeline/internal/handler/http/respond"
)

// Pinger checks a dependency. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler serves liveness and readiness. Readiness requires the
// ready flag and a successful ping of every dependency.
type HealthHandler struct {
	Deps    map[string]Pinger
	Timeout time.Duration

	ready atomic.Bool
}

func (h *HealthHandler) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string, len(h.Deps)),
	}
	code := http.StatusOK
	if !h.ready.Load() {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	for name, dep := range h.Deps {
		if err := dep.PingContext(ctx); err != nil {
			resp.Checks[name] = "unhealthy"
			resp.Status = "not ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}
	respond.JSON(w, code, resp)
}
