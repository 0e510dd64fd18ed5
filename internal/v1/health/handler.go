// Package health implements the broker's liveness/readiness/startup
// endpoints, grounded on the teacher's health handler shape (JSON
// responses, a context-bounded dependency check per subsystem).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by internal/v1/bus.Service; kept as an interface so
// health has no hard dependency on the concrete Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker is satisfied by internal/v1/store.Store.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// SandboxChecker reports whether the configured code-execution sandbox
// endpoint is reachable. cmd/broker passes the refusing sandbox when code
// execution is disabled, which always reports unhealthy.
type SandboxChecker interface {
	Healthy(ctx context.Context) bool
}

type Handler struct {
	bus     Pinger
	store   StoreChecker
	sandbox SandboxChecker
	started time.Time
}

func NewHandler(bus Pinger, store StoreChecker, sandbox SandboxChecker) *Handler {
	return &Handler{bus: bus, store: store, sandbox: sandbox, started: time.Now()}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
}

// Liveness reports whether the process is alive at all; never checks
// dependencies (a dependency outage must not kill a live pod).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status: "ok",
		Uptime: time.Since(h.started).String(),
	})
}

type CheckResult struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type ReadinessResponse struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks"`
}

// Readiness checks persistence (required) and the bus/sandbox (optional,
// degrade gracefully) each bounded by a 3s timeout.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]CheckResult{}
	ready := true

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["persistence"] = CheckResult{Healthy: false, Detail: err.Error()}
			ready = false
		} else {
			checks["persistence"] = CheckResult{Healthy: true}
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			checks["bus"] = CheckResult{Healthy: false, Detail: err.Error()}
			// bus is optional: single-instance mode is still ready.
		} else {
			checks["bus"] = CheckResult{Healthy: true}
		}
	}

	if h.sandbox != nil {
		if h.sandbox.Healthy(ctx) {
			checks["sandbox"] = CheckResult{Healthy: true}
		} else {
			checks["sandbox"] = CheckResult{Healthy: false, Detail: "sandbox unreachable"}
		}
	}

	status := http.StatusOK
	respStatus := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		respStatus = "not_ready"
	}
	c.JSON(status, ReadinessResponse{Status: respStatus, Checks: checks})
}

// Startup reports the same as readiness but is meant to be polled only
// during process bring-up before the liveness probe takes over.
func (h *Handler) Startup(c *gin.Context) {
	h.Readiness(c)
}
