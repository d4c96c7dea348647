package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandlers handles health check endpoints
type HealthHandlers struct {
	checks  map[string]Check
	clock   clockwork.Clock
	started time.Time
	version string
}

// NewHealthHandlers takes the readiness checks keyed by dependency name.
func NewHealthHandlers(checks map[string]Check, clock clockwork.Clock, version string) *HealthHandlers {
	return &HealthHandlers{
		checks:  checks,
		clock:   clock,
		started: clock.Now(),
		version: version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
}

// LivenessCheck reports that the process is up without touching dependencies.
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	now := h.clock.Now()
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Version:   h.version,
	})
}

// ReadinessCheck probes every dependency and answers 503 if any is down.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), checkTimeout)
	defer cancel()

	now := h.clock.Now()
	health := HealthStatus{
		Status:    "ready",
		Timestamp: now.UTC().Format(time.RFC3339),
		Services:  make(map[string]string, len(h.checks)),
		Uptime:    now.Sub(h.started).Round(time.Second).String(),
		Version:   h.version,
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			c.Logger().Warnf("readiness check %s failed: %v", name, err)
			health.Services[name] = "unhealthy"
			health.Status = "not_ready"
			continue
		}
		health.Services[name] = "healthy"
	}

	statusCode := http.StatusOK
	if health.Status != "ready" {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, health)
}
