package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/busgate/internal/domain"
)

// HealthHandler serves the health-check endpoint. Beyond the process being
// up, it pings every registered backing dependency (audit database,
// snapshot archive) so an operator polling /api/health finds out about a
// degraded dependency before a client-facing error does.
type HealthHandler struct {
	logger   *slog.Logger
	checkers map[string]domain.HealthChecker
}

// NewHealthHandler creates a HealthHandler that additionally pings each
// entry of checkers (keyed by a short dependency name such as "postgres" or
// "s3") on every request.
func NewHealthHandler(logger *slog.Logger, checkers map[string]domain.HealthChecker) *HealthHandler {
	return &HealthHandler{logger: logger, checkers: checkers}
}

// HealthCheck responds with overall status plus a per-dependency breakdown.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checkers))
	healthy := true

	for name, checker := range h.checkers {
		if err := checker.Health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health: dependency unhealthy",
				slog.String("dependency", name), slog.String("error", err.Error()))
			components[name] = err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"components": components,
	})
}
