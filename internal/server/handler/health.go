package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler reports node liveness together with the operating mode, so
// load balancers can tell a mirror from a write node.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

func NewHealthHandler(mode string, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		mode:      mode,
		startedAt: startedAt,
		logger:    logger,
	}
}

// HealthCheck handles GET /api/health.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
