package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Lujiluz/koilive/internal/live"
)

// StatusHandler reports the engine's connectivity and room membership.
type StatusHandler struct {
	engine    *live.Engine
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given engine.
func NewStatusHandler(engine *live.Engine, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine:    engine,
		startedAt: time.Now().UTC(),
		logger:    logHandler(logger, "status"),
	}
}

// GetStatus returns connectivity, joined rooms, and tracked auctions.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()

	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":      status.Connected,
		"rooms":          status.Rooms,
		"tracked":        status.Tracked,
		"uptime_seconds": uptime,
	})
}
