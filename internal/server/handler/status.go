package handler

import (
	"net/http"
	"time"
)

// ActiveCounter reports how many positions are being tracked.
type ActiveCounter interface {
	CountActive() int
}

// StatusHandler serves runtime metadata for dashboards.
type StatusHandler struct {
	Mode      string
	Wallet    string
	StartedAt time.Time
	positions ActiveCounter
}

// NewStatusHandler creates a StatusHandler. positions may be nil in server
// mode.
func NewStatusHandler(mode, wallet string, startedAt time.Time, positions ActiveCounter) *StatusHandler {
	return &StatusHandler{Mode: mode, Wallet: wallet, StartedAt: startedAt, positions: positions}
}

// GetStatus responds with mode, wallet, uptime and the active position count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	active := 0
	if h.positions != nil {
		active = h.positions.CountActive()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":             h.Mode,
		"wallet":           h.Wallet,
		"uptime_seconds":   int64(time.Since(h.StartedAt).Seconds()),
		"active_positions": active,
	})
}
