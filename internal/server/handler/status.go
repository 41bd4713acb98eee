package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/spotbot/internal/executor"
)

// StatusSource reports the executor's current state.
type StatusSource interface {
	Status() executor.Status
}

// StatusHandler serves the runtime status.
type StatusHandler struct {
	Mode         string
	Interval     string
	StrategyName string
	StartedAt    time.Time
	source       StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, interval, strategyName string, startedAt time.Time, source StatusSource) *StatusHandler {
	return &StatusHandler{
		Mode:         mode,
		Interval:     interval,
		StrategyName: strategyName,
		StartedAt:    startedAt,
		source:       source,
	}
}

type statusResponse struct {
	Mode          string          `json:"mode"`
	Interval      string          `json:"interval"`
	StrategyName  string          `json:"strategy_name"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Executor      executor.Status `json:"executor"`
}

// GetStatus responds with mode, symbol, position and the ledger summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:          h.Mode,
		Interval:      h.Interval,
		StrategyName:  h.StrategyName,
		UptimeSeconds: int64(time.Since(h.StartedAt).Seconds()),
		Executor:      h.source.Status(),
	})
}
