package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// BarSource exposes the in-memory bar series.
type BarSource interface {
	Snapshot() []domain.Bar
}

// BarsHandler serves recent bars.
type BarsHandler struct {
	symbol   string
	interval string
	live     BarSource
	history  domain.BarHistoryStore
	logger   *slog.Logger
}

// NewBarsHandler creates a BarsHandler. history may be nil.
func NewBarsHandler(symbol, interval string, live BarSource, history domain.BarHistoryStore, logger *slog.Logger) *BarsHandler {
	return &BarsHandler{
		symbol:   symbol,
		interval: interval,
		live:     live,
		history:  history,
		logger:   logger,
	}
}

type barsResponse struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Source   string       `json:"source"`
	Bars     []domain.Bar `json:"bars"`
}

// ListBars returns the newest bars, oldest first. With ?source=history the
// bars come from the journal instead of memory.
// GET /api/bars?limit=
func (h *BarsHandler) ListBars(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	resp := barsResponse{Symbol: h.symbol, Interval: h.interval, Source: "live"}

	if r.URL.Query().Get("source") == "history" {
		if h.history == nil {
			writeError(w, http.StatusNotFound, "bar history is not configured")
			return
		}
		bars, err := h.history.ListBars(r.Context(), h.symbol, h.interval, domain.ListOpts{Limit: limit})
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list bars failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list bars")
			return
		}
		// The journal returns newest first.
		for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
			bars[i], bars[j] = bars[j], bars[i]
		}
		resp.Source = "history"
		resp.Bars = bars
	} else {
		bars := h.live.Snapshot()
		if len(bars) > limit {
			bars = bars[len(bars)-limit:]
		}
		resp.Bars = bars
	}

	if resp.Bars == nil {
		resp.Bars = []domain.Bar{}
	}
	writeJSON(w, http.StatusOK, resp)
}
