package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// RecentReports exposes trade reports kept in memory.
type RecentReports interface {
	Recent(limit int) []domain.TradeReport
}

// TradesHandler serves trade reports, from the journal when one is
// configured and from memory otherwise.
type TradesHandler struct {
	symbol string
	fills  domain.FillStore
	recent RecentReports
	logger *slog.Logger
}

// NewTradesHandler creates a TradesHandler. fills may be nil.
func NewTradesHandler(symbol string, fills domain.FillStore, recent RecentReports, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{symbol: symbol, fills: fills, recent: recent, logger: logger}
}

type tradesResponse struct {
	Symbol string               `json:"symbol"`
	Trades []domain.TradeReport `json:"trades"`
}

// ListTrades returns the newest trade reports, newest first.
// GET /api/trades?limit=
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	var trades []domain.TradeReport
	if h.fills != nil {
		var err error
		trades, err = h.fills.ListRecent(r.Context(), h.symbol, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	} else {
		trades = h.recent.Recent(limit)
		for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
			trades[i], trades[j] = trades[j], trades[i]
		}
	}

	if trades == nil {
		trades = []domain.TradeReport{}
	}
	writeJSON(w, http.StatusOK, tradesResponse{Symbol: h.symbol, Trades: trades})
}
