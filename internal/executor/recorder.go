package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/ledger"
	"github.com/alanyoungcy/spotbot/internal/metrics"
)

// Reporter receives everything the executor observes.
type Reporter interface {
	HandleBar(ctx context.Context, ev domain.BarEvent) error
	HandleSignal(ctx context.Context, sig domain.Signal) error
	HandleReport(ctx context.Context, r domain.TradeReport) error
	HandleFailure(ctx context.Context, event string, cause error) error
}

// Recorder books each fill in the ledger and emits its trade report. It is
// installed as the position controller's fill handler.
type Recorder struct {
	symbol   string
	ledger   *ledger.Ledger
	reporter Reporter
	logger   *slog.Logger

	mu      sync.Mutex
	barTime time.Time
}

// NewRecorder creates a Recorder for symbol.
func NewRecorder(symbol string, l *ledger.Ledger, reporter Reporter, logger *slog.Logger) *Recorder {
	return &Recorder{
		symbol:   symbol,
		ledger:   l,
		reporter: reporter,
		logger:   logger.With(slog.String("component", "recorder")),
	}
}

// SetBarTime tags subsequent reports with the bar that triggered them.
func (r *Recorder) SetBarTime(t time.Time) {
	r.mu.Lock()
	r.barTime = t
	r.mu.Unlock()
}

// OnFill books one fill. Only a ledger failure is returned; the fill is
// booked once Record succeeds, so a failed report is logged instead.
func (r *Recorder) OnFill(ctx context.Context, intent domain.OrderIntent, fill domain.Fill) error {
	metrics.OrdersTotal.WithLabelValues(r.symbol, string(intent.Side), "filled").Inc()

	if fill.Side == "" {
		fill.Side = intent.Side
	}
	entry, err := r.ledger.Record(fill)
	if err != nil {
		return fmt.Errorf("executor: record fill %s: %w", fill.OrderID, err)
	}

	r.mu.Lock()
	barTime := r.barTime
	r.mu.Unlock()

	report := domain.TradeReport{
		ID:               uuid.NewString(),
		Symbol:           r.symbol,
		OrderID:          fill.OrderID,
		Timestamp:        fill.Timestamp,
		BarTime:          barTime,
		Action:           intent.Action,
		Side:             fill.Side,
		FilledUnits:      fill.FilledUnits,
		CostQuote:        fill.CostQuote,
		AvgPrice:         fill.AvgPrice,
		FeeCurrency:      fill.FeeCurrency,
		FeeAmount:        fill.FeeAmount,
		TradeCount:       entry.TradeCount,
		RealizedProfit:   entry.RealizedProfit,
		CumulativeProfit: entry.CumulativeProfit,
	}
	if r.reporter == nil {
		return nil
	}
	if err := r.reporter.HandleReport(ctx, report); err != nil {
		r.logger.Warn("trade report failed",
			slog.String("order_id", fill.OrderID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
