package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/metrics"
)

// Bus channels and streams the report service publishes to.
const (
	ChannelBar    = "ch:bar"
	ChannelSignal = "ch:signal"
	ChannelReport = "ch:report"
	ChannelStatus = "ch:status"
	StreamReports = "stream:reports"
)

// Notification event types.
const (
	EventTrade           = "trade"
	EventExecutionFailed = "execution_failed"
	EventFeedError       = "feed_error"
)

// recentLimit bounds the in-memory report history.
const recentLimit = 1000

// Broadcaster pushes a message to live inspection clients.
type Broadcaster interface {
	Publish(channel string, data []byte)
}

// Notifier forwards operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// ReportDeps lists the collaborators of a ReportService. Every field except
// Logger may be nil.
type ReportDeps struct {
	Bars     domain.BarHistoryStore
	Fills    domain.FillStore
	Audit    domain.AuditStore
	Bus      domain.SignalBus
	Hub      Broadcaster
	Notifier Notifier
	Logger   *slog.Logger
}

// ReportService fans completed bars, signals and trade reports out to the
// journals, the signal bus, live clients and operator notifications. Sink
// failures are returned but never block the remaining sinks.
type ReportService struct {
	symbol   string
	interval string
	deps     ReportDeps
	logger   *slog.Logger

	mu         sync.RWMutex
	recent     []domain.TradeReport
	lastSignal *domain.Signal
}

// NewReportService creates a ReportService for one symbol and interval.
func NewReportService(symbol, interval string, deps ReportDeps) *ReportService {
	return &ReportService{
		symbol:   symbol,
		interval: interval,
		deps:     deps,
		logger:   deps.Logger.With(slog.String("component", "report_service")),
	}
}

type envelope struct {
	Type    string `json:"type"`
	Symbol  string `json:"symbol"`
	Payload any    `json:"payload"`
}

// HandleBar journals a completed bar and publishes it.
func (s *ReportService) HandleBar(ctx context.Context, ev domain.BarEvent) error {
	var errs []error
	if s.deps.Bars != nil {
		if err := s.deps.Bars.AppendBars(ctx, ev.Symbol, ev.Interval, []domain.Bar{ev.Bar}); err != nil {
			errs = append(errs, fmt.Errorf("report_service: append bar: %w", err))
		}
	}
	errs = append(errs, s.publish(ctx, ChannelBar, "bar", ev.Bar))

	s.logger.DebugContext(ctx, "bar completed",
		slog.Time("open_time", ev.Bar.OpenTime),
		slog.Float64("close", ev.Bar.Close),
		slog.Float64("volume", ev.Bar.Volume),
		slog.Int("history", len(ev.History)),
	)
	return errors.Join(errs...)
}

// HandleSignal records the latest signal and publishes it.
func (s *ReportService) HandleSignal(ctx context.Context, sig domain.Signal) error {
	s.mu.Lock()
	s.lastSignal = &sig
	s.mu.Unlock()

	metrics.SignalsTotal.WithLabelValues(s.symbol, sig.Target.String()).Inc()
	s.logger.InfoContext(ctx, "signal",
		slog.Time("bar_time", sig.BarTime),
		slog.String("target", sig.Target.String()),
		slog.Float64("return", sig.Return),
		slog.Float64("volume_change", sig.VolumeChange),
		slog.Bool("volume_ok", sig.VolumeOK),
	)
	return s.publish(ctx, ChannelSignal, "signal", sig)
}

// HandleReport emits the structured trade report for one fill.
func (s *ReportService) HandleReport(ctx context.Context, r domain.TradeReport) error {
	s.mu.Lock()
	s.recent = append(s.recent, r)
	if len(s.recent) > recentLimit {
		s.recent = append(s.recent[:0:0], s.recent[len(s.recent)-recentLimit:]...)
	}
	s.mu.Unlock()

	metrics.CumulativeProfit.WithLabelValues(s.symbol).Set(r.CumulativeProfit)
	s.logger.InfoContext(ctx, "trade report",
		slog.String("report_id", r.ID),
		slog.String("order_id", r.OrderID),
		slog.Time("timestamp", r.Timestamp),
		slog.String("action", string(r.Action)),
		slog.Float64("filled_units", r.FilledUnits),
		slog.Float64("cost_quote", r.CostQuote),
		slog.Float64("avg_price", r.AvgPrice),
		slog.Float64("realized_profit", r.RealizedProfit),
		slog.Float64("cumulative_profit", r.CumulativeProfit),
		slog.Float64("fee_amount", r.FeeAmount),
		slog.String("fee_currency", r.FeeCurrency),
	)

	var errs []error
	if s.deps.Fills != nil {
		if err := s.deps.Fills.Insert(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("report_service: insert report: %w", err))
		}
	}
	errs = append(errs, s.publish(ctx, ChannelReport, "trade_report", r))
	if s.deps.Bus != nil {
		data, _ := json.Marshal(r)
		if err := s.deps.Bus.StreamAppend(ctx, StreamReports, data); err != nil {
			errs = append(errs, fmt.Errorf("report_service: stream append: %w", err))
		}
	}
	errs = append(errs, s.audit(ctx, "trade", map[string]any{
		"report_id":         r.ID,
		"order_id":          r.OrderID,
		"action":            string(r.Action),
		"side":              string(r.Side),
		"filled_units":      r.FilledUnits,
		"cost_quote":        r.CostQuote,
		"realized_profit":   r.RealizedProfit,
		"cumulative_profit": r.CumulativeProfit,
	}))

	if s.deps.Notifier != nil {
		title := fmt.Sprintf("%s %s", s.symbol, r.Action)
		msg := fmt.Sprintf("%s %s @ %s\ncost %s\nrealized %s | cumulative %s",
			r.Side, fmtFloat(r.FilledUnits), fmtFloat(r.AvgPrice), fmtFloat(r.CostQuote),
			fmtFloat(r.RealizedProfit), fmtFloat(r.CumulativeProfit))
		if err := s.deps.Notifier.Notify(ctx, EventTrade, title, msg); err != nil {
			errs = append(errs, fmt.Errorf("report_service: notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HandleFailure surfaces an operator-facing failure such as an execution
// error or a feed regression.
func (s *ReportService) HandleFailure(ctx context.Context, event string, cause error) error {
	s.logger.ErrorContext(ctx, "failure", slog.String("event", event), slog.String("error", cause.Error()))

	errs := []error{
		s.audit(ctx, event, map[string]any{"error": cause.Error()}),
		s.publish(ctx, ChannelStatus, event, map[string]any{
			"error": cause.Error(),
			"at":    time.Now().UTC(),
		}),
	}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Notify(ctx, event, fmt.Sprintf("%s %s", s.symbol, event), cause.Error()); err != nil {
			errs = append(errs, fmt.Errorf("report_service: notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Recent returns up to limit of the latest trade reports, oldest first. A
// non-positive limit returns all of them.
func (s *ReportService) Recent(limit int) []domain.TradeReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.recent
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]domain.TradeReport, len(src))
	copy(out, src)
	return out
}

// LastSignal returns the most recent signal, if any.
func (s *ReportService) LastSignal() (domain.Signal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSignal == nil {
		return domain.Signal{}, false
	}
	return *s.lastSignal, true
}

func (s *ReportService) publish(ctx context.Context, channel, typ string, payload any) error {
	if s.deps.Bus == nil && s.deps.Hub == nil {
		return nil
	}
	data, err := json.Marshal(envelope{Type: typ, Symbol: s.symbol, Payload: payload})
	if err != nil {
		return fmt.Errorf("report_service: marshal %s: %w", typ, err)
	}
	if s.deps.Hub != nil {
		s.deps.Hub.Publish(channel, data)
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, channel, data); err != nil {
			return fmt.Errorf("report_service: publish %s: %w", channel, err)
		}
	}
	return nil
}

func (s *ReportService) audit(ctx context.Context, event string, detail map[string]any) error {
	if s.deps.Audit == nil {
		return nil
	}
	detail["symbol"] = s.symbol
	detail["interval"] = s.interval
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		return fmt.Errorf("report_service: audit %s: %w", event, err)
	}
	return nil
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
