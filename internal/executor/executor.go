// Package executor applies completed bars to the position: it computes the
// signal, drives the position controller and books the resulting fills.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/ledger"
	"github.com/alanyoungcy/spotbot/internal/metrics"
	"github.com/alanyoungcy/spotbot/internal/position"
	"github.com/alanyoungcy/spotbot/internal/strategy"
)

// Controller is the position state machine.
type Controller interface {
	Position() domain.Position
	Transition(ctx context.Context, target domain.Position) (position.Outcome, error)
}

// Status is a point-in-time view of the executor.
type Status struct {
	Symbol      string         `json:"symbol"`
	Position    string         `json:"position"`
	BarsApplied int64          `json:"bars_applied"`
	LastBar     *time.Time     `json:"last_bar,omitempty"`
	LastSignal  *domain.Signal `json:"last_signal,omitempty"`
	Ledger      ledger.Summary `json:"ledger"`
}

// Executor consumes completed-bar events strictly in order. It is the only
// caller of the position controller, which makes it the single writer of
// the position and the ledger. A nil controller runs in monitor mode:
// signals are computed and reported, no orders are placed.
type Executor struct {
	symbol   string
	events   <-chan domain.BarEvent
	strat    strategy.Strategy
	ctrl     Controller
	recorder *Recorder
	ledger   *ledger.Ledger
	reporter Reporter
	dedup    *Dedup
	logger   *slog.Logger

	cleanupInterval time.Duration
	drainTimeout    time.Duration

	mu     sync.Mutex
	status Status
}

// NewExecutor wires an executor for symbol. ctrl and recorder may be nil in
// monitor mode.
func NewExecutor(
	symbol string,
	events <-chan domain.BarEvent,
	strat strategy.Strategy,
	ctrl Controller,
	recorder *Recorder,
	l *ledger.Ledger,
	reporter Reporter,
	logger *slog.Logger,
) *Executor {
	e := &Executor{
		symbol:          symbol,
		events:          events,
		strat:           strat,
		ctrl:            ctrl,
		recorder:        recorder,
		ledger:          l,
		reporter:        reporter,
		dedup:           NewDedup(24 * time.Hour),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 10 * time.Minute,
		drainTimeout:    5 * time.Second,
	}
	e.status = Status{Symbol: symbol, Position: e.currentPosition().String()}
	return e
}

// Run processes events until the channel is closed. Once ctx is cancelled it
// keeps applying whatever the poller still publishes, each bar on its own
// bounded context, and returns ctx.Err() when the channel closes.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", slog.String("position", e.currentPosition().String()))
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(ctx)
			return ctx.Err()

		case ev, ok := <-e.events:
			if !ok {
				return ctx.Err()
			}
			if ctx.Err() != nil {
				e.applyLate(ctx, ev)
				continue
			}
			e.Apply(ctx, ev)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// Apply handles one completed bar. It returns the signal it acted on, or
// false when the bar was a duplicate or no signal was available.
func (e *Executor) Apply(ctx context.Context, ev domain.BarEvent) (domain.Signal, bool) {
	log := e.logger.With(slog.Time("bar", ev.Bar.OpenTime))

	key := fmt.Sprintf("%s|%s|%d", ev.Symbol, ev.Interval, ev.Bar.OpenTime.UnixMilli())
	if e.dedup.IsDuplicate(key) {
		log.Debug("bar already applied, skipping")
		return domain.Signal{}, false
	}

	if e.reporter != nil {
		if err := e.reporter.HandleBar(ctx, ev); err != nil {
			log.Warn("bar report failed", slog.String("error", err.Error()))
		}
	}
	e.updateStatus(func(s *Status) {
		s.BarsApplied++
		t := ev.Bar.OpenTime
		s.LastBar = &t
	})

	sig, err := e.strat.Compute(ev.History)
	if errors.Is(err, domain.ErrSignalUnavailable) {
		log.Debug("signal unavailable", slog.Int("history", len(ev.History)))
		return domain.Signal{}, false
	}
	if err != nil {
		log.Error("signal computation failed", slog.String("error", err.Error()))
		return domain.Signal{}, false
	}

	if e.reporter != nil {
		if err := e.reporter.HandleSignal(ctx, sig); err != nil {
			log.Warn("signal report failed", slog.String("error", err.Error()))
		}
	}
	e.updateStatus(func(s *Status) { s.LastSignal = &sig })

	if e.ctrl == nil {
		return sig, true
	}

	if e.recorder != nil {
		e.recorder.SetBarTime(ev.Bar.OpenTime)
	}
	txCtx, cancel := e.detach(ctx)
	out, err := e.ctrl.Transition(txCtx, sig.Target)
	cancel()
	metrics.Position.WithLabelValues(e.symbol).Set(float64(out.To))
	e.updateStatus(func(s *Status) { s.Position = out.To.String() })

	if err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			metrics.OrdersTotal.WithLabelValues(e.symbol, string(execErr.Intent.Side), "failed").Inc()
		}
		msg := "transition failed; position needs reconciliation"
		if execErr == nil && errors.Is(err, domain.ErrFillUnbooked) {
			msg = "position moved but ledger is missing fills"
		}
		log.Error(msg,
			slog.String("target", sig.Target.String()),
			slog.String("position", out.To.String()),
			slog.Int("unbooked", len(out.Unbooked)),
			slog.String("error", err.Error()),
		)
		if e.reporter != nil {
			if rerr := e.reporter.HandleFailure(ctx, "execution_failed", err); rerr != nil {
				log.Warn("failure report failed", slog.String("error", rerr.Error()))
			}
		}
	}
	return sig, true
}

// Status returns the latest executor status.
func (e *Executor) Status() Status {
	e.mu.Lock()
	s := e.status
	e.mu.Unlock()
	if e.ledger != nil {
		s.Ledger = e.ledger.Snapshot()
	}
	return s
}

func (e *Executor) updateStatus(fn func(*Status)) {
	e.mu.Lock()
	fn(&e.status)
	e.mu.Unlock()
}

func (e *Executor) currentPosition() domain.Position {
	if e.ctrl == nil {
		return domain.PositionFlat
	}
	return e.ctrl.Position()
}

// drain applies the events published after cancellation until the poller
// closes the channel. Its in-flight cycle runs detached and may still
// complete a bar.
func (e *Executor) drain(ctx context.Context) {
	if e.events == nil {
		return
	}
	for ev := range e.events {
		e.applyLate(ctx, ev)
	}
}

func (e *Executor) applyLate(ctx context.Context, ev domain.BarEvent) {
	e.logger.Warn("draining bar after shutdown", slog.Time("bar", ev.Bar.OpenTime))
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.drainTimeout)
	defer cancel()
	e.Apply(drainCtx, ev)
}

// detach returns the context a transition runs on. It survives the
// cancellation of ctx for at most drainTimeout, so the second leg of a flip
// whose first leg already filled is still placed on shutdown.
func (e *Executor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	txCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(e.drainTimeout, cancel)
	})
	return txCtx, func() {
		stop()
		cancel()
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given TTL.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

// SetCleanupInterval changes how often the dedup map is garbage-collected.
// Must be called before Run.
func (e *Executor) SetCleanupInterval(d time.Duration) {
	e.cleanupInterval = d
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	mode := "trading"
	if e.ctrl == nil {
		mode = "monitor"
	}
	return fmt.Sprintf("Executor(symbol=%s, strategy=%s, mode=%s)", e.symbol, e.strat.Name(), mode)
}
