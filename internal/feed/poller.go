// Package feed rebuilds a continuous candle series from a polling market
// data source and publishes completed bars.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/spotbot/internal/candle"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/metrics"
)

// Source is the market data collaborator.
type Source interface {
	// FetchRecent returns up to limit bars in ascending order, starting at
	// since when it is set.
	FetchRecent(ctx context.Context, symbol, interval string, since *time.Time, limit int) ([]domain.Tick, error)
	// FetchLatest returns the last one or two bars, the newest being the
	// forming bar.
	FetchLatest(ctx context.Context, symbol, interval string) ([]domain.Tick, error)
}

// ErrorHandler is told about cycle errors the poller recovers from.
type ErrorHandler func(ctx context.Context, err error)

// Config configures a Poller.
type Config struct {
	Symbol              string
	Interval            string
	BacklogSize         int
	PollInterval        time.Duration
	BackfillPause       time.Duration
	MaxBackfillAttempts int
	FetchTimeout        time.Duration
	EventBuffer         int
}

func (c *Config) applyDefaults() {
	if c.BacklogSize <= 0 {
		c.BacklogSize = 1000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BackfillPause <= 0 {
		c.BackfillPause = 100 * time.Millisecond
	}
	if c.MaxBackfillAttempts <= 0 {
		c.MaxBackfillAttempts = 20
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 16
	}
}

// Poller owns the candle store. It is the only goroutine that writes to it
// and publishes completed bars, in order, on Events.
type Poller struct {
	cfg    Config
	src    Source
	store  *candle.Store
	clock  Clock
	logger *slog.Logger
	events chan domain.BarEvent

	onError ErrorHandler

	closeOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller writing into store. A nil clock means wall time.
func NewPoller(cfg Config, src Source, store *candle.Store, clock Clock, logger *slog.Logger) *Poller {
	cfg.applyDefaults()
	if clock == nil {
		clock = RealClock{}
	}
	return &Poller{
		cfg:    cfg,
		src:    src,
		store:  store,
		clock:  clock,
		logger: logger.With(slog.String("component", "poller"), slog.String("symbol", cfg.Symbol)),
		events: make(chan domain.BarEvent, cfg.EventBuffer),
	}
}

// SetErrorHandler installs a hook for recoverable cycle errors. Must be
// called before Run.
func (p *Poller) SetErrorHandler(h ErrorHandler) {
	p.onError = h
}

// Events returns the completed-bar stream. It is closed when Run returns.
func (p *Poller) Events() <-chan domain.BarEvent {
	return p.events
}

// Close closes Events for a poller that will never run, e.g. after a failed
// backfill, so consumers waiting for the end of the stream return. It is a
// no-op once Run has closed the stream.
func (p *Poller) Close() {
	p.closeOnce.Do(func() { close(p.events) })
}

// Backfill loads the historical backlog and pages forward until the fetched
// tail matches the live tail, then seeds the store.
func (p *Poller) Backfill(ctx context.Context) error {
	ticks, err := p.fetchRecent(ctx, nil)
	if err != nil {
		return fmt.Errorf("feed: backfill: %w", err)
	}
	if len(ticks) == 0 {
		return fmt.Errorf("feed: backfill: empty backlog: %w", domain.ErrFeedGap)
	}

	for attempt := 0; ; attempt++ {
		latest, err := p.fetchLatest(ctx)
		if err != nil {
			return fmt.Errorf("feed: backfill: live tail: %w", err)
		}
		if len(latest) == 0 {
			return fmt.Errorf("feed: backfill: live tail: %w", domain.ErrEmptyPoll)
		}
		live := latest[len(latest)-1]
		tail := ticks[len(ticks)-1]

		if !tail.OpenTime.Before(live.OpenTime) {
			if tail.OpenTime.Equal(live.OpenTime) {
				ticks[len(ticks)-1] = live
			}
			break
		}
		if attempt >= p.cfg.MaxBackfillAttempts {
			return fmt.Errorf("feed: backfill: tail %s never reached live %s after %d attempts: %w",
				tail.OpenTime, live.OpenTime, attempt, domain.ErrFeedGap)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.BackfillPause):
		}

		since := tail.OpenTime
		more, err := p.fetchRecent(ctx, &since)
		if err != nil {
			return fmt.Errorf("feed: backfill: page %d: %w", attempt+1, err)
		}
		for _, t := range more {
			if t.OpenTime.After(ticks[len(ticks)-1].OpenTime) {
				ticks = append(ticks, t)
			}
		}
	}

	if err := p.store.Seed(ticks); err != nil {
		return fmt.Errorf("feed: backfill: %w", err)
	}
	p.logger.Info("backfill complete",
		slog.Int("bars", len(ticks)),
		slog.Time("last_open", ticks[len(ticks)-1].OpenTime),
	)
	return nil
}

// PollOnce fetches the latest bars, applies them to the store and returns
// the completed-bar events they produced.
func (p *Poller) PollOnce(ctx context.Context) ([]domain.BarEvent, error) {
	rows, err := p.fetchLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: poll: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("feed: poll: %w", domain.ErrEmptyPoll)
	}

	var events []domain.BarEvent
	apply := func(t domain.Tick) error {
		bar, ok, err := p.store.Upsert(t)
		if err != nil {
			return err
		}
		if ok {
			events = append(events, domain.BarEvent{
				Symbol:   p.cfg.Symbol,
				Interval: p.cfg.Interval,
				Bar:      bar,
				History:  p.store.Completed(),
			})
		}
		return nil
	}

	last, hasLast := p.store.Last()
	for _, t := range rows[:len(rows)-1] {
		if hasLast && t.OpenTime.Before(last.OpenTime) {
			continue
		}
		if err := apply(t); err != nil {
			return events, fmt.Errorf("feed: poll: %w", err)
		}
	}
	if err := apply(rows[len(rows)-1]); err != nil {
		return events, fmt.Errorf("feed: poll: %w", err)
	}
	return events, nil
}

// Run polls at the configured cadence until ctx is cancelled. A cycle that
// has started always finishes. Events is closed on return.
func (p *Poller) Run(ctx context.Context) error {
	defer p.Close()
	p.logger.Info("poller started", slog.Duration("interval", p.cfg.PollInterval))
	defer p.logger.Info("poller stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		p.cycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-p.clock.After(p.cfg.PollInterval):
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.FetchTimeout)
	defer cancel()

	events, err := p.PollOnce(cycleCtx)
	for _, ev := range events {
		metrics.BarsCompleted.WithLabelValues(p.cfg.Symbol).Inc()
		select {
		case p.events <- ev:
			continue
		default:
		}
		select {
		case p.events <- ev:
		case <-cycleCtx.Done():
			p.logger.Warn("dropping completed bar, consumer stalled", slog.Time("open_time", ev.Bar.OpenTime))
		}
	}

	switch {
	case err == nil:
		metrics.PollsTotal.WithLabelValues(p.cfg.Symbol, "ok").Inc()
		return
	case errors.Is(err, domain.ErrEmptyPoll):
		metrics.PollsTotal.WithLabelValues(p.cfg.Symbol, "empty").Inc()
		p.logger.Warn("empty poll, skipping cycle")
	case errors.Is(err, domain.ErrNonMonotonicBar):
		metrics.PollsTotal.WithLabelValues(p.cfg.Symbol, "non_monotonic").Inc()
		p.logger.Error("feed regression", slog.String("error", err.Error()))
	default:
		metrics.PollsTotal.WithLabelValues(p.cfg.Symbol, "error").Inc()
		p.logger.Warn("poll failed", slog.String("error", err.Error()))
	}
	if p.onError != nil {
		p.onError(cycleCtx, err)
	}
}

// Start runs the poller in the background.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		_ = p.Run(ctx)
	}()
}

// Stop asks the poller to halt and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) fetchRecent(ctx context.Context, since *time.Time) ([]domain.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.src.FetchRecent(ctx, p.cfg.Symbol, p.cfg.Interval, since, p.cfg.BacklogSize)
}

func (p *Poller) fetchLatest(ctx context.Context) ([]domain.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return p.src.FetchLatest(ctx, p.cfg.Symbol, p.cfg.Interval)
}
