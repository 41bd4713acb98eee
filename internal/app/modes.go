package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spotbot/internal/candle"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/executor"
	"github.com/alanyoungcy/spotbot/internal/feed"
	"github.com/alanyoungcy/spotbot/internal/ledger"
	"github.com/alanyoungcy/spotbot/internal/metrics"
	"github.com/alanyoungcy/spotbot/internal/platform/binance"
	"github.com/alanyoungcy/spotbot/internal/position"
	"github.com/alanyoungcy/spotbot/internal/server"
	"github.com/alanyoungcy/spotbot/internal/server/handler"
	"github.com/alanyoungcy/spotbot/internal/server/ws"
	"github.com/alanyoungcy/spotbot/internal/service"
	"github.com/alanyoungcy/spotbot/internal/strategy"
)

// archiveTimeout bounds the final upload on shutdown.
const archiveTimeout = 30 * time.Second

// placerFactory builds the order venue once the candle store exists. A nil
// factory means no orders are placed.
type placerFactory func(store *candle.Store) position.OrderPlacer

// pipeline is everything one symbol needs: the poller owns the candle store
// and feeds the executor, which is the single writer of position and ledger.
type pipeline struct {
	store    *candle.Store
	poller   *feed.Poller
	reports  *service.ReportService
	executor *executor.Executor
	strat    strategy.Strategy
	hub      *ws.Hub
	trading  bool
}

// LiveMode trades on Binance with signed MARKET orders.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode", slog.Bool("sandbox", a.cfg.Exchange.Sandbox))

	secret, err := a.cfg.ExchangeSecret()
	if err != nil {
		return fmt.Errorf("live mode: %w", err)
	}
	client := a.newExchangeClient(secret, deps)
	return a.runPipeline(ctx, deps, client, func(*candle.Store) position.OrderPlacer { return client })
}

// PaperMode reads real market data and fills orders against the last
// observed close.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode", slog.Float64("fee_bps", a.cfg.Paper.FeeBps))

	client := a.newExchangeClient("", deps)
	return a.runPipeline(ctx, deps, client, func(store *candle.Store) position.OrderPlacer {
		return executor.NewPaperBroker(store, a.cfg.Paper.FeeBps)
	})
}

// MonitorMode runs the feed and computes signals without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	client := a.newExchangeClient("", deps)
	return a.runPipeline(ctx, deps, client, nil)
}

func (a *App) newExchangeClient(secret string, deps *Dependencies) *binance.Client {
	apiKey := ""
	if secret != "" {
		apiKey = a.cfg.Exchange.APIKey
	}
	client := binance.NewClient(binance.Config{
		BaseURL:    a.cfg.Exchange.BaseURL,
		Sandbox:    a.cfg.Exchange.Sandbox,
		APIKey:     apiKey,
		APISecret:  secret,
		RecvWindow: a.cfg.Exchange.RecvWindow.Duration,
		Timeout:    a.cfg.Exchange.Timeout.Duration,
	})
	if deps.RateLimiter != nil && a.cfg.Exchange.OrdersPerSecond > 0 {
		client.SetRateLimiter(deps.RateLimiter, a.cfg.Exchange.OrdersPerSecond)
	}
	return client
}

func (a *App) strategyParams() strategy.Params {
	cfg := a.cfg.Strategy
	return strategy.Params{
		ReturnLow:  cfg.ReturnThresholds[0],
		ReturnHigh: cfg.ReturnThresholds[1],
		VolumeLow:  cfg.VolumeThresholds[0],
		VolumeHigh: cfg.VolumeThresholds[1],
	}
}

// lockKey names the single-writer lock of a symbol, e.g. "BTCUSDT".
func lockKey(symbol string) string {
	return binance.MarketSymbol(symbol)
}

// buildPipeline constructs the feed, strategy, reporting and execution
// components for the configured symbol.
func (a *App) buildPipeline(deps *Dependencies, src feed.Source, newPlacer placerFactory, startedAt time.Time) (*pipeline, error) {
	cfg := a.cfg

	strat, err := strategy.NewRegistry().Build(cfg.Strategy.Name, a.strategyParams())
	if err != nil {
		return nil, fmt.Errorf("app: build strategy: %w", err)
	}

	p := &pipeline{
		store:   candle.NewStore(cfg.Feed.BacklogSize),
		strat:   strat,
		trading: newPlacer != nil,
	}

	if cfg.Server.Enabled {
		p.hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:         cfg.Mode,
			Symbol:       cfg.Symbol,
			StrategyName: strat.Name(),
			StartedAt:    startedAt,
			Status:       func() any { return p.executor.Status() },
		})
	}

	reportDeps := service.ReportDeps{
		Bars:   deps.BarStore,
		Fills:  deps.FillStore,
		Audit:  deps.AuditStore,
		Bus:    deps.SignalBus,
		Logger: a.logger,
	}
	if deps.Notifier != nil {
		reportDeps.Notifier = deps.Notifier
	}
	// With Redis the hub relays bus traffic; without it reports go straight
	// to the hub.
	if p.hub != nil && deps.SignalBus == nil {
		reportDeps.Hub = p.hub
	}
	p.reports = service.NewReportService(cfg.Symbol, cfg.Interval, reportDeps)

	p.poller = feed.NewPoller(feed.Config{
		Symbol:              cfg.Symbol,
		Interval:            cfg.Interval,
		BacklogSize:         cfg.Feed.BacklogSize,
		PollInterval:        cfg.Feed.PollInterval.Duration,
		BackfillPause:       cfg.Feed.BackfillPause.Duration,
		MaxBackfillAttempts: cfg.Feed.MaxBackfillAttempts,
		FetchTimeout:        cfg.Feed.FetchTimeout.Duration,
		EventBuffer:         cfg.Feed.EventBuffer,
	}, src, p.store, nil, a.logger)
	p.poller.SetErrorHandler(func(ctx context.Context, err error) {
		if !errors.Is(err, domain.ErrNonMonotonicBar) {
			return
		}
		if rerr := p.reports.HandleFailure(ctx, service.EventFeedError, err); rerr != nil {
			a.logger.WarnContext(ctx, "feed failure report failed", slog.String("error", rerr.Error()))
		}
	})

	l := ledger.New()
	var (
		ctrl     executor.Controller
		recorder *executor.Recorder
	)
	if p.trading {
		initial, err := domain.ParsePosition(cfg.Trading.InitialPosition)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		recorder = executor.NewRecorder(cfg.Symbol, l, p.reports, a.logger)
		c, err := position.NewController(position.Config{
			Symbol:    cfg.Symbol,
			Units:     cfg.Trading.Units,
			Initial:   initial,
			FlipPause: cfg.Trading.FlipPause.Duration,
		}, newPlacer(p.store), recorder, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		ctrl = c
		metrics.Position.WithLabelValues(cfg.Symbol).Set(float64(initial))
	}

	p.executor = executor.NewExecutor(cfg.Symbol, p.poller.Events(), strat, ctrl, recorder, l, p.reports, a.logger)
	return p, nil
}

// runPipeline holds the symbol lock for trading modes, then runs the
// poller, the executor, the optional HTTP server and the archive loop until
// ctx is cancelled. A final archive is written after everything stopped.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, src feed.Source, newPlacer placerFactory) error {
	startedAt := time.Now().UTC()

	p, err := a.buildPipeline(deps, src, newPlacer, startedAt)
	if err != nil {
		return err
	}

	if p.trading && deps.LockManager != nil {
		release, err := deps.LockManager.Hold(ctx, lockKey(a.cfg.Symbol), a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: single-writer lock for %s: %w", a.cfg.Symbol, err)
		}
		defer release()
		a.logger.InfoContext(ctx, "single-writer lock acquired", slog.String("symbol", a.cfg.Symbol))
	}

	a.logger.InfoContext(ctx, "pipeline ready", slog.String("executor", p.executor.String()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.poller.Backfill(gctx); err != nil {
			p.poller.Close()
			if rerr := p.reports.HandleFailure(gctx, service.EventFeedError, err); rerr != nil {
				a.logger.WarnContext(gctx, "feed failure report failed", slog.String("error", rerr.Error()))
			}
			return fmt.Errorf("app: backfill: %w", err)
		}
		return p.poller.Run(gctx)
	})

	g.Go(func() error {
		return p.executor.Run(gctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, p, startedAt)
	}

	if deps.Archiver != nil && a.cfg.Archive.Interval.Duration > 0 {
		g.Go(func() error {
			return a.archiveLoop(gctx, deps.Archiver, p)
		})
	}

	err = g.Wait()

	if deps.Archiver != nil {
		archCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		a.archive(archCtx, deps.Archiver, p)
		cancel()
	}
	return err
}

// startHTTPServer adds the inspection server and the WebSocket hub to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline, startedAt time.Time) {
	cfg := a.cfg

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:  handler.NewStatusHandler(cfg.Mode, cfg.Interval, p.strat.Name(), startedAt, p.executor),
		Bars:    handler.NewBarsHandler(cfg.Symbol, cfg.Interval, p.store, deps.BarStore, a.logger),
		Trades:  handler.NewTradesHandler(cfg.Symbol, deps.FillStore, p.reports, a.logger),
		Metrics: metrics.Handler(),
	}
	srv := server.NewServer(server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
	}, handlers, p.hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return p.hub.Run(ctx)
	})

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("url", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveLoop uploads a snapshot every archive.interval.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver, p *pipeline) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.archive(ctx, archiver, p)
		}
	}
}

func (a *App) archive(ctx context.Context, archiver domain.Archiver, p *pipeline) {
	paths, err := archiver.Archive(ctx, p.store.Snapshot(), p.reports.Recent(0))
	if err != nil {
		a.logger.ErrorContext(ctx, "archive failed",
			slog.Int("written", len(paths)),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(paths) > 0 {
		a.logger.InfoContext(ctx, "archive written", slog.Any("paths", paths))
	}
}
