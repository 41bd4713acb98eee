package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/alanyoungcy/spotbot/internal/candle"
	"github.com/alanyoungcy/spotbot/internal/config"
	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/executor"
	"github.com/alanyoungcy/spotbot/internal/position"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func tk(min int, close float64) domain.Tick {
	return domain.Tick{
		OpenTime: t0.Add(time.Duration(min) * time.Minute),
		Open:     close, High: close, Low: close, Close: close,
		Volume: 5,
	}
}

// scriptedSource serves a fixed backlog and one FetchLatest reply per call.
type scriptedSource struct {
	mu      sync.Mutex
	backlog []domain.Tick
	latest  [][]domain.Tick
}

func (s *scriptedSource) FetchRecent(_ context.Context, _, _ string, since *time.Time, _ int) ([]domain.Tick, error) {
	if since != nil {
		return nil, nil
	}
	return s.backlog, nil
}

func (s *scriptedSource) FetchLatest(_ context.Context, _, _ string) ([]domain.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latest) == 0 {
		return nil, nil
	}
	reply := s.latest[0]
	s.latest = s.latest[1:]
	return reply, nil
}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Enabled = false
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func risingSource() *scriptedSource {
	return &scriptedSource{
		backlog: []domain.Tick{tk(0, 100), tk(1, 100), tk(2, 101)},
		latest: [][]domain.Tick{
			{tk(1, 100), tk(2, 101)},
			{tk(2, 101), tk(3, 101)},
		},
	}
}

func firstEvent(t *testing.T, ctx context.Context, p *pipeline) domain.BarEvent {
	t.Helper()
	if err := p.poller.Backfill(ctx); err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	events, err := p.poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	return events[0]
}

func TestPaperPipelineGoesShortOnRise(t *testing.T) {
	a := testApp(t)
	paper := func(store *candle.Store) position.OrderPlacer {
		return executor.NewPaperBroker(store, a.cfg.Paper.FeeBps)
	}
	p, err := a.buildPipeline(&Dependencies{}, risingSource(), paper, t0)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	ctx := context.Background()

	ev := firstEvent(t, ctx, p)
	sig, ok := p.executor.Apply(ctx, ev)
	if !ok {
		t.Fatal("Apply returned no signal")
	}
	if sig.Target != domain.PositionShort {
		t.Fatalf("target = %s, want short", sig.Target)
	}

	st := p.executor.Status()
	if st.Position != "short" {
		t.Fatalf("position = %q, want short", st.Position)
	}
	if st.Ledger.TradeCount != 1 {
		t.Fatalf("trade count = %d, want 1", st.Ledger.TradeCount)
	}
	reports := p.reports.Recent(0)
	if len(reports) != 1 || reports[0].Action != domain.ActionGoingShort {
		t.Fatalf("reports = %+v", reports)
	}
}

func TestMonitorPipelinePlacesNoOrders(t *testing.T) {
	a := testApp(t)
	p, err := a.buildPipeline(&Dependencies{}, risingSource(), nil, t0)
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	ctx := context.Background()

	if _, ok := p.executor.Apply(ctx, firstEvent(t, ctx, p)); !ok {
		t.Fatal("Apply returned no signal")
	}
	st := p.executor.Status()
	if st.Position != "flat" || st.Ledger.TradeCount != 0 {
		t.Fatalf("status = %+v, want flat with no trades", st)
	}
	if last, ok := p.reports.LastSignal(); !ok || last.Target != domain.PositionShort {
		t.Fatalf("last signal = %+v, %v", last, ok)
	}
}

func TestRunPipelineStopsWhenBackfillFails(t *testing.T) {
	a := testApp(t)
	done := make(chan error, 1)
	go func() {
		done <- a.runPipeline(context.Background(), &Dependencies{}, &scriptedSource{}, nil)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrFeedGap) {
			t.Fatalf("err = %v, want ErrFeedGap", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runPipeline did not return after a failed backfill")
	}
}

func TestBuildPipelineUnknownStrategy(t *testing.T) {
	a := testApp(t)
	a.cfg.Strategy.Name = "momentum"
	if _, err := a.buildPipeline(&Dependencies{}, risingSource(), nil, t0); err == nil {
		t.Fatal("expected error for unregistered strategy")
	}
}

func TestLockKey(t *testing.T) {
	if got := lockKey("btc/usdt"); got != "BTCUSDT" {
		t.Fatalf("lockKey = %q", got)
	}
}

func TestWireWithoutBackends(t *testing.T) {
	cfg := config.Defaults()
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.BarStore != nil || deps.SignalBus != nil || deps.Archiver != nil {
		t.Fatalf("unexpected backends: %+v", deps)
	}
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		t.Fatal("expected discord notifier")
	}
	if len(deps.Pingers) != 0 {
		t.Fatalf("pingers = %v", deps.Pingers)
	}
}

func TestWireRedisLockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	deps, cleanup, err := Wire(ctx, &cfg)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.Pingers["redis"]; !ok {
		t.Fatal("redis pinger not registered")
	}

	release, err := deps.LockManager.Hold(ctx, lockKey(cfg.Symbol), cfg.Redis.LockTTL.Duration)
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	defer release()

	if !mr.Exists("spotbot:lock:BTCUSDT") {
		t.Fatalf("lock key missing, keys = %v", mr.Keys())
	}
	if _, err := deps.LockManager.Acquire(ctx, lockKey(cfg.Symbol), time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
}
