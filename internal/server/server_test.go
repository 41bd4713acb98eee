package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
	"github.com/alanyoungcy/spotbot/internal/executor"
	"github.com/alanyoungcy/spotbot/internal/server/handler"
)

type fakeStatus struct{}

func (fakeStatus) Status() executor.Status {
	return executor.Status{Symbol: "BTCUSDT", Position: "long", BarsApplied: 3}
}

type fakeBars struct{ bars []domain.Bar }

func (f fakeBars) Snapshot() []domain.Bar { return f.bars }

type fakeRecent struct{ reports []domain.TradeReport }

func (f fakeRecent) Recent(limit int) []domain.TradeReport {
	src := f.reports
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]domain.TradeReport, len(src))
	copy(out, src)
	return out
}

type fakeFills struct {
	gotLimit int
	err      error
}

func (f *fakeFills) Insert(context.Context, domain.TradeReport) error { return nil }

func (f *fakeFills) ListRecent(_ context.Context, _ string, limit int) ([]domain.TradeReport, error) {
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.TradeReport{{ID: "db-1"}}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, cfg Config, fills domain.FillStore, pingErr error) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{OpenTime: t0, Close: 1, Complete: true},
		{OpenTime: t0.Add(time.Minute), Close: 2, Complete: true},
		{OpenTime: t0.Add(2 * time.Minute), Close: 3},
	}
	recent := fakeRecent{reports: []domain.TradeReport{{ID: "r1"}, {ID: "r2"}}}

	h := Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Pinger{"postgres": fakePinger{err: pingErr}, "redis": nil}, logger),
		Status:  handler.NewStatusHandler("paper", "1m", "contrarian", time.Now(), fakeStatus{}),
		Bars:    handler.NewBarsHandler("BTCUSDT", "1m", fakeBars{bars: bars}, nil, logger),
		Trades:  handler.NewTradesHandler("BTCUSDT", fills, recent, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("# metrics")) }),
	}
	return NewServer(cfg, h, nil, nil, logger)
}

func do(t *testing.T, s *Server, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)
	rec := do(t, s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Mode     string          `json:"mode"`
		Executor executor.Status `json:"executor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mode != "paper" || body.Executor.Position != "long" || body.Executor.BarsApplied != 3 {
		t.Fatalf("body = %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
}

func TestBarsEndpointLimit(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)

	rec := do(t, s, http.MethodGet, "/api/bars?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Source string       `json:"source"`
		Bars   []domain.Bar `json:"bars"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Source != "live" || len(body.Bars) != 2 || body.Bars[1].Close != 3 {
		t.Fatalf("body = %+v", body)
	}

	if rec := do(t, s, http.MethodGet, "/api/bars?limit=abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, "/api/bars?source=history", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("history without store status = %d", rec.Code)
	}
}

func TestTradesEndpoint(t *testing.T) {
	t.Run("memory newest first", func(t *testing.T) {
		s := newTestServer(t, Config{}, nil, nil)
		rec := do(t, s, http.MethodGet, "/api/trades", nil)
		var body struct {
			Trades []domain.TradeReport `json:"trades"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Trades) != 2 || body.Trades[0].ID != "r2" {
			t.Fatalf("trades = %+v", body.Trades)
		}
	})

	t.Run("journal", func(t *testing.T) {
		fills := &fakeFills{}
		s := newTestServer(t, Config{}, fills, nil)
		rec := do(t, s, http.MethodGet, "/api/trades?limit=5000", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if fills.gotLimit != 1000 {
			t.Fatalf("limit = %d, want capped 1000", fills.gotLimit)
		}
	})

	t.Run("journal error", func(t *testing.T) {
		s := newTestServer(t, Config{}, &fakeFills{err: errors.New("down")}, nil)
		if rec := do(t, s, http.MethodGet, "/api/trades", nil); rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestHealthDegraded(t *testing.T) {
	s := newTestServer(t, Config{}, nil, errors.New("connection refused"))
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, Config{APIKey: "secret"}, nil, nil)

	tests := []struct {
		name   string
		target string
		hdr    map[string]string
		want   int
	}{
		{"health is public", "/api/health", nil, http.StatusOK},
		{"metrics is public", "/metrics", nil, http.StatusOK},
		{"missing token", "/api/status", nil, http.StatusUnauthorized},
		{"wrong token", "/api/status", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"bearer", "/api/status", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"api key header", "/api/status", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"query token", "/api/status?token=secret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodGet, tt.target, tt.hdr); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	rec := do(t, s, http.MethodOptions, "/api/status", map[string]string{"Origin": "https://dash.example"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Fatalf("allow origin = %q", got)
	}

	rec = do(t, s, http.MethodGet, "/api/status", map[string]string{"Origin": "https://evil.example"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("allow origin for foreign site = %q", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)
	if rec := do(t, s, http.MethodPost, "/api/status", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
