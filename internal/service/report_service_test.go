package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

type fakeBars struct {
	appended []domain.Bar
	err      error
}

func (f *fakeBars) AppendBars(_ context.Context, _, _ string, bars []domain.Bar) error {
	f.appended = append(f.appended, bars...)
	return f.err
}

func (f *fakeBars) ListBars(context.Context, string, string, domain.ListOpts) ([]domain.Bar, error) {
	return f.appended, nil
}

type fakeFills struct{ inserted []domain.TradeReport }

func (f *fakeFills) Insert(_ context.Context, r domain.TradeReport) error {
	f.inserted = append(f.inserted, r)
	return nil
}

func (f *fakeFills) ListRecent(context.Context, string, int) ([]domain.TradeReport, error) {
	return f.inserted, nil
}

type fakeAudit struct {
	events  []string
	details []map[string]any
}

func (f *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeHub struct{ channels []string }

func (h *fakeHub) Publish(channel string, _ []byte) { h.channels = append(h.channels, channel) }

type fakeNotifier struct {
	events []string
	titles []string
	err    error
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.events = append(n.events, event)
	n.titles = append(n.titles, title)
	return n.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var barTime = time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC)

func sampleReport(id string) domain.TradeReport {
	return domain.TradeReport{
		ID:               id,
		Symbol:           "BTC/USDT",
		OrderID:          "o-" + id,
		Timestamp:        barTime.Add(time.Second),
		BarTime:          barTime,
		Action:           domain.ActionGoingLong,
		Side:             domain.OrderSideBuy,
		FilledUnits:      0.01,
		CostQuote:        420.5,
		AvgPrice:         42050,
		TradeCount:       1,
		CumulativeProfit: 0,
	}
}

func TestHandleBarJournalsAndPublishes(t *testing.T) {
	bars := &fakeBars{}
	bus := newFakeBus()
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{Bars: bars, Bus: bus, Logger: testLogger()})

	bar := domain.Bar{OpenTime: barTime, Close: 1.5, Volume: 3, Complete: true}
	err := svc.HandleBar(context.Background(), domain.BarEvent{
		Symbol: "BTC/USDT", Interval: "1m", Bar: bar, History: []domain.Bar{bar},
	})
	if err != nil {
		t.Fatalf("HandleBar: %v", err)
	}
	if len(bars.appended) != 1 || !bars.appended[0].OpenTime.Equal(barTime) {
		t.Fatalf("appended = %+v", bars.appended)
	}

	msgs := bus.published[ChannelBar]
	if len(msgs) != 1 {
		t.Fatalf("bar messages = %d, want 1", len(msgs))
	}
	var env struct {
		Type   string `json:"type"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "bar" || env.Symbol != "BTC/USDT" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestHandleBarJoinsSinkErrors(t *testing.T) {
	bars := &fakeBars{err: errors.New("db down")}
	bus := newFakeBus()
	bus.err = errors.New("redis down")
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{Bars: bars, Bus: bus, Logger: testLogger()})

	err := svc.HandleBar(context.Background(), domain.BarEvent{Bar: domain.Bar{OpenTime: barTime}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "db down") || !strings.Contains(err.Error(), "redis down") {
		t.Fatalf("err = %v, want both causes", err)
	}
}

func TestHandleReportFansOut(t *testing.T) {
	fills := &fakeFills{}
	audit := &fakeAudit{}
	bus := newFakeBus()
	notifier := &fakeNotifier{}
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{
		Fills: fills, Audit: audit, Bus: bus, Notifier: notifier, Logger: testLogger(),
	})

	if err := svc.HandleReport(context.Background(), sampleReport("r1")); err != nil {
		t.Fatalf("HandleReport: %v", err)
	}

	if len(fills.inserted) != 1 || fills.inserted[0].ID != "r1" {
		t.Fatalf("fills = %+v", fills.inserted)
	}
	if len(bus.published[ChannelReport]) != 1 {
		t.Fatalf("report channel messages = %d", len(bus.published[ChannelReport]))
	}
	if len(bus.streamed[StreamReports]) != 1 {
		t.Fatalf("stream entries = %d", len(bus.streamed[StreamReports]))
	}
	var streamed domain.TradeReport
	if err := json.Unmarshal(bus.streamed[StreamReports][0], &streamed); err != nil {
		t.Fatalf("unmarshal stream entry: %v", err)
	}
	if streamed.OrderID != "o-r1" {
		t.Fatalf("streamed order id = %q", streamed.OrderID)
	}
	if len(audit.events) != 1 || audit.events[0] != "trade" || audit.details[0]["interval"] != "1m" {
		t.Fatalf("audit = %v %v", audit.events, audit.details)
	}
	if len(notifier.events) != 1 || notifier.events[0] != EventTrade || notifier.titles[0] != "BTC/USDT GOING LONG" {
		t.Fatalf("notifications = %v %v", notifier.events, notifier.titles)
	}
}

func TestHandleReportWithoutSinks(t *testing.T) {
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{Logger: testLogger()})
	if err := svc.HandleReport(context.Background(), sampleReport("r1")); err != nil {
		t.Fatalf("HandleReport: %v", err)
	}
	if got := svc.Recent(0); len(got) != 1 {
		t.Fatalf("recent = %d, want 1", len(got))
	}
}

func TestRecentKeepsNewestInOrder(t *testing.T) {
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{Logger: testLogger()})
	ctx := context.Background()
	for i := 0; i < recentLimit+5; i++ {
		r := sampleReport(string(rune('a' + i%26)))
		r.TradeCount = i + 1
		_ = svc.HandleReport(ctx, r)
	}

	all := svc.Recent(0)
	if len(all) != recentLimit {
		t.Fatalf("recent = %d, want %d", len(all), recentLimit)
	}
	if all[0].TradeCount != 6 || all[len(all)-1].TradeCount != recentLimit+5 {
		t.Fatalf("window = [%d..%d]", all[0].TradeCount, all[len(all)-1].TradeCount)
	}

	last := svc.Recent(2)
	if len(last) != 2 || last[1].TradeCount != recentLimit+5 {
		t.Fatalf("Recent(2) = %+v", last)
	}
}

func TestHandleSignalTracksLast(t *testing.T) {
	hub := &fakeHub{}
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{Hub: hub, Logger: testLogger()})

	if _, ok := svc.LastSignal(); ok {
		t.Fatal("expected no signal yet")
	}
	sig := domain.Signal{Target: domain.PositionShort, BarTime: barTime, Return: 0.01, VolumeOK: true}
	if err := svc.HandleSignal(context.Background(), sig); err != nil {
		t.Fatalf("HandleSignal: %v", err)
	}
	got, ok := svc.LastSignal()
	if !ok || got.Target != domain.PositionShort {
		t.Fatalf("last signal = %+v, %v", got, ok)
	}
	if len(hub.channels) != 1 || hub.channels[0] != ChannelSignal {
		t.Fatalf("hub channels = %v", hub.channels)
	}
}

func TestHandleFailureNotifiesAndAudits(t *testing.T) {
	audit := &fakeAudit{}
	hub := &fakeHub{}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	svc := NewReportService("BTC/USDT", "1m", ReportDeps{
		Audit: audit, Hub: hub, Notifier: notifier, Logger: testLogger(),
	})

	err := svc.HandleFailure(context.Background(), EventExecutionFailed, errors.New("order rejected"))
	if err == nil || !strings.Contains(err.Error(), "telegram down") {
		t.Fatalf("err = %v, want notifier failure", err)
	}
	if len(audit.events) != 1 || audit.events[0] != EventExecutionFailed {
		t.Fatalf("audit = %v", audit.events)
	}
	if audit.details[0]["error"] != "order rejected" {
		t.Fatalf("audit detail = %v", audit.details[0])
	}
	if len(hub.channels) != 1 || hub.channels[0] != ChannelStatus {
		t.Fatalf("hub channels = %v", hub.channels)
	}
	if notifier.events[0] != EventExecutionFailed {
		t.Fatalf("notified %v", notifier.events)
	}
}
