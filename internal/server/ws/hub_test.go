package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]chan []byte)}
}

func (b *fakeBus) channel(name string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.subs[name]
	if !ok {
		ch = make(chan []byte, 8)
		b.subs[name] = ch
	}
	return ch
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.channel(channel) <- payload
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.channel(channel), nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, bus domain.SignalBus) (*Hub, *websocket.Conn) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{
		Mode:         "Paper",
		Symbol:       "BTCUSDT",
		StrategyName: "contrarian",
		Status:       func() any { return map[string]string{"position": "flat"} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.clientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestHubSendsInitialStatus(t *testing.T) {
	_, conn := startHub(t, nil)

	msg := readJSON(t, conn)
	if msg["type"] != "bot_status" {
		t.Fatalf("type = %v", msg["type"])
	}
	payload := msg["payload"].(map[string]any)
	if payload["mode"] != "paper" || payload["symbol"] != "BTCUSDT" {
		t.Fatalf("payload = %v", payload)
	}
	if status, ok := payload["status"].(map[string]any); !ok || status["position"] != "flat" {
		t.Fatalf("status = %v", payload["status"])
	}
}

func TestHubPublishRoutesBySubscription(t *testing.T) {
	hub, conn := startHub(t, nil)
	readJSON(t, conn)

	hub.Publish("ch:signal", []byte(`{"type":"signal"}`))
	if msg := readJSON(t, conn); msg["type"] != "signal" {
		t.Fatalf("type = %v", msg["type"])
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:bar"}}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	// Let the read pump apply the unsubscribe.
	time.Sleep(50 * time.Millisecond)

	hub.Publish("ch:bar", []byte(`{"type":"bar"}`))
	hub.Publish("ch:report", []byte(`{"type":"trade_report"}`))
	if msg := readJSON(t, conn); msg["type"] != "trade_report" {
		t.Fatalf("type = %v, want trade_report", msg["type"])
	}
}

func TestHubForwardsBusMessages(t *testing.T) {
	bus := newFakeBus()
	_, conn := startHub(t, bus)
	readJSON(t, conn)

	data, _ := json.Marshal(map[string]string{"type": "execution_failed"})
	if err := bus.Publish(context.Background(), "ch:status", data); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msg := readJSON(t, conn); msg["type"] != "execution_failed" {
		t.Fatalf("type = %v", msg["type"])
	}
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	if !c.isSubscribed("ch:report") {
		t.Fatal("wildcard did not match")
	}
	c = &client{subs: map[string]bool{"ch:bar": true}}
	if c.isSubscribed("ch:signal") {
		t.Fatal("exact subscription matched another channel")
	}
}
