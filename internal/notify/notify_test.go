package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.calls = append(r.calls, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"trade", " execution_failed "}, testLogger())
	ctx := context.Background()

	for _, ev := range []string{"trade", "feed_error", "execution_failed"} {
		if err := n.Notify(ctx, ev, ev, "msg"); err != nil {
			t.Fatalf("Notify(%s): %v", ev, err)
		}
	}
	if len(s.calls) != 2 || s.calls[0] != "trade" || s.calls[1] != "execution_failed" {
		t.Fatalf("calls = %v", s.calls)
	}

	if err := n.NotifyAll(ctx, "all", "msg"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if len(s.calls) != 3 {
		t.Fatalf("NotifyAll did not bypass filter: %v", s.calls)
	}
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.calls) != 1 {
		t.Fatalf("calls = %v", s.calls)
	}
}

func TestNotifierContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.Notify(context.Background(), "trade", "t", "m")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(good.calls) != 1 {
		t.Fatal("second sender not called after first failed")
	}
}

func TestTelegramSender(t *testing.T) {
	var gotPath string
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	if err := s.Send(context.Background(), "BTCUSDT GOING LONG", "filled"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/botTOKEN/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if got["chat_id"] != "42" || got["text"] != "*BTCUSDT GOING LONG*\nfilled" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.HasPrefix(err.Error(), "discord:") {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscordSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["content"] != "**t**\nm" {
		t.Fatalf("content = %q", got["content"])
	}
}
