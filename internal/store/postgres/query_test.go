package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT x FROM bars WHERE symbol = $1", "open_time", "DESC",
		[]any{"BTC/USDT"}, domain.ListOpts{Since: &since, Limit: 10, Offset: 5})

	want := "SELECT x FROM bars WHERE symbol = $1 AND open_time >= $2 ORDER BY open_time DESC LIMIT $3 OFFSET $4"
	if q != want {
		t.Fatalf("query = %q\nwant    %q", q, want)
	}
	if !reflect.DeepEqual(args, []any{"BTC/USDT", since, 10, 5}) {
		t.Fatalf("args = %v", args)
	}
}

func TestListQueryNoOpts(t *testing.T) {
	q, args := listQuery("SELECT 1 FROM audit_log WHERE TRUE", "created_at", "DESC", nil, domain.ListOpts{})
	if q != "SELECT 1 FROM audit_log WHERE TRUE ORDER BY created_at DESC" || len(args) != 0 {
		t.Fatalf("query = %q args = %v", q, args)
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "spotbot", User: "bot", Password: "pw"})
	if got != "postgres://bot:pw@db:5432/spotbot?sslmode=disable" {
		t.Fatalf("DSN = %s", got)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("explicit DSN ignored: %s", got)
	}
}

func TestDSNEscapesCredentials(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Port: 6432, Database: "spotbot", User: "bot", Password: "p@ss/word", SSLMode: "require"})
	if got != "postgres://bot:p%40ss%2Fword@db:6432/spotbot?sslmode=require" {
		t.Fatalf("DSN = %s", got)
	}
	cfg, err := poolConfig(ClientConfig{Host: "db", Database: "spotbot", User: "bot", Password: "p@ss/word"})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if cfg.ConnConfig.Password != "p@ss/word" || cfg.ConnConfig.Host != "db" {
		t.Fatalf("parsed password=%q host=%q", cfg.ConnConfig.Password, cfg.ConnConfig.Host)
	}
}

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(ClientConfig{
		Host: "db", Database: "spotbot", User: "bot",
		MaxConns: 3, MinConns: 10, ConnectTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if cfg.MaxConns != 3 || cfg.MinConns != 3 {
		t.Fatalf("conns = %d/%d, want 3/3", cfg.MinConns, cfg.MaxConns)
	}
	if cfg.ConnConfig.ConnectTimeout != 2*time.Second {
		t.Fatalf("connect timeout = %v", cfg.ConnConfig.ConnectTimeout)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != ApplicationName {
		t.Fatalf("application_name = %q", got)
	}

	named, err := poolConfig(ClientConfig{DSN: "postgres://bot@db/spotbot?application_name=replay"})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}
	if got := named.ConnConfig.RuntimeParams["application_name"]; got != "replay" {
		t.Fatalf("explicit application_name overridden: %q", got)
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
}
