package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BarHistoryStore journals completed bars. It is written to, never used to
// restore the in-memory series.
type BarHistoryStore interface {
	AppendBars(ctx context.Context, symbol, interval string, bars []Bar) error
	ListBars(ctx context.Context, symbol, interval string, opts ListOpts) ([]Bar, error)
}

// FillStore journals trade reports.
type FillStore interface {
	Insert(ctx context.Context, report TradeReport) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]TradeReport, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
