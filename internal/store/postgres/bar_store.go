package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// BarStore implements domain.BarHistoryStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore creates a new BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// AppendBars inserts completed bars. A bar already journaled for the same
// open time is overwritten with the new values.
func (s *BarStore) AppendBars(ctx context.Context, symbol, interval string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO bars (symbol, bar_interval, open_time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, bar_interval, open_time) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume, recorded_at = NOW()`

	for _, b := range bars {
		batch.Queue(query, symbol, interval, b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bars {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append bar %d (%s): %w", i, bars[i].OpenTime, err)
		}
	}
	return nil
}

// ListBars returns journaled bars, newest first.
func (s *BarStore) ListBars(ctx context.Context, symbol, interval string, opts domain.ListOpts) ([]domain.Bar, error) {
	query, args := listQuery(
		`SELECT open_time, open, high, low, close, volume FROM bars WHERE symbol = $1 AND bar_interval = $2`,
		"open_time", "DESC", []any{symbol, interval}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bars: %w", err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b := domain.Bar{Complete: true}
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bars rows: %w", err)
	}
	return bars, nil
}

var _ domain.BarHistoryStore = (*BarStore)(nil)
