package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const reportSelectCols = `id, symbol, order_id, ts, bar_time, action, side,
	filled_units, cost_quote, avg_price, fee_currency, fee_amount,
	trade_count, realized_profit, cumulative_profit`

// Insert journals one trade report. Re-inserting the same report id is a
// no-op.
func (s *FillStore) Insert(ctx context.Context, r domain.TradeReport) error {
	const query = `
		INSERT INTO trade_reports (` + reportSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	var barTime any
	if !r.BarTime.IsZero() {
		barTime = r.BarTime
	}
	_, err := s.pool.Exec(ctx, query,
		r.ID, r.Symbol, r.OrderID, r.Timestamp, barTime, string(r.Action), string(r.Side),
		r.FilledUnits, r.CostQuote, r.AvgPrice, r.FeeCurrency, r.FeeAmount,
		r.TradeCount, r.RealizedProfit, r.CumulativeProfit,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade report %s: %w", r.ID, err)
	}
	return nil
}

// ListRecent returns the latest reports for symbol, newest first.
func (s *FillStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.TradeReport, error) {
	query, args := listQuery(
		`SELECT `+reportSelectCols+` FROM trade_reports WHERE symbol = $1`,
		"ts", "DESC", []any{symbol}, domain.ListOpts{Limit: limit},
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.TradeReport
	for rows.Next() {
		var (
			r            domain.TradeReport
			action, side string
			barTime      *time.Time
		)
		if err := rows.Scan(
			&r.ID, &r.Symbol, &r.OrderID, &r.Timestamp, &barTime, &action, &side,
			&r.FilledUnits, &r.CostQuote, &r.AvgPrice, &r.FeeCurrency, &r.FeeAmount,
			&r.TradeCount, &r.RealizedProfit, &r.CumulativeProfit,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade report: %w", err)
		}
		r.Action = domain.Action(action)
		r.Side = domain.OrderSide(side)
		if barTime != nil {
			r.BarTime = *barTime
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trade reports rows: %w", err)
	}
	return reports, nil
}

var _ domain.FillStore = (*FillStore)(nil)
