package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// PriceSource reports the most recent bar seen by the feed.
type PriceSource interface {
	Last() (domain.Bar, bool)
}

// PaperBroker fills market orders at the last observed close without
// touching an exchange.
type PaperBroker struct {
	prices PriceSource
	feeBps float64
	now    func() time.Time

	mu     sync.Mutex
	orders int
	failAt map[int]error
}

// NewPaperBroker creates a broker charging feeBps basis points of the quote
// cost, in the quote currency.
func NewPaperBroker(prices PriceSource, feeBps float64) *PaperBroker {
	return &PaperBroker{prices: prices, feeBps: feeBps, now: time.Now}
}

// FailNext makes the n-th order from now (1-based) fail with err.
func (b *PaperBroker) FailNext(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAt == nil {
		b.failAt = make(map[int]error)
	}
	b.failAt[b.orders+n] = err
}

// PlaceMarketOrder fills the whole order at the last close.
func (b *PaperBroker) PlaceMarketOrder(_ context.Context, symbol string, side domain.OrderSide, units float64) (domain.Fill, error) {
	intent := domain.OrderIntent{Side: side, SizeUnits: units}

	b.mu.Lock()
	b.orders++
	injected := b.failAt[b.orders]
	delete(b.failAt, b.orders)
	b.mu.Unlock()

	if injected != nil {
		return domain.Fill{}, fmt.Errorf("paper: %w", &domain.ExecutionError{Intent: intent, Err: injected})
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return domain.Fill{}, fmt.Errorf("paper: %w", &domain.ExecutionError{Intent: intent, Err: fmt.Errorf("unknown side %q", side)})
	}
	bar, ok := b.prices.Last()
	if !ok || bar.Close <= 0 {
		return domain.Fill{}, fmt.Errorf("paper: %w", &domain.ExecutionError{Intent: intent, Err: errors.New("no price observed yet")})
	}

	cost := units * bar.Close
	return domain.Fill{
		OrderID:     "paper-" + uuid.NewString(),
		Timestamp:   b.now().UTC(),
		Side:        side,
		FilledUnits: units,
		CostQuote:   cost,
		AvgPrice:    bar.Close,
		FeeCurrency: quoteAsset(symbol),
		FeeAmount:   cost * b.feeBps / 10_000,
	}, nil
}

func quoteAsset(symbol string) string {
	if _, quote, ok := strings.Cut(symbol, "/"); ok {
		return quote
	}
	return ""
}
