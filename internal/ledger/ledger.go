// Package ledger pairs fills into round trips and tracks realized profit.
package ledger

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// profitPlaces is the precision realized and cumulative profit are reported
// with.
const profitPlaces = 3

// Entry is the ledger state right after one fill was recorded.
type Entry struct {
	TradeCount       int
	Flow             float64
	RealizedProfit   float64
	CumulativeProfit float64
}

// Summary is a point-in-time view of the ledger.
type Summary struct {
	TradeCount       int       `json:"trade_count"`
	Flows            []float64 `json:"flows"`
	CumulativeProfit float64   `json:"cumulative_profit"`
	OpenLeg          bool      `json:"open_leg"`
}

// Ledger records signed quote flows. Buys are outflows and sells inflows.
// Trades are assumed to arrive as open/close pairs of equal size, so profit
// is only realized on even trade counts.
type Ledger struct {
	mu         sync.RWMutex
	flows      []decimal.Decimal
	cumulative decimal.Decimal
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Record appends the fill's flow and returns the resulting profit figures.
func (l *Ledger) Record(fill domain.Fill) (Entry, error) {
	cost := decimal.NewFromFloat(fill.CostQuote)
	var flow decimal.Decimal
	switch fill.Side {
	case domain.OrderSideBuy:
		flow = cost.Neg()
	case domain.OrderSideSell:
		flow = cost
	default:
		return Entry{}, fmt.Errorf("ledger: record: unknown side %q", fill.Side)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.flows = append(l.flows, flow)
	n := len(l.flows)

	realized := decimal.Zero
	if n%2 == 0 {
		realized = l.flows[n-2].Add(l.flows[n-1])
		l.cumulative = sum(l.flows)
	} else {
		l.cumulative = sum(l.flows[:n-1])
	}

	r, _ := realized.Round(profitPlaces).Float64()
	c, _ := l.cumulative.Round(profitPlaces).Float64()
	f, _ := flow.Float64()
	return Entry{
		TradeCount:       n,
		Flow:             f,
		RealizedProfit:   r,
		CumulativeProfit: c,
	}, nil
}

// Snapshot returns the current state of the ledger.
func (l *Ledger) Snapshot() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	flows := make([]float64, len(l.flows))
	for i, f := range l.flows {
		flows[i], _ = f.Float64()
	}
	c, _ := l.cumulative.Round(profitPlaces).Float64()
	return Summary{
		TradeCount:       len(l.flows),
		Flows:            flows,
		CumulativeProfit: c,
		OpenLeg:          len(l.flows)%2 == 1,
	}
}

func sum(ds []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
