package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// SupportedIntervals is the set of kline intervals the spot API accepts.
var SupportedIntervals = []string{
	"1s", "1m", "3m", "5m", "15m", "30m",
	"1h", "2h", "4h", "6h", "8h", "12h",
	"1d", "3d", "1w", "1M",
}

// IsSupportedInterval reports whether interval is a valid kline interval.
func IsSupportedInterval(interval string) bool {
	for _, s := range SupportedIntervals {
		if s == interval {
			return true
		}
	}
	return false
}

// MarketSymbol converts "BTC/USDT" to the exchange form "BTCUSDT".
func MarketSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// OrderFill is one partial fill in a FULL order response.
type OrderFill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// OrderResponse is the FULL response of POST /api/v3/order.
type OrderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             int64       `json:"orderId"`
	ClientOrderID       string      `json:"clientOrderId"`
	TransactTime        int64       `json:"transactTime"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
	Status              string      `json:"status"`
	Side                string      `json:"side"`
	Fills               []OrderFill `json:"fills"`
}

// APIError is the error body returned by the REST API.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Msg)
}

// parseKline decodes one kline row:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(row []json.RawMessage) (domain.Tick, error) {
	if len(row) < 6 {
		return domain.Tick{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return domain.Tick{}, fmt.Errorf("kline open time: %w", err)
	}
	vals := make([]float64, 5)
	for i := range vals {
		v, err := rawFloat(row[i+1])
		if err != nil {
			return domain.Tick{}, fmt.Errorf("kline field %d: %w", i+1, err)
		}
		vals[i] = v
	}
	return domain.Tick{
		OpenTime: time.UnixMilli(openMs).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// rawFloat accepts both quoted and bare JSON numbers.
func rawFloat(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// toFill converts a FILLED order response into a domain fill.
func (r OrderResponse) toFill() (domain.Fill, error) {
	filled, err := strconv.ParseFloat(r.ExecutedQty, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("executedQty %q: %w", r.ExecutedQty, err)
	}
	cost, err := strconv.ParseFloat(r.CummulativeQuoteQty, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("cummulativeQuoteQty %q: %w", r.CummulativeQuoteQty, err)
	}
	if filled <= 0 {
		return domain.Fill{}, fmt.Errorf("order %d filled nothing", r.OrderID)
	}

	f := domain.Fill{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Timestamp:   time.UnixMilli(r.TransactTime).UTC(),
		Side:        domain.OrderSide(r.Side),
		FilledUnits: filled,
		CostQuote:   cost,
		AvgPrice:    cost / filled,
	}
	for _, part := range r.Fills {
		c, err := strconv.ParseFloat(part.Commission, 64)
		if err != nil {
			continue
		}
		f.FeeAmount += c
		if f.FeeCurrency == "" {
			f.FeeCurrency = part.CommissionAsset
		}
	}
	return f, nil
}
