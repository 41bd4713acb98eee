package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Action is the label attached to a fill in the trade report.
type Action string

const (
	ActionGoingLong    Action = "GOING LONG"
	ActionGoingShort   Action = "GOING SHORT"
	ActionGoingNeutral Action = "GOING NEUTRAL"
)

// OrderIntent is a single market order the position controller wants placed.
type OrderIntent struct {
	Side      OrderSide `json:"side"`
	SizeUnits float64   `json:"size_units"`
	Action    Action    `json:"action"`
}

// Fill is what the execution venue reports back after an intent was placed.
type Fill struct {
	OrderID     string    `json:"order_id"`
	Timestamp   time.Time `json:"timestamp"`
	Side        OrderSide `json:"side"`
	FilledUnits float64   `json:"filled_units"`
	CostQuote   float64   `json:"cost_quote"`
	AvgPrice    float64   `json:"avg_price"`
	FeeCurrency string    `json:"fee_currency"`
	FeeAmount   float64   `json:"fee_amount"`
}

// TradeReport is emitted once per fill after the ledger has recorded it.
type TradeReport struct {
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	OrderID          string    `json:"order_id"`
	Timestamp        time.Time `json:"timestamp"`
	BarTime          time.Time `json:"bar_time"`
	Action           Action    `json:"action"`
	Side             OrderSide `json:"side"`
	FilledUnits      float64   `json:"filled_units"`
	CostQuote        float64   `json:"cost_quote"`
	AvgPrice         float64   `json:"avg_price"`
	FeeCurrency      string    `json:"fee_currency"`
	FeeAmount        float64   `json:"fee_amount"`
	TradeCount       int       `json:"trade_count"`
	RealizedProfit   float64   `json:"realized_profit"`
	CumulativeProfit float64   `json:"cumulative_profit"`
}
