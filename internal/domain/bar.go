package domain

import "time"

// Tick is a raw OHLCV row for the currently forming bar as reported by the
// market-data source.
type Tick struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Bar is a single candle in the stored series. Only the most recent bar of a
// series may have Complete set to false.
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Complete bool      `json:"complete"`
}

// BarFromTick builds an open (incomplete) bar from a tick.
func BarFromTick(t Tick) Bar {
	return Bar{
		OpenTime: t.OpenTime,
		Open:     t.Open,
		High:     t.High,
		Low:      t.Low,
		Close:    t.Close,
		Volume:   t.Volume,
	}
}

// BarEvent is published once per completed bar. History is an immutable copy
// of every completed bar held at the time of completion, ending with Bar.
type BarEvent struct {
	Symbol   string
	Interval string
	Bar      Bar
	History  []Bar
}
