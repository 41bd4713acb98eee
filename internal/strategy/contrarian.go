package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

// volumeOutlier is the absolute log volume change above which the change is
// treated as missing.
const volumeOutlier = 3.0

// Validate rejects threshold pairs whose order is reversed.
func (p Params) Validate() error {
	var errs []error
	if p.ReturnLow > p.ReturnHigh {
		errs = append(errs, fmt.Errorf("return thresholds: low %g > high %g", p.ReturnLow, p.ReturnHigh))
	}
	if p.VolumeLow > p.VolumeHigh {
		errs = append(errs, fmt.Errorf("volume thresholds: low %g > high %g", p.VolumeLow, p.VolumeHigh))
	}
	for _, v := range []float64{p.ReturnLow, p.ReturnHigh, p.VolumeLow, p.VolumeHigh} {
		if math.IsNaN(v) {
			errs = append(errs, errors.New("thresholds must not be NaN"))
			break
		}
	}
	return errors.Join(errs...)
}

// Contrarian goes long after a sufficiently negative log return and short
// after a sufficiently positive one, provided the log volume change lies
// inside the configured band.
type Contrarian struct {
	params Params
}

// NewContrarian validates p and returns the strategy.
func NewContrarian(p Params) (*Contrarian, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: contrarian: %w", err)
	}
	return &Contrarian{params: p}, nil
}

// Name returns the strategy identifier.
func (c *Contrarian) Name() string { return "contrarian" }

// Params returns the thresholds in use.
func (c *Contrarian) Params() Params { return c.params }

// Compute returns the signal for the last bar of history. Bars that are not
// complete are ignored.
func (c *Contrarian) Compute(history []domain.Bar) (domain.Signal, error) {
	bars := completedOnly(history)
	if len(bars) < 2 {
		return domain.Signal{}, domain.ErrSignalUnavailable
	}
	n := len(bars)
	return c.signalAt(bars[n-2], bars[n-1]), nil
}

// Evaluate returns one signal per completed bar after the first, in order.
// Only the last one drives trading; the rest exist for inspection.
func (c *Contrarian) Evaluate(history []domain.Bar) []domain.Signal {
	bars := completedOnly(history)
	if len(bars) < 2 {
		return nil
	}
	out := make([]domain.Signal, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		out = append(out, c.signalAt(bars[i-1], bars[i]))
	}
	return out
}

func (c *Contrarian) signalAt(prev, cur domain.Bar) domain.Signal {
	ret := logRatio(cur.Close, prev.Close)
	vol := logRatio(cur.Volume, prev.Volume)

	sig := domain.Signal{
		Target:       domain.PositionFlat,
		BarTime:      cur.OpenTime,
		Return:       ret,
		VolumeChange: vol,
	}

	if math.IsNaN(vol) || math.Abs(vol) > volumeOutlier {
		return sig
	}
	sig.VolumeOK = vol >= c.params.VolumeLow && vol <= c.params.VolumeHigh
	if !sig.VolumeOK || math.IsNaN(ret) {
		return sig
	}

	if ret <= c.params.ReturnLow {
		sig.Target = domain.PositionLong
	}
	if ret >= c.params.ReturnHigh {
		sig.Target = domain.PositionShort
	}
	return sig
}

// logRatio is ln(a/b). Zero or negative inputs yield NaN or ±Inf, which the
// gate treats as missing or out of band.
func logRatio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return math.NaN()
	}
	return math.Log(a / b)
}

func completedOnly(history []domain.Bar) []domain.Bar {
	n := len(history)
	if n > 0 && !history[n-1].Complete {
		return history[:n-1]
	}
	return history
}
