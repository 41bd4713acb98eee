package strategy

import "github.com/alanyoungcy/spotbot/internal/domain"

// Strategy turns a completed-bar history into a target position. Compute
// must be pure: the same history always yields the same signal.
type Strategy interface {
	Name() string
	Compute(history []domain.Bar) (domain.Signal, error)
}

// Params holds the thresholds of the contrarian return/volume strategy.
type Params struct {
	ReturnLow  float64
	ReturnHigh float64
	VolumeLow  float64
	VolumeHigh float64
}

// DefaultParams mirrors the defaults shipped in the config file.
func DefaultParams() Params {
	return Params{
		ReturnLow:  -0.0001,
		ReturnHigh: 0.0001,
		VolumeLow:  -3,
		VolumeHigh: 3,
	}
}
