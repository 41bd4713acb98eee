package domain

import (
	"fmt"
	"time"
)

// Position is the held side of the trader: short, flat or long.
type Position int

const (
	PositionShort Position = -1
	PositionFlat  Position = 0
	PositionLong  Position = 1
)

// Valid reports whether p is one of the three representable positions.
func (p Position) Valid() bool {
	return p >= PositionShort && p <= PositionLong
}

func (p Position) String() string {
	switch p {
	case PositionShort:
		return "short"
	case PositionFlat:
		return "flat"
	case PositionLong:
		return "long"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// ParsePosition accepts "long", "flat", "short" (or "neutral") as well as the
// numeric forms "1", "0" and "-1".
func ParsePosition(s string) (Position, error) {
	switch s {
	case "long", "1", "+1":
		return PositionLong, nil
	case "flat", "neutral", "0", "":
		return PositionFlat, nil
	case "short", "-1":
		return PositionShort, nil
	default:
		return PositionFlat, fmt.Errorf("unknown position %q", s)
	}
}

// Signal is the strategy's target position for the most recent completed bar,
// together with the statistics it was derived from.
type Signal struct {
	Target       Position  `json:"target"`
	BarTime      time.Time `json:"bar_time"`
	Return       float64   `json:"return"`
	VolumeChange float64   `json:"volume_change"`
	// VolumeOK is false when the volume change was missing or an outlier.
	VolumeOK bool `json:"volume_ok"`
}
