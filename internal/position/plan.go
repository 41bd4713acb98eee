// Package position owns the held position of the trader and turns target
// positions into market orders.
package position

import "github.com/alanyoungcy/spotbot/internal/domain"

// Plan returns the order intents that move current to target. A flip between
// long and short is two same-sided orders: the first closes to flat, the
// second opens the opposite side.
func Plan(current, target domain.Position, units float64) []domain.OrderIntent {
	if current == target {
		return nil
	}

	side := domain.OrderSideBuy
	if target < current {
		side = domain.OrderSideSell
	}

	switch {
	case current == domain.PositionFlat:
		return []domain.OrderIntent{{Side: side, SizeUnits: units, Action: openAction(target)}}
	case target == domain.PositionFlat:
		return []domain.OrderIntent{{Side: side, SizeUnits: units, Action: domain.ActionGoingNeutral}}
	default:
		return []domain.OrderIntent{
			{Side: side, SizeUnits: units, Action: domain.ActionGoingNeutral},
			{Side: side, SizeUnits: units, Action: openAction(target)},
		}
	}
}

func openAction(target domain.Position) domain.Action {
	if target == domain.PositionLong {
		return domain.ActionGoingLong
	}
	return domain.ActionGoingShort
}

// positionAfter returns the position reached once the first n intents of the
// current to target plan have filled.
func positionAfter(current, target domain.Position, n int) domain.Position {
	plan := Plan(current, target, 0)
	switch {
	case n == 0:
		return current
	case n >= len(plan):
		return target
	default:
		return domain.PositionFlat
	}
}
