package position

import (
	"reflect"
	"testing"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

func TestPlanTable(t *testing.T) {
	const u = 0.01
	buy := func(a domain.Action) domain.OrderIntent {
		return domain.OrderIntent{Side: domain.OrderSideBuy, SizeUnits: u, Action: a}
	}
	sell := func(a domain.Action) domain.OrderIntent {
		return domain.OrderIntent{Side: domain.OrderSideSell, SizeUnits: u, Action: a}
	}
	L, F, S := domain.PositionLong, domain.PositionFlat, domain.PositionShort

	tests := []struct {
		from, to domain.Position
		want     []domain.OrderIntent
	}{
		{F, L, []domain.OrderIntent{buy(domain.ActionGoingLong)}},
		{F, S, []domain.OrderIntent{sell(domain.ActionGoingShort)}},
		{L, L, nil},
		{S, S, nil},
		{F, F, nil},
		{L, F, []domain.OrderIntent{sell(domain.ActionGoingNeutral)}},
		{S, F, []domain.OrderIntent{buy(domain.ActionGoingNeutral)}},
		{L, S, []domain.OrderIntent{sell(domain.ActionGoingNeutral), sell(domain.ActionGoingShort)}},
		{S, L, []domain.OrderIntent{buy(domain.ActionGoingNeutral), buy(domain.ActionGoingLong)}},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			got := Plan(tt.from, tt.to, u)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Plan(%v, %v) = %+v, want %+v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestPositionAfter(t *testing.T) {
	L, F, S := domain.PositionLong, domain.PositionFlat, domain.PositionShort
	if got := positionAfter(L, S, 1); got != F {
		t.Fatalf("half flip = %v, want flat", got)
	}
	if got := positionAfter(L, S, 0); got != L {
		t.Fatalf("no fills = %v, want long", got)
	}
	if got := positionAfter(F, S, 1); got != S {
		t.Fatalf("open = %v, want short", got)
	}
}
