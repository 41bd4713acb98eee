package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/spotbot/internal/domain"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// barsFromReturns builds complete bars whose consecutive log returns equal
// rets and whose volumes change by volCh each step.
func barsFromReturns(rets []float64, volCh float64) []domain.Bar {
	bars := []domain.Bar{{OpenTime: t0, Close: 100, Volume: 10, Complete: true}}
	for i, r := range rets {
		prev := bars[len(bars)-1]
		bars = append(bars, domain.Bar{
			OpenTime: t0.Add(time.Duration(i+1) * time.Minute),
			Close:    prev.Close * math.Exp(r),
			Volume:   prev.Volume * math.Exp(volCh),
			Complete: true,
		})
	}
	return bars
}

func mustContrarian(t *testing.T, p Params) *Contrarian {
	t.Helper()
	c, err := NewContrarian(p)
	if err != nil {
		t.Fatalf("NewContrarian: %v", err)
	}
	return c
}

func TestEvaluateLongFlatShort(t *testing.T) {
	c := mustContrarian(t, DefaultParams())
	sigs := c.Evaluate(barsFromReturns([]float64{-0.01, 0.0, 0.01}, 0.1))

	want := []domain.Position{domain.PositionLong, domain.PositionFlat, domain.PositionShort}
	if len(sigs) != len(want) {
		t.Fatalf("got %d signals, want %d", len(sigs), len(want))
	}
	for i, s := range sigs {
		if s.Target != want[i] {
			t.Fatalf("signal %d = %v, want %v", i, s.Target, want[i])
		}
	}
}

func TestComputeThresholdsInclusive(t *testing.T) {
	p := Params{ReturnLow: math.Log(0.99), ReturnHigh: math.Log(1.01), VolumeLow: -3, VolumeHigh: 3}
	c := mustContrarian(t, p)

	mk := func(close float64) []domain.Bar {
		return []domain.Bar{
			{OpenTime: t0, Close: 100, Volume: 10, Complete: true},
			{OpenTime: t0.Add(time.Minute), Close: close, Volume: 10, Complete: true},
		}
	}
	// Close ratios 0.99 and 1.01 reproduce the thresholds exactly.
	long, err := c.Compute(mk(99))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if long.Target != domain.PositionLong {
		t.Fatalf("r == retLow: got %v, want long (r=%v low=%v)", long.Target, long.Return, p.ReturnLow)
	}
	short, _ := c.Compute(mk(101))
	if short.Target != domain.PositionShort {
		t.Fatalf("r == retHigh: got %v, want short (r=%v high=%v)", short.Target, short.Return, p.ReturnHigh)
	}
}

func TestComputeVolumeOutlierGatesFlat(t *testing.T) {
	c := mustContrarian(t, Params{ReturnLow: -0.0001, ReturnHigh: 0.0001, VolumeLow: -10, VolumeHigh: 10})
	sig, err := c.Compute(barsFromReturns([]float64{-0.05}, 3.5))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if sig.Target != domain.PositionFlat || sig.VolumeOK {
		t.Fatalf("outlier volume: got %+v, want flat with gate closed", sig)
	}
}

func TestComputeVolumeOutsideBand(t *testing.T) {
	c := mustContrarian(t, Params{ReturnLow: -0.0001, ReturnHigh: 0.0001, VolumeLow: -1, VolumeHigh: 1})
	sig, _ := c.Compute(barsFromReturns([]float64{0.05}, 2))
	if sig.Target != domain.PositionFlat {
		t.Fatalf("got %v, want flat", sig.Target)
	}
}

func TestComputeZeroVolumeIsMissing(t *testing.T) {
	c := mustContrarian(t, DefaultParams())
	bars := []domain.Bar{
		{OpenTime: t0, Close: 100, Volume: 0, Complete: true},
		{OpenTime: t0.Add(time.Minute), Close: 90, Volume: 5, Complete: true},
	}
	sig, _ := c.Compute(bars)
	if sig.Target != domain.PositionFlat {
		t.Fatalf("got %v, want flat", sig.Target)
	}
}

func TestComputeNeedsTwoCompletedBars(t *testing.T) {
	c := mustContrarian(t, DefaultParams())
	bars := []domain.Bar{
		{OpenTime: t0, Close: 100, Volume: 10, Complete: true},
		{OpenTime: t0.Add(time.Minute), Close: 50, Volume: 10},
	}
	if _, err := c.Compute(bars); !errors.Is(err, domain.ErrSignalUnavailable) {
		t.Fatalf("err = %v, want ErrSignalUnavailable", err)
	}
	if sigs := c.Evaluate(bars); sigs != nil {
		t.Fatalf("Evaluate = %v, want nil", sigs)
	}
}

func TestComputeIgnoresFormingBar(t *testing.T) {
	c := mustContrarian(t, DefaultParams())
	bars := barsFromReturns([]float64{-0.01}, 0)
	forming := domain.Bar{OpenTime: t0.Add(time.Hour), Close: 1000, Volume: 10}
	a, _ := c.Compute(bars)
	b, _ := c.Compute(append(bars, forming))
	if a != b {
		t.Fatalf("forming bar changed signal: %+v vs %+v", a, b)
	}
}

func TestComputeIsPure(t *testing.T) {
	c := mustContrarian(t, DefaultParams())
	bars := barsFromReturns([]float64{0.02, -0.03, 0.0005}, 0.2)
	a, _ := c.Compute(bars)
	b, _ := c.Compute(bars)
	if a != b {
		t.Fatalf("compute not deterministic: %+v vs %+v", a, b)
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Params
		wantErr bool
	}{
		{"defaults", DefaultParams(), false},
		{"equal returns", Params{ReturnLow: 0, ReturnHigh: 0, VolumeLow: -3, VolumeHigh: 3}, false},
		{"reversed returns", Params{ReturnLow: 0.01, ReturnHigh: -0.01, VolumeLow: -3, VolumeHigh: 3}, true},
		{"reversed volume", Params{ReturnLow: -0.01, ReturnHigh: 0.01, VolumeLow: 3, VolumeHigh: -3}, true},
		{"nan", Params{ReturnLow: math.NaN(), ReturnHigh: 0.01, VolumeLow: -3, VolumeHigh: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry()
	s, err := r.Build("contrarian", DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if s.Name() != "contrarian" {
		t.Fatalf("name = %q", s.Name())
	}
	if _, err := r.Build("nope", DefaultParams()); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}
