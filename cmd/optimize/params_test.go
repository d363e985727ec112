package main

import (
	"math"
	"testing"

	"github.com/pthm-cable/algaeseek/config"
)

func TestParamVectorRoundTrip(t *testing.T) {
	pv := NewParamVector()
	def := pv.DefaultVector()

	back := pv.Denormalize(pv.Normalize(def))
	for i := range def {
		if math.Abs(back[i]-def[i]) > 1e-12 {
			t.Errorf("%s: round trip %v, want %v", pv.Specs[i].Name, back[i], def[i])
		}
	}
}

func TestParamVectorClamp(t *testing.T) {
	pv := NewParamVector()
	got := pv.Clamp([]float64{-1, 100, 12.6})
	want := []float64{0.25, 5.0, 13}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s: Clamp = %v, want %v", pv.Specs[i].Name, got[i], want[i])
		}
	}
}

func TestApplyAndExtract(t *testing.T) {
	pv := NewParamVector()
	cfg := config.Default()

	pv.ApplyToConfig(cfg, []float64{2.0, 0.5, 16.2})
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got := pv.ExtractFromConfig(cfg)
	want := []float64{2.0, 0.5, 16}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", pv.Specs[i].Name, got[i], want[i])
		}
	}
	if cfg.Derived.AngleStep != 2*math.Pi/16 {
		t.Errorf("AngleStep = %v, want recomputed for 16 samples", cfg.Derived.AngleStep)
	}
}

func TestRingStarts(t *testing.T) {
	starts := ringStarts(4, -4.6, 10, 4)
	if len(starts) != 4 {
		t.Fatalf("len = %d, want 4", len(starts))
	}
	for _, s := range starts {
		if d := math.Hypot(s.X-4, s.Y+4.6); math.Abs(d-10) > 1e-9 {
			t.Errorf("start (%v, %v) is %v from the center, want 10", s.X, s.Y, d)
		}
	}
}

func TestEvaluateDefaults(t *testing.T) {
	base := config.Default()
	pv := NewParamVector()
	fe, err := NewFitnessEvaluator(pv, 2000, 100, ringStarts(4, -4.6, 8, 3), base)
	if err != nil {
		t.Fatal(err)
	}

	fitness := fe.Evaluate(pv.DefaultVector())
	stats := fe.LastStats()
	if stats.Runs != 3 {
		t.Errorf("Runs = %d, want 3", stats.Runs)
	}
	if fitness <= 0 || fitness >= 2000 {
		t.Errorf("fitness = %v, want a positive value below the tick cap", fitness)
	}
	if want := stats.MeanTicks + 100*stats.MeanDistance; math.Abs(fitness-want) > 1e-6 {
		t.Errorf("fitness = %v, want ticks + penalty*distance = %v", fitness, want)
	}
	// The base config must not be changed by evaluations.
	if len(base.Boat.Starts) != 1 || base.Boat.Starts[0].X != -4 {
		t.Errorf("base starts modified: %+v", base.Boat.Starts)
	}
}
