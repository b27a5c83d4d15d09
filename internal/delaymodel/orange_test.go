package delaymodel

import (
	"math"
	"testing"

	"github.com/citygrid/h3delay/internal/model"
)

func testCfg() model.DelayCfg {
	return model.DelayCfg{
		Res:                7,
		TruckFactor:        1.4,
		CarFactor:          1.0,
		BPRa:               0.15,
		BPRb:               4.0,
		TruckGamma:         0.4,
		CapacityPercentile: 0.9,
		CapacityFloor:      10.0,
		VCCap:              2.0,
		DelayMin:           1.0,
		DelayMax:           2.5,
	}
}

func approxEqual(a, b, tol float32) bool {
	return math.Abs(float64(a-b)) <= float64(tol)
}

// TestComputeOrange_SingleHighVolumeCell reproduces the worked example
// from the specification: a single intra-cell row of 120 trucks / 800
// cars at confidence 0.8, which (because origin == dest) credits the
// cell's accumulators twice.
func TestComputeOrange_SingleHighVolumeCell(t *testing.T) {
	cfg := testCfg()
	cell := "87283472bffffff"

	m := &model.H3Metrics{
		Cell:        cell,
		TripsTotal:  2 * (cfg.TruckFactor*120 + cfg.CarFactor*800),
		TripsTrucks: 2 * 120,
		TripsCars:   2 * 800,
		ConfSum:     2 * (0.8 * (cfg.TruckFactor*120 + cfg.CarFactor*800)),
		ConfWeight:  2 * (cfg.TruckFactor*120 + cfg.CarFactor*800),
	}
	metrics := map[string]*model.H3Metrics{cell: m}

	ComputeOrange(metrics, cfg)

	if !approxEqual(m.DelayOrange, 1.157, 0.01) {
		t.Fatalf("delay_orange = %v, want ≈1.157", m.DelayOrange)
	}
	if m.DelayFinal != m.DelayOrange {
		t.Fatalf("delay_final (%v) must equal delay_orange (%v) before enrichment", m.DelayFinal, m.DelayOrange)
	}
}

func TestComputeOrange_EmptyMetrics_NoPanic(t *testing.T) {
	out := ComputeOrange(map[string]*model.H3Metrics{}, testCfg())
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d", len(out))
	}
}

func TestComputeOrange_ZeroVolumeCell_NoDivideByZero(t *testing.T) {
	cfg := testCfg()
	m := &model.H3Metrics{Cell: "zero"}
	metrics := map[string]*model.H3Metrics{"zero": m}

	ComputeOrange(metrics, cfg)

	if math.IsNaN(float64(m.DelayOrange)) || math.IsInf(float64(m.DelayOrange), 0) {
		t.Fatalf("delay_orange is non-finite: %v", m.DelayOrange)
	}
	if m.DelayOrange < cfg.DelayMin || m.DelayOrange > cfg.DelayMax {
		t.Fatalf("delay_orange %v outside [%v, %v]", m.DelayOrange, cfg.DelayMin, cfg.DelayMax)
	}
}

func TestComputeOrange_DelayWithinConfiguredBounds(t *testing.T) {
	cfg := testCfg()
	metrics := map[string]*model.H3Metrics{
		"quiet": {Cell: "quiet", TripsTotal: 2, TripsTrucks: 0, TripsCars: 2},
		"busy":  {Cell: "busy", TripsTotal: 50000, TripsTrucks: 40000, TripsCars: 10000},
	}
	ComputeOrange(metrics, cfg)
	for cell, m := range metrics {
		if m.DelayOrange < cfg.DelayMin || m.DelayOrange > cfg.DelayMax {
			t.Fatalf("cell %s: delay_orange %v outside [%v, %v]", cell, m.DelayOrange, cfg.DelayMin, cfg.DelayMax)
		}
		if m.VolNorm < 0 || m.VolNorm > 20 {
			t.Fatalf("cell %s: vol_norm %v outside [0, 20]", cell, m.VolNorm)
		}
		if m.TruckShare < 0 || m.TruckShare > 1 {
			t.Fatalf("cell %s: truck_share %v outside [0, 1]", cell, m.TruckShare)
		}
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	vals := []float64{10, 20, 30, 40, 50}
	got := percentile(append([]float64(nil), vals...), 0.9)
	if got != 50 {
		t.Fatalf("p90 of %v = %v, want 50", vals, got)
	}
	got = percentile(append([]float64(nil), vals...), 0.5)
	if got != 30 {
		t.Fatalf("p50 of %v = %v, want 30", vals, got)
	}
}

func TestPercentile_EmptyInput(t *testing.T) {
	if got := percentile(nil, 0.9); got != 0 {
		t.Fatalf("percentile(nil) = %v, want 0", got)
	}
}
