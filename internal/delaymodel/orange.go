// Package delaymodel turns per-cell volume accumulators into BPR-style
// congestion delay estimates (the "Orange" score, named after the
// baseline-condition traffic feed it approximates before any live
// provider enrichment runs).
package delaymodel

import (
	"math"

	"github.com/citygrid/h3delay/internal/model"
)

const eps = 1e-6

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeOrange derives delay_orange, vol_norm, and truck_share for every
// cell in metrics and seeds delay_final with delay_orange (spec §4.3).
// metrics is mutated in place; the same map is returned for chaining.
//
// Capacity is estimated once per call as the nearest-rank
// cfg.CapacityPercentile of the day's cell volumes, floored by
// cfg.CapacityFloor, so near-empty cells cannot pull it toward zero.
// With fewer than 1/(1-P) cells that rank is the busiest cell's own
// volume, so the busiest cell alone then sets the capacity every cell is
// scored against.
func ComputeOrange(metrics map[string]*model.H3Metrics, cfg model.DelayCfg) map[string]*model.H3Metrics {
	if len(metrics) == 0 {
		return metrics
	}

	vols := make([]float64, 0, len(metrics))
	var sum float64
	for _, m := range metrics {
		vols = append(vols, float64(m.TripsTotal))
		sum += float64(m.TripsTotal)
	}
	meanV := float32(sum / float64(len(vols)))
	if meanV < eps {
		meanV = eps
	}

	capacity := float32(percentile(vols, float64(cfg.CapacityPercentile)))
	if capacity < cfg.CapacityFloor {
		capacity = cfg.CapacityFloor
	}
	if capacity < eps {
		capacity = eps
	}

	for _, m := range metrics {
		volNorm := clampf(m.TripsTotal/meanV, 0, 20)

		truckShare := float32(0)
		if m.TripsTotal > eps {
			denom := m.TripsTotal
			if denom < eps {
				denom = eps
			}
			truckShare = clampf(m.TripsTrucks/denom, 0, 1)
		}

		vc := clampf(m.TripsTotal/capacity, 0, cfg.VCCap)
		hv := 1 + cfg.TruckGamma*truckShare

		delay := 1 + cfg.BPRa*powf32(vc, cfg.BPRb)*hv
		delay = clampf(delay, cfg.DelayMin, cfg.DelayMax)

		m.VolNorm = volNorm
		m.TruckShare = truckShare
		m.DelayOrange = delay
		m.DelayFinal = delay
	}

	return metrics
}

func powf32(base, exp float32) float32 {
	if base <= 0 {
		return 0
	}
	return float32(math.Pow(float64(base), float64(exp)))
}
