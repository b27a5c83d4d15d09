// Package aggregator folds a day's OD rows into per-cell volume and
// confidence accumulators.
package aggregator

import (
	"fmt"

	"github.com/citygrid/h3delay/internal/h3adapter"
	"github.com/citygrid/h3delay/internal/model"
)

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Aggregate folds rows into a fresh map<cell, *H3Metrics>. A record whose
// origin or destination cell is not at cfg.Res is a fatal, whole-batch
// error (spec §4.2): no partial map is returned.
//
// A record with origin_cell == dest_cell contributes twice to that
// cell's totals, once for each role — an explicit design decision, not
// a bug (spec §9).
func Aggregate(rows []model.ODRecord, cfg model.DelayCfg) (map[string]*model.H3Metrics, error) {
	out := make(map[string]*model.H3Metrics)
	a := h3adapter.New()

	for i, r := range rows {
		for _, cell := range []string{r.OriginCell, r.DestCell} {
			res, err := a.Resolution(cell)
			if err != nil {
				return nil, fmt.Errorf("aggregator: row %d: %w", i, err)
			}
			if res != cfg.Res {
				return nil, fmt.Errorf("aggregator: row %d: cell %q at resolution %d, want %d", i, cell, res, cfg.Res)
			}
		}

		vol := cfg.TruckFactor*r.NTrucks + cfg.CarFactor*r.NCars
		w := vol
		if w < 1 {
			w = 1
		}
		conf := float32(1)
		if r.Conf != nil {
			conf = clamp32(*r.Conf, 0, 1)
		}

		for _, cell := range []string{r.OriginCell, r.DestCell} {
			m := out[cell]
			if m == nil {
				m = &model.H3Metrics{Cell: cell}
				out[cell] = m
			}
			m.TripsTotal += vol
			m.TripsTrucks += r.NTrucks
			m.TripsCars += r.NCars
			m.ConfSum += conf * w
			m.ConfWeight += w
		}
	}

	return out, nil
}
