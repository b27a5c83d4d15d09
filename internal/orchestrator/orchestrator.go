// Package orchestrator wires the aggregator, delay model, enricher,
// history sinks, and renderer into the single compute_day entry point.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/citygrid/h3delay/internal/aggregator"
	"github.com/citygrid/h3delay/internal/delaymodel"
	"github.com/citygrid/h3delay/internal/enricher"
	"github.com/citygrid/h3delay/internal/history"
	"github.com/citygrid/h3delay/internal/logger"
	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
	"github.com/citygrid/h3delay/internal/provider"
	"github.com/citygrid/h3delay/internal/renderer"
)

// stage names the state-machine position a call has reached (spec §4.8:
// Init -> Aggregated -> Scored -> Enriched? -> Persisted? -> Rendered,
// no back-edges within a single call).
type stage int

const (
	stageInit stage = iota
	stageAggregated
	stageScored
	stageEnriched
	stagePersisted
	stageRendered
)

// Result is compute_day's successful output: the per-cell metrics map
// and the rendered GeoJSON document.
type Result struct {
	Metrics map[string]*model.H3Metrics
	GeoJSON []byte
}

// Options carries compute_day's optional collaborators (spec §9's
// trait-based-collaborator design: both are interfaces, both optional).
type Options struct {
	Provider        provider.Provider
	ProviderTimeout time.Duration
	Sink            history.Sink
}

// ComputeDay implements spec §4.8. A configuration or input error is
// fatal and returns before any stage runs or mutates state; a sink
// failure is captured and returned alongside a fully valid Result,
// matching the sink-failure error class of spec §7.
func ComputeDay(ctx context.Context, date string, rows []model.ODRecord, cfg model.DelayCfg, opts Options) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, fmt.Errorf("compute_day: configuration error: %w", err)
	}

	start := time.Now()
	runCtx := logger.WithDate(logger.WithRunID(ctx, logger.NewID()), date)
	log := logger.FromContext(runCtx, nil)

	var stageAt stage = stageInit
	var sinkErr error

	result, err := func() (Result, error) {
		metrics, err := aggregator.Aggregate(rows, cfg)
		if err != nil {
			observability.IncAggregationError("input")
			return Result{}, fmt.Errorf("compute_day: input error: %w", err)
		}
		stageAt = stageAggregated
		observability.AddAggregationRows("ok", len(rows))

		delaymodel.ComputeOrange(metrics, cfg)
		stageAt = stageScored

		if opts.Provider != nil {
			enricher.Enrich(runCtx, metrics, cfg, opts.Provider, opts.ProviderTimeout, date)
			stageAt = stageEnriched
		}

		if opts.Sink != nil {
			sinkRows := toDailyRows(date, metrics, cfg.Res)
			if err := opts.Sink.Persist(runCtx, sinkRows); err != nil {
				sinkErr = fmt.Errorf("compute_day: sink failure: %w", err)
				log.Warn().Err(sinkErr).Msg("history sink failed, continuing to render")
			}
			stageAt = stagePersisted
		}

		geojson, err := renderer.ToGeoJSON(metrics, cfg, time.Now())
		if err != nil {
			return Result{}, fmt.Errorf("compute_day: render error: %w", err)
		}
		stageAt = stageRendered

		return Result{Metrics: metrics, GeoJSON: geojson}, nil
	}()

	observability.ObserveComputeDay(err, time.Since(start).Seconds())
	if err != nil {
		log.Error().Err(err).Int("stage", int(stageAt)).Msg("compute_day failed")
		return Result{}, err
	}

	log.Info().Int("cells", len(result.Metrics)).Dur("duration", time.Since(start)).Msg("compute_day completed")
	return result, sinkErr
}

func toDailyRows(date string, metrics map[string]*model.H3Metrics, res int) []model.H3DailyRow {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		d = time.Now().UTC().Truncate(24 * time.Hour)
	}
	rows := make([]model.H3DailyRow, 0, len(metrics))
	for cell, m := range metrics {
		rows = append(rows, model.H3DailyRow{
			Date:          d,
			H3:            cell,
			Res:           res,
			TripsTotal:    m.TripsTotal,
			TripsTrucks:   m.TripsTrucks,
			TripsCars:     m.TripsCars,
			TruckShare:    m.TruckShare,
			VolNorm:       m.VolNorm,
			ConfCell:      m.ConfCell(),
			DelayOrange:   m.DelayOrange,
			DelayProvider: m.DelayProvider,
			DelayFinal:    m.DelayFinal,
		})
	}
	return rows
}
