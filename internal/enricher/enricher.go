// Package enricher fans out real-time provider calls for low-confidence
// cells and blends the results back into the Orange delay.
package enricher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/citygrid/h3delay/internal/logger"
	"github.com/citygrid/h3delay/internal/model"
	"github.com/citygrid/h3delay/internal/observability"
	"github.com/citygrid/h3delay/internal/provider"
)

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type callResult struct {
	cell   string
	sample *model.TrafficSample
	err    error
}

// Enrich mutates delay_provider and delay_final for every cell whose
// ConfCell() is strictly below cfg.MinConfForPureOrange (spec §4.5). At
// most cfg.MaxConcurrentCalls provider calls run concurrently, gated by a
// counting semaphore acquired before each call and released on its
// completion, following the same bounded-fan-out idiom
// golang.org/x/sync/semaphore documents for many-worker/one-resource
// problems. callTimeout bounds each individual call; cancelling ctx
// abandons any outstanding calls but keeps mutations already committed.
func Enrich(ctx context.Context, metrics map[string]*model.H3Metrics, cfg model.DelayCfg, p provider.Provider, callTimeout time.Duration, date string) {
	if p == nil || len(metrics) == 0 {
		return
	}
	stageStart := time.Now()
	defer func() {
		observability.ObserveEnrichment(date, time.Since(stageStart).Seconds())
	}()

	eligible := make([]string, 0)
	for cell, m := range metrics {
		if m.ConfCell() < cfg.MinConfForPureOrange {
			eligible = append(eligible, cell)
		}
	}
	if len(eligible) == 0 {
		return
	}

	concurrency := int64(cfg.MaxConcurrentCalls)
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	results := make(chan callResult, len(eligible))
	var wg sync.WaitGroup

	for _, cell := range eligible {
		if err := sem.Acquire(ctx, 1); err != nil {
			// context already cancelled: stop launching new calls, but
			// outstanding ones (already acquired) still get to finish below.
			break
		}
		wg.Add(1)
		go func(cell string) {
			defer wg.Done()
			defer sem.Release(1)

			callCtx := ctx
			var cancel context.CancelFunc
			if callTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, callTimeout)
				defer cancel()
			}

			sample, err := safeDelayForCell(callCtx, p, cell)
			results <- callResult{cell: cell, sample: sample, err: err}
		}(cell)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	log := logger.FromContext(ctx, nil)

	for r := range results {
		if r.err != nil {
			log.Warn().Err(r.err).Str("cell", r.cell).Msg("provider call failed for cell")
			observability.IncEnrichedCell("provider_error")
			continue
		}
		if r.sample == nil {
			observability.IncEnrichedCell("no_coverage")
			continue
		}
		m, ok := metrics[r.cell]
		if !ok {
			continue
		}
		blend(m, *r.sample, cfg)
		observability.IncEnrichedCell("blended")
	}
}

// safeDelayForCell contains a panic inside a single provider task so it
// is reported as a provider error on that cell alone, never crashing the
// fan-out (spec §7).
func safeDelayForCell(ctx context.Context, p provider.Provider, cell string) (sample *model.TrafficSample, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			sample = nil
			err = panicError{cell: cell, rec: rec}
		}
	}()
	return p.DelayForCell(ctx, cell)
}

type panicError struct {
	cell string
	rec  any
}

func (e panicError) Error() string {
	return "provider panic on cell " + e.cell
}

// blend combines a provider sample with cell's Orange delay per spec
// §4.5's weighted-blend formula.
func blend(m *model.H3Metrics, sample model.TrafficSample, cfg model.DelayCfg) {
	wo := m.ConfCell()
	wp := 1 - wo

	deltaOrange := m.DelayOrange
	deltaP := float32(sample.Delay)
	confP := clampf(float32(sample.Confidence), 0, 1)

	confWeight := confP
	if confWeight < 0.5 {
		confWeight = 0.5
	}
	deltaPEff := deltaP * confWeight

	blendedBase := wo*deltaOrange + wp*deltaP
	blendedConf := wo*deltaOrange + wp*deltaPEff

	delayFinal := clampf(0.5*blendedBase+0.5*blendedConf, cfg.DelayMin, cfg.DelayMax)
	delayProvider := clampf(deltaP, 1, 2*cfg.DelayMax)

	m.DelayProvider = delayProvider
	m.DelayFinal = delayFinal
}
