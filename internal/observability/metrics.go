// Package observability holds the Prometheus collectors for the delay
// pipeline: provider call latency, enrichment and render durations, sink
// outcomes, and cache hit/miss counts. Every Observe*/Inc* helper is a
// no-op until Init is called with a non-nil registerer, so packages can
// call them unconditionally without checking a global flag themselves.
package observability

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	xx "github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	initCollectors(r)
}

func Enabled() bool { return enabled.Load() }

var (
	providerCallsTotal       *prometheus.CounterVec
	providerLatencySeconds   *prometheus.HistogramVec
	providerInFlight         prometheus.Gauge
	providerCacheHitsTotal   *prometheus.CounterVec
	providerCacheMissesTotal *prometheus.CounterVec

	enrichmentDurationSeconds *prometheus.HistogramVec
	enrichmentCellsTotal      *prometheus.CounterVec

	aggregationErrorsTotal *prometheus.CounterVec
	aggregationRowsTotal   *prometheus.CounterVec

	sinkWritesTotal      *prometheus.CounterVec
	sinkWriteDurationSec *prometheus.HistogramVec

	renderDurationSeconds prometheus.Histogram
	renderFeaturesGauge   prometheus.Gauge

	computeDayDurationSeconds *prometheus.HistogramVec

	kafkaConsumerErrorsTotal *prometheus.CounterVec

	cellDelaySampleGauge *prometheus.GaugeVec

	cacheOpTotal                  *prometheus.CounterVec
	redisOperationDurationSeconds *prometheus.HistogramVec
)

func initCollectors(r prometheus.Registerer) {
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_calls_total", Help: "Traffic provider calls by outcome."},
		[]string{"provider", "outcome"},
	)
	providerLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "provider_latency_seconds", Help: "Traffic provider call latency.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)},
		[]string{"provider"},
	)
	providerInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "provider_calls_in_flight", Help: "Number of traffic provider calls currently outstanding."},
	)
	providerCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_cache_hits_total", Help: "Provider response cache hits."},
		[]string{"provider"},
	)
	providerCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_cache_misses_total", Help: "Provider response cache misses."},
		[]string{"provider"},
	)

	enrichmentDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "enrichment_duration_seconds", Help: "Time to enrich all eligible cells for one compute_day run.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)},
		[]string{"date"},
	)
	enrichmentCellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "enrichment_cells_total", Help: "Cells processed by the enricher by outcome."},
		[]string{"outcome"},
	)

	aggregationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aggregation_errors_total", Help: "Errors in the OD aggregation stage by reason."},
		[]string{"reason"},
	)
	aggregationRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "aggregation_rows_total", Help: "OD rows consumed by the aggregator by outcome."},
		[]string{"outcome"},
	)

	sinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "history_sink_writes_total", Help: "History sink writes by sink and outcome."},
		[]string{"sink", "outcome"},
	)
	sinkWriteDurationSec = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "history_sink_write_duration_seconds", Help: "History sink write latency.", Buckets: prometheus.ExponentialBuckets(0.002, 2, 14)},
		[]string{"sink"},
	)

	renderDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "render_duration_seconds", Help: "Time to render one GeoJSON snapshot.", Buckets: prometheus.ExponentialBuckets(0.002, 2, 12)},
	)
	renderFeaturesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "render_features", Help: "Feature count of the most recently rendered snapshot."},
	)

	computeDayDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "compute_day_duration_seconds", Help: "End-to-end compute_day latency by outcome.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14)},
		[]string{"outcome"},
	)

	kafkaConsumerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kafka_consumer_errors_total", Help: "Errors encountered by the OD-ready consumer."},
		[]string{"kind"},
	)

	cellDelaySampleGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "cell_delay_sample", Help: "Sampled final delay factor per cell (hashed label to limit cardinality)."},
		[]string{"cell_hash"},
	)

	cacheOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cache_op_total", Help: "Count of Redis snapshot-mirror operations by op and outcome."},
		[]string{"op", "outcome"},
	)
	redisOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "redis_operation_duration_seconds", Help: "Latency of Redis operations in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 15)},
		[]string{"op"},
	)

	r.MustRegister(
		providerCallsTotal, providerLatencySeconds, providerInFlight,
		providerCacheHitsTotal, providerCacheMissesTotal,
		enrichmentDurationSeconds, enrichmentCellsTotal,
		aggregationErrorsTotal, aggregationRowsTotal,
		sinkWritesTotal, sinkWriteDurationSec,
		renderDurationSeconds, renderFeaturesGauge,
		computeDayDurationSeconds,
		kafkaConsumerErrorsTotal,
		cellDelaySampleGauge,
		cacheOpTotal, redisOperationDurationSeconds,
	)
}

// ObserveCacheOp records a Redis snapshot-mirror operation's outcome and
// latency (the Redis client has no business-logic cache of its own —
// this is for the snapshot publisher's optional multi-replica mirror).
func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	if op == "" {
		op = "unknown"
	}
	outcome := outcomeOf(err)
	if cacheOpTotal != nil {
		cacheOpTotal.WithLabelValues(op, outcome).Inc()
	}
	if redisOperationDurationSeconds != nil {
		redisOperationDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
	}
}

func ObserveProviderCall(provider string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	outcome := outcomeOf(err)
	if providerCallsTotal != nil {
		providerCallsTotal.WithLabelValues(provider, outcome).Inc()
	}
	if providerLatencySeconds != nil {
		providerLatencySeconds.WithLabelValues(provider).Observe(durationSeconds)
	}
}

func IncProviderInFlight(delta int) {
	if !enabled.Load() || providerInFlight == nil {
		return
	}
	providerInFlight.Add(float64(delta))
}

func ObserveProviderCacheLookup(provider string, hit bool) {
	if !enabled.Load() {
		return
	}
	if hit {
		if providerCacheHitsTotal != nil {
			providerCacheHitsTotal.WithLabelValues(provider).Inc()
		}
		return
	}
	if providerCacheMissesTotal != nil {
		providerCacheMissesTotal.WithLabelValues(provider).Inc()
	}
}

func ObserveEnrichment(date string, durationSeconds float64) {
	if !enabled.Load() || enrichmentDurationSeconds == nil {
		return
	}
	enrichmentDurationSeconds.WithLabelValues(date).Observe(durationSeconds)
}

func IncEnrichedCell(outcome string) {
	if !enabled.Load() || enrichmentCellsTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	enrichmentCellsTotal.WithLabelValues(outcome).Inc()
}

func IncAggregationError(reason string) {
	if !enabled.Load() || aggregationErrorsTotal == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	aggregationErrorsTotal.WithLabelValues(reason).Inc()
}

func AddAggregationRows(outcome string, n int) {
	if !enabled.Load() || aggregationRowsTotal == nil || n <= 0 {
		return
	}
	aggregationRowsTotal.WithLabelValues(outcome).Add(float64(n))
}

func ObserveSinkWrite(sink string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	outcome := outcomeOf(err)
	if sinkWritesTotal != nil {
		sinkWritesTotal.WithLabelValues(sink, outcome).Inc()
	}
	if sinkWriteDurationSec != nil {
		sinkWriteDurationSec.WithLabelValues(sink).Observe(durationSeconds)
	}
}

func ObserveRender(durationSeconds float64, featureCount int) {
	if !enabled.Load() {
		return
	}
	if renderDurationSeconds != nil {
		renderDurationSeconds.Observe(durationSeconds)
	}
	if renderFeaturesGauge != nil {
		renderFeaturesGauge.Set(float64(featureCount))
	}
}

func ObserveComputeDay(err error, durationSeconds float64) {
	if !enabled.Load() || computeDayDurationSeconds == nil {
		return
	}
	computeDayDurationSeconds.WithLabelValues(outcomeOf(err)).Observe(durationSeconds)
}

func IncKafkaConsumerError(kind string) {
	if !enabled.Load() || kafkaConsumerErrorsTotal == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	kafkaConsumerErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveCellDelaySample records a 1%-sampled gauge of a cell's final
// delay factor, keyed by a short hash instead of the raw cell id to
// bound label cardinality across a whole resolution-7 coverage area.
func ObserveCellDelaySample(cell string, delay float64) {
	if !enabled.Load() || cellDelaySampleGauge == nil || cell == "" {
		return
	}
	const denom = uint64(100)
	h := xx.Sum64String(cell)
	if (h % denom) != 0 {
		return
	}
	cellDelaySampleGauge.WithLabelValues(toShortHash(h)).Set(delay)
}

func toShortHash(h uint64) string {
	const width = 8
	x := h >> 32
	s := strconv.FormatUint(x, 16)
	if len(s) >= width {
		return s[len(s)-width:]
	}
	var b [width]byte
	pad := width - len(s)
	for i := range pad {
		b[i] = '0'
	}
	copy(b[pad:], s)
	return string(b[:])
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
