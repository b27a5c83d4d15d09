package odkafka

import "github.com/prometheus/client_golang/prometheus"

type metricSet struct {
	msgs     *prometheus.CounterVec
	proc     *prometheus.HistogramVec
	lagGauge prometheus.Gauge
}

func newMetricSet(r prometheus.Registerer) *metricSet {
	m := &metricSet{
		msgs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "od_ready_msgs_total",
				Help: "Count of OD-ready trigger messages by result.",
			},
			[]string{"result"},
		),
		proc: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "od_ready_processing_seconds",
				Help:    "End-to-end time to run compute_day for one OD-ready message.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"date"},
		),
		lagGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "od_ready_lag_seconds",
				Help: "Approximate lag: now - message.timestamp.",
			},
		),
	}
	if r != nil {
		r.MustRegister(m.msgs, m.proc, m.lagGauge)
	}
	return m
}
