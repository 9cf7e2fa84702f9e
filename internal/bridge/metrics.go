package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	// invocations counts finished Ask calls by outcome ("ok" or a Kind label).
	invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_invocations_total",
			Help: "Total number of worker invocations by outcome.",
		},
		[]string{"outcome"},
	)

	// invocationDur covers admission wait plus worker runtime.
	invocationDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_invocation_duration_seconds",
			Help:    "Duration of worker invocations in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	// inflight gauges worker processes currently running.
	inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_workers_inflight",
			Help: "Current number of running worker processes.",
		},
	)
)

func init() {
	prometheus.MustRegister(invocations, invocationDur, inflight)
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
