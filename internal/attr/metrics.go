package attr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	targetSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_target_selections_total",
		Help: "Total number of target selections by target kind",
	}, []string{"kind"})

	expansions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_expansions_total",
		Help: "Total number of expansions along the sampling axis",
	}, []string{"kind", "type"})

	baselineDraws = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_baseline_draws_total",
		Help: "Total number of reference rows drawn from baseline distributions",
	})

	forwardRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_forward_runs_total",
		Help: "Total number of forward function invocations",
	}, []string{"mode"})

	forwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_forward_duration_seconds",
		Help:    "Time spent in forward functions including target selection",
		Buckets: prometheus.DefBuckets,
	})
)
