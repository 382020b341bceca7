package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_flight_breaker_state",
		Help: "Circuit breaker state for the Longbow Flight client (0 closed, 1 open, 2 half-open)",
	})

	rowsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_rows_forwarded_total",
		Help: "The total number of tensor rows forwarded to Longbow",
	})

	forwardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_forward_failures_total",
		Help: "Failed forwards to Longbow by reason",
	}, []string{"reason"})
)
