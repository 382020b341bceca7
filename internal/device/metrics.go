package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_tensor_pool_hits_total",
		Help: "Total number of successful tensor pool retrievals",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_tensor_pool_misses_total",
		Help: "Total number of tensor pool misses (allocations)",
	})
)
