package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cachedPools = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "quiver_cached_pools",
	Help: "Number of reference pools held in the cache",
})
