// internal/permissions/metrics.go
package permissions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_permission_cache_hits_total",
		Help: "Permission snapshot cache hits.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_permission_cache_misses_total",
		Help: "Permission snapshot cache misses.",
	})
	resolverSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_permission_resolver_groups_skipped_total",
		Help: "Directory groups skipped during resolution (partial resolution).",
	})
)
