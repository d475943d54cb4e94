// internal/tokens/metrics.go
package tokens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_token_refresh_success_total",
		Help: "Completed token refresh exchanges.",
	})
	refreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekit_token_refresh_failures_total",
		Help: "Failed token refresh exchanges by kind.",
	}, []string{"kind"})
	refreshJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekit_token_refresh_joined_total",
		Help: "Callers that joined an in-flight refresh instead of starting one.",
	})
)
