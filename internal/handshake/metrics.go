// internal/handshake/metrics.go
package handshake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekit_handshake_outcomes_total",
	Help: "Handshake session outcomes by kind.",
}, []string{"kind"})
