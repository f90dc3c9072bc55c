// README: Prometheus collectors for turns, generation calls, place caches and the session sweep.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Turns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "outing",
		Subsystem: "conversation",
		Name:      "turns_total",
		Help:      "Processed dialogue turns by the state they started in",
	},
	[]string{"state"},
)

var GenerationLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "outing",
		Subsystem: "ai",
		Name:      "generation_latency_seconds",
		Help:      "Latency of generation calls",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	},
	[]string{"purpose", "outcome"},
)

var CacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "outing",
		Subsystem: "maps",
		Name:      "cache_lookups_total",
		Help:      "Place and geocode cache lookups by result",
	},
	[]string{"cache", "result"}, // result: hit, miss
)

var SessionsSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "outing",
		Subsystem: "conversation",
		Name:      "sessions_swept_total",
		Help:      "Sessions removed by the idle sweep",
	},
)

func init() {
	prometheus.MustRegister(Turns, GenerationLatency, CacheLookups, SessionsSwept)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
