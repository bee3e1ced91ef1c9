package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Route discovery
	RouteCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_route_candidates_total",
			Help: "Enumerated candidate paths sent for quoting",
		},
		[]string{"provider"},
	)

	QuoteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_quote_failures_total",
			Help: "Quote calls dropped from the candidate set",
		},
		[]string{"provider"},
	)

	RouteSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xswap_route_search_duration_seconds",
			Help:    "Route search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Ranking
	GasEstimateFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xswap_gas_estimate_fallbacks_total",
		Help: "Routes ranked with the per-hop default gas limit",
	})

	// Execution
	ProbeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_probe_outcomes_total",
			Help: "Dual dry-run probe outcomes by chosen method",
		},
		[]string{"outcome"},
	)

	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_submissions_total",
			Help: "Transaction submissions by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Session
	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xswap_stale_results_dropped_total",
		Help: "Calculation results discarded because a newer one started",
	})

	// Quote cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_cache_lookups_total",
			Help: "Quote cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xswap_provider_http_requests_total",
			Help: "Outbound provider HTTP requests by host and outcome",
		},
		[]string{"host", "outcome"},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server mounts /metrics on addr.
func Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
