package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Routes added to the registry
	RoutesRegisteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transvisor_routes_registered_total",
		Help: "Total number of route features added to the registry",
	})

	// Source loads by result (ok, fetch_error, rejected)
	SourceLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transvisor_source_loads_total",
		Help: "Source load attempts by result",
	}, []string{"result"})

	ReclassificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transvisor_reclassifications_total",
		Help: "Total number of LOS reclassification passes",
	})

	RejectedWindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transvisor_rejected_windows_total",
		Help: "Total number of reclassification requests refused for an invalid window",
	})

	ReclassifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transvisor_reclassify_duration_seconds",
		Help:    "Time taken to reclassify every registered route",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us to ~1.6s
	})

	RoutesByGrade = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "transvisor_routes_by_grade",
		Help: "Number of routes currently in each LOS grade",
	}, []string{"grade"})

	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transvisor_ws_clients",
		Help: "Connected websocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transvisor_http_requests_total",
		Help: "HTTP requests by method and status code",
	}, []string{"method", "code"})
)

// ObserveGrades replaces the per-grade gauge values.
func ObserveGrades(counts map[string]int) {
	for grade, n := range counts {
		RoutesByGrade.WithLabelValues(grade).Set(float64(n))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument counts requests passing through next.
func Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(HTTPRequestsTotal, next)
}
