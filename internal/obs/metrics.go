package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Init registers the HTTP metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration)
}

// Handler serves the given gatherer in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Instrument measures request rate, latency and in-flight count. It must run
// inside the chi router so that the matched route pattern is available.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// GuardMetrics records authorization decisions and token store behaviour.
type GuardMetrics struct {
	decisions     *prometheus.CounterVec
	lookupLatency *prometheus.HistogramVec
	lookupRetries prometheus.Counter
}

// NewGuardMetrics builds the guard collectors and registers them with reg.
func NewGuardMetrics(reg prometheus.Registerer) *GuardMetrics {
	m := &GuardMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokengate_guard_decisions_total",
			Help: "Authorization decisions by outcome and kind.",
		}, []string{"outcome", "kind"}),
		lookupLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokengate_token_store_lookup_seconds",
			Help:    "Token store lookup latency in seconds.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"result"}),
		lookupRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokengate_token_store_retries_total",
			Help: "Token store lookups retried after a transient failure.",
		}),
	}
	reg.MustRegister(m.decisions, m.lookupLatency, m.lookupRetries)
	return m
}

// ObserveDecision counts one guard decision.
func (m *GuardMetrics) ObserveDecision(outcome, kind string) {
	if kind == "" {
		kind = "none"
	}
	m.decisions.WithLabelValues(outcome, kind).Inc()
}

// ObserveLookup records the latency of a single store lookup attempt.
func (m *GuardMetrics) ObserveLookup(d time.Duration, result string) {
	m.lookupLatency.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveRetry counts a retried store lookup.
func (m *GuardMetrics) ObserveRetry() {
	m.lookupRetries.Inc()
}
