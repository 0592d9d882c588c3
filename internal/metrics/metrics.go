package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the service collectors
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "extralife",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extralife",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extralife",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	policiesActivated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "extralife",
			Name:      "policies_activated_total",
			Help:      "Policies promoted from pending to active.",
		},
	)

	sweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "extralife",
			Name:      "activation_sweep_errors_total",
			Help:      "Activation sweep ticks that failed.",
		},
	)

	payouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extralife",
			Name:      "payouts_total",
			Help:      "Claim payouts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		policiesActivated,
		sweepErrors,
		payouts,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// PoliciesActivated adds n activations
func PoliciesActivated(n int) {
	if n > 0 {
		policiesActivated.Add(float64(n))
	}
}

// SweepFailed counts one failed tick
func SweepFailed() {
	sweepErrors.Inc()
}

// Payout counts one payout attempt by result ("success" or "failure")
func Payout(result string) {
	payouts.WithLabelValues(result).Inc()
}

// Instrument wraps a handler with request metrics. route maps a request to
// a low-cardinality label, usually its route template.
func Instrument(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			httpInFlight.Inc()
			defer httpInFlight.Dec()

			next.ServeHTTP(rec, r)

			label := route(r)
			if label == "" {
				label = "unmatched"
			}
			method := strings.ToUpper(r.Method)
			httpRequests.WithLabelValues(method, label, strconv.Itoa(rec.status)).Inc()
			httpDuration.WithLabelValues(method, label).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
