package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

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
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Authorization metrics.
var (
	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_resolutions_total",
			Help: "Permission resolutions by resulting tier.",
		},
		[]string{"tier"},
	)

	decisionCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decision_cache_total",
			Help: "Decision cache lookups by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers every metric in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		ready,
		resolutionsTotal,
		decisionCacheTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(v bool) {
	if v {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// ObserveResolution counts a completed permission resolution.
func ObserveResolution(tier string) {
	resolutionsTotal.WithLabelValues(tier).Inc()
}

// DecisionCacheHit counts a fresh cache hit.
func DecisionCacheHit() {
	decisionCacheTotal.WithLabelValues("hit").Inc()
}

// DecisionCacheMiss counts a miss or stale entry.
func DecisionCacheMiss() {
	decisionCacheTotal.WithLabelValues("miss").Inc()
}

// Instrument wraps the handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric labels stay
// low-cardinality.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "groups":
			// /v1/groups/:id[/permissions|/members[/:member_id]]
			parts[2] = ":id"
			if len(parts) == 5 && parts[3] == "members" {
				parts[4] = ":member_id"
			}
			if len(parts) <= 5 {
				return "/" + strings.Join(parts, "/")
			}
		case "organizations":
			// /v1/organizations/:id[/groups|/access]
			if len(parts) <= 4 {
				parts[2] = ":id"
				return "/" + strings.Join(parts, "/")
			}
		}
	}
	return path
}

// statusWriter records the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
