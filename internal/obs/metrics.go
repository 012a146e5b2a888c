package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing, which keeps tests and library callers free of
// registration concerns.
type Metrics struct {
	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	authAttempts     *prometheus.CounterVec
	revocationChecks *prometheus.CounterVec
	jwksFetches      *prometheus.CounterVec
	auditDropped     prometheus.Counter
	auditFailed      prometheus.Counter
	sweptRows        *prometheus.CounterVec
	buildInfo        *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication flow outcomes by flow and internal reason.",
		}, []string{"flow", "outcome", "reason"}),
		revocationChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_revocation_checks_total",
			Help: "Revocation store lookups by result.",
		}, []string{"result"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_jwks_fetches_total",
			Help: "JWKS refreshes against the external identity provider.",
		}, []string{"result"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped because the dispatcher buffer was full.",
		}),
		auditFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_events_failed_total",
			Help: "Audit events that a sink failed to persist.",
		}),
		sweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maintenance_swept_rows_total",
			Help: "Rows deleted by the maintenance sweep.",
		}, []string{"kind"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "IAM service build information.",
		}, []string{"version", "commit"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
			m.authAttempts, m.revocationChecks, m.jwksFetches,
			m.auditDropped, m.auditFailed, m.sweptRows, m.buildInfo,
		)
	}
	return m
}

// Handler exposes the gatherer in Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// AuthAttempt records an authentication outcome. reason is empty on success.
func (m *Metrics) AuthAttempt(flow, outcome, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.authAttempts.WithLabelValues(flow, outcome, reason).Inc()
}

func (m *Metrics) RevocationCheck(result string) {
	if m == nil {
		return
	}
	m.revocationChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) JWKSFetch(result string) {
	if m == nil {
		return
	}
	m.jwksFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailed.Inc()
}

func (m *Metrics) Swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptRows.WithLabelValues(kind).Add(float64(n))
}

// Instrument wraps next with RPS, latency and in-flight tracking.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := canonicalMethod(r.Method)

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// routeLabels lists every path the API serves. Anything else is "other" so a
// scanner cannot grow the label set.
var routeLabels = map[string]struct{}{
	"/healthz":                 {},
	"/readyz":                  {},
	"/metrics":                 {},
	"/auth/login":              {},
	"/auth/mfa/verify":         {},
	"/auth/refresh":            {},
	"/auth/logout":             {},
	"/auth/me":                 {},
	"/auth/sessions":           {},
	"/auth/mfa/enroll":         {},
	"/auth/mfa/confirm":        {},
	"/admin/maintenance/sweep": {},
}

const otherRoute = "other"

// CanonicalPath maps a request path to a bounded route label.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		path = "/"
	}
	if _, ok := routeLabels[path]; ok {
		return path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 3 && parts[0] == "auth" && parts[1] == "sessions" && parts[2] != "" {
		return "/auth/sessions/:id"
	}
	return otherRoute
}

func canonicalMethod(m string) string {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return m
	}
	return otherRoute
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
