package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "other",
		"/":                       "other",
		"/metrics":                "/metrics",
		"/auth/sessions":          "/auth/sessions",
		"/auth/sessions/abc":      "/auth/sessions/:id",
		"/auth/sessions/abc/more": "other",
		"/auth/login?next=1":      "/auth/login",
		"/wp-admin/setup.php":     "other",
		"/auth/login/":            "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/sessions/01ABC", nil))

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/auth/sessions/:id", "418"))
	if got != 1 {
		t.Fatalf("expected 1 request counted, got %v", got)
	}
}

func TestInstrumentBucketsUnknownPaths(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := m.Instrument(http.NotFoundHandler())
	for _, p := range []string{"/a", "/b/c", "/.env", "/auth/sessions/x/y"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "other", "404")); got != 4 {
		t.Fatalf("expected 4 requests under other, got %v", got)
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("BREW", "/a", nil))
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("other", "other", "404")); got != 1 {
		t.Fatalf("expected unknown method bucketed, got %v", got)
	}
	if got := testutil.CollectAndCount(m.httpRequestsTotal); got != 2 {
		t.Fatalf("expected two series, got %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AuthAttempt("login", "failure", "bad_credentials")
	m.RevocationCheck("hit")
	m.Swept("revocations", 3)
	if h := m.Instrument(http.NotFoundHandler()); h == nil {
		t.Fatalf("expected passthrough handler")
	}
}

func TestAuthAttemptDefaultsReason(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AuthAttempt("login", "success", "")
	if got := testutil.ToFloat64(m.authAttempts.WithLabelValues("login", "success", "none")); got != 1 {
		t.Fatalf("expected reason none, got %v", got)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger("loud", "development"); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	logger, err := NewLogger("debug", "production")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if LoggerFromContext(WithLogger(t.Context(), logger), nil) != logger {
		t.Fatalf("expected logger from context")
	}
}
