package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/maintenance"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
)

const (
	serviceName  = "qlaws-iam"
	maxBodyBytes = 1 << 20
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Readiness проверяет готовность: ping БД и Redis, если они настроены.
type Readiness struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp Readiness) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	sweeper    *maintenance.Sweeper
	readiness  readinessChecker
	metrics    *obs.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	version    string

	rateBurst  int
	ratePerSec float64
	trusted    []netip.Prefix
}

// Option configures the API.
type Option func(*API)

func WithReadiness(rp readinessChecker) Option {
	return func(a *API) {
		if rp != nil {
			a.readiness = rp
		}
	}
}

func WithSweeper(s *maintenance.Sweeper) Option {
	return func(a *API) { a.sweeper = s }
}

// WithMetrics instruments every route and serves g on /metrics.
func WithMetrics(m *obs.Metrics, g prometheus.Gatherer) Option {
	return func(a *API) {
		a.metrics = m
		a.gatherer = g
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit sets the per-IP budget shared by login, MFA verification and
// refresh.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSecond
		}
	}
}

// WithTrustedProxies lists the reverse proxies whose X-Forwarded-For is
// believed. Without it the client IP is always the TCP peer.
func WithTrustedProxies(p []netip.Prefix) Option {
	return func(a *API) { a.trusted = p }
}

func New(svc *auth.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       svc,
		readiness:  Readiness{},
		logger:     zap.NewNop(),
		version:    "dev",
		rateBurst:  10,
		ratePerSec: 5,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler(a.gatherer))

	credentials := newIPLimiter(a.rateBurst, a.ratePerSec)
	a.mux.Handle("POST /auth/login", credentials.wrap(http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("POST /auth/mfa/verify", credentials.wrap(http.HandlerFunc(a.handleVerifyMFA)))
	a.mux.Handle("POST /auth/refresh", credentials.wrap(http.HandlerFunc(a.handleRefresh)))
	a.mux.HandleFunc("POST /auth/logout", a.handleLogout)

	a.mux.HandleFunc("GET /auth/me", a.handleMe)
	a.mux.HandleFunc("GET /auth/sessions", a.handleListSessions)
	a.mux.HandleFunc("DELETE /auth/sessions", a.handleRevokeAllSessions)
	a.mux.HandleFunc("DELETE /auth/sessions/{id}", a.handleRevokeSession)
	a.mux.HandleFunc("POST /auth/mfa/enroll", a.handleEnrollMFA)
	a.mux.HandleFunc("POST /auth/mfa/confirm", a.handleConfirmMFA)

	a.mux.HandleFunc("POST /admin/maintenance/sweep", a.handleSweep)

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = a.metrics.Instrument(h)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(a.logger)(h)
	h = ClientIP(a.trusted)(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		obs.LoggerFromContext(r.Context(), a.logger).Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
