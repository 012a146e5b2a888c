package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
)

// Unknown kids trigger at most one refetch per window.
const unknownKIDRefresh = 30 * time.Second

// JWKS keeps an identity provider's signing keys. keyfunc refreshes the set in
// the background every TTL and on an unknown kid, rate limited.
type JWKS struct {
	kf     keyfunc.Keyfunc
	cancel context.CancelFunc
}

type jwksConfig struct {
	client  *http.Client
	ttl     time.Duration
	metrics *obs.Metrics
	logger  *zap.Logger
}

type JWKSOption func(*jwksConfig)

func WithJWKSClient(client *http.Client) JWKSOption {
	return func(c *jwksConfig) {
		if client != nil {
			c.client = client
		}
	}
}

func WithJWKSTTL(ttl time.Duration) JWKSOption {
	return func(c *jwksConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithJWKSMetrics(m *obs.Metrics) JWKSOption {
	return func(c *jwksConfig) { c.metrics = m }
}

func WithJWKSLogger(l *zap.Logger) JWKSOption {
	return func(c *jwksConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewJWKS starts watching url. timeout bounds every fetch. A provider that is
// down at startup is not an error: lookups fail until a refresh succeeds.
func NewJWKS(url string, timeout time.Duration, opts ...JWKSOption) (*JWKS, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cfg := jwksConfig{ttl: 10 * time.Minute, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	client := &http.Client{}
	if cfg.client != nil {
		clone := *cfg.client
		client = &clone
	}
	client.Timeout = timeout
	client.Transport = countingTransport{next: client.Transport, metrics: cfg.metrics}

	onRefreshError := func(u string) func(context.Context, error) {
		return func(_ context.Context, err error) {
			cfg.logger.Warn("jwks refresh failed", zap.String("url", u), zap.Error(err))
		}
	}

	// Фоновое обновление живёт до Close, а не до первого запроса.
	ctx, cancel := context.WithCancel(context.Background())
	kf, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{url}, keyfunc.Override{
		Client:                  client,
		HTTPTimeout:             timeout,
		RefreshInterval:         cfg.ttl,
		RefreshUnknownKID:       rate.NewLimiter(rate.Every(unknownKIDRefresh), 1),
		RateLimitWaitMax:        timeout,
		RefreshErrorHandlerFunc: onRefreshError,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("jwks %s: %w", url, err)
	}
	return &JWKS{kf: kf, cancel: cancel}, nil
}

// Close stops the background refresh.
func (j *JWKS) Close() {
	if j != nil && j.cancel != nil {
		j.cancel()
	}
}

// Keyfunc resolves the verification key for a token. A cancelled caller does
// not abort a refresh other callers may be waiting on; the HTTP timeout still
// bounds it. Every failure is ErrKeyUnavailable.
func (j *JWKS) Keyfunc(ctx context.Context) jwt.Keyfunc {
	inner := j.kf.KeyfuncCtx(context.WithoutCancel(ctx))
	return func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid == "" {
			return nil, fmt.Errorf("%w: token has no kid", ErrKeyUnavailable)
		}
		key, err := inner(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		return key, nil
	}
}

// countingTransport records JWKS fetch outcomes.
type countingTransport struct {
	next    http.RoundTripper
	metrics *obs.Metrics
}

func (t countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	switch {
	case err != nil:
		t.metrics.JWKSFetch("error")
	case resp.StatusCode != http.StatusOK:
		t.metrics.JWKSFetch("error")
	default:
		t.metrics.JWKSFetch("ok")
	}
	return resp, err
}
