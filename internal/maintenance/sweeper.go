// Package maintenance removes security state that can no longer matter:
// blacklist entries past their token's expiry, expired refresh tokens and
// revoked sessions nothing points at any more.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
)

// TokenSweeper deletes refresh-token state older than cutoff and reports how
// many tokens and sessions went.
type TokenSweeper interface {
	SweepRefreshTokens(ctx context.Context, cutoff time.Time) (tokens, sessions int64, err error)
}

// Result counts the rows one sweep removed.
type Result struct {
	Revocations   int64 `json:"revocations"`
	RefreshTokens int64 `json:"refresh_tokens"`
	Sessions      int64 `json:"sessions"`
}

type Sweeper struct {
	revocations auth.RevocationStore
	tokens      TokenSweeper
	retention   time.Duration
	logger      *zap.Logger
	metrics     *obs.Metrics
	now         func() time.Time
}

type Option func(*Sweeper)

// WithTokens also sweeps refresh tokens and revoked sessions.
func WithTokens(t TokenSweeper) Option {
	return func(s *Sweeper) { s.tokens = t }
}

// WithRetention keeps expired refresh tokens around for d after expiry, so
// replays of recently expired tokens can still be told apart from garbage.
func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.retention = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func New(revocations auth.RevocationStore, opts ...Option) *Sweeper {
	s := &Sweeper{
		revocations: revocations,
		retention:   24 * time.Hour,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs every configured step. A failing step does not stop the others;
// their errors are joined.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)
	if s.revocations != nil {
		n, err := s.revocations.SweepExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep revocations: %w", err))
		}
		res.Revocations = n
		s.metrics.Swept("revocations", n)
	}
	if s.tokens != nil {
		cutoff := s.now().UTC().Add(-s.retention)
		tokens, sessions, err := s.tokens.SweepRefreshTokens(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep refresh tokens: %w", err))
		}
		res.RefreshTokens, res.Sessions = tokens, sessions
		s.metrics.Swept("refresh_tokens", tokens)
		s.metrics.Swept("sessions", sessions)
	}

	err := errors.Join(errs...)
	fields := []zap.Field{
		zap.Int64("revocations", res.Revocations),
		zap.Int64("refresh_tokens", res.RefreshTokens),
		zap.Int64("sessions", res.Sessions),
	}
	if err != nil {
		s.logger.Warn("maintenance sweep failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("maintenance sweep done", fields...)
	}
	return res, err
}

// Start sweeps every interval until the returned stop function is called.
func (s *Sweeper) Start(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Sweep(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
