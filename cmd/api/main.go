package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/audit"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/config"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/httpapi"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/maintenance"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/store/memstore"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/store/pg"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Log.Level, cfg.Log.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
}

type stores struct {
	auth        auth.Store
	revocations auth.RevocationStore
	tokens      maintenance.TokenSweeper
	pg          *pg.Store
	redis       *redis.Client
	closers     []func() error
}

func (s *stores) close(logger *zap.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

func openStores(cfg *config.Config, logger *zap.Logger) (*stores, error) {
	out := &stores{}
	pool := pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Подключение к БД, если задан DSN; иначе in-memory режим для разработки
	if cfg.Database.DSN != "" {
		store, err := pg.Open(cfg.Database.DSN, pool)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		out.pg = store
		out.auth = store
		out.tokens = store
		out.closers = append(out.closers, store.Close)

		if cfg.Database.MaintenanceDSN != "" {
			maint, err := pg.Open(cfg.Database.MaintenanceDSN, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
			if err != nil {
				out.close(logger)
				return nil, fmt.Errorf("open maintenance postgres: %w", err)
			}
			out.tokens = maint
			out.closers = append(out.closers, maint.Close)
		}
	} else {
		logger.Warn("database.dsn is empty, using the in-memory store; data is lost on restart")
		mem := memstore.New()
		out.auth = mem
		out.tokens = mem
	}

	if cfg.Redis.Addr != "" {
		out.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		out.closers = append(out.closers, out.redis.Close)
	}

	switch cfg.Revocation.Backend {
	case "postgres":
		if out.pg == nil {
			out.close(logger)
			return nil, errors.New("revocation.backend postgres requires database.dsn")
		}
		out.revocations = out.pg.Revocations()
	case "redis":
		out.revocations = redisstore.NewRevocations(out.redis)
	default:
		out.revocations = memstore.NewRevocations(nil)
	}
	return out, nil
}

func newCodec(cfg *config.Config, metrics *obs.Metrics, logger *zap.Logger) (auth.Codec, func(), error) {
	if cfg.Auth.Mode == "external" {
		keys, err := auth.NewJWKS(cfg.External.JWKSURL, cfg.External.Timeout,
			auth.WithJWKSTTL(cfg.External.CacheTTL),
			auth.WithJWKSMetrics(metrics),
			auth.WithJWKSLogger(logger.Named("jwks")),
		)
		if err != nil {
			return nil, nil, err
		}
		codec, err := auth.NewExternalCodec(keys, auth.ExternalConfig{
			Issuer:      cfg.External.Issuer,
			Audience:    cfg.External.Audience,
			TenantClaim: cfg.External.TenantClaim,
			Leeway:      30 * time.Second,
		})
		if err != nil {
			keys.Close()
			return nil, nil, err
		}
		return codec, keys.Close, nil
	}
	codec, err := auth.NewLocalCodec(cfg.Auth.Secret,
		auth.WithAlgorithm(cfg.Auth.Algorithm),
		auth.WithIssuer(cfg.Auth.Issuer),
	)
	return codec, func() {}, err
}

func newHasher(cfg *config.Config) *auth.Hasher {
	opts := []auth.HasherOption{auth.WithPepper(cfg.Auth.Pepper)}
	if cfg.Auth.PasswordAlgorithm == "bcrypt" {
		opts = append(opts, auth.WithBcrypt(cfg.Auth.BcryptCost))
	}
	return auth.NewHasher(opts...)
}

func run(cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	metrics.SetBuildInfo(version, commit)

	st, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer st.close(logger)

	codec, closeCodec, err := newCodec(cfg, metrics, logger)
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	defer closeCodec()

	sinks := []audit.Sink{audit.LogSink{Logger: logger.Named("audit")}}
	if st.pg != nil {
		sinks = append(sinks, st.pg.AuditSink())
	}
	auditor := audit.NewDispatcher(cfg.Audit.BufferSize, logger, metrics, sinks...)
	defer auditor.Close()

	var limiter auth.AttemptLimiter
	if st.redis != nil {
		limiter = redisstore.NewAttemptLimiter(st.redis, cfg.MFA.MaxAttempts, cfg.MFA.Cooldown)
	} else {
		limiter = memstore.NewAttempts(cfg.MFA.MaxAttempts, cfg.MFA.Cooldown, nil)
	}

	opts := []auth.ServiceOption{
		auth.WithHasher(newHasher(cfg)),
		auth.WithTOTP(auth.NewTOTP(cfg.MFA.Issuer, cfg.MFA.Skew, nil)),
		auth.WithAttemptLimiter(limiter),
		auth.WithAuditor(auditor),
		auth.WithLogger(logger.Named("auth")),
		auth.WithMetrics(metrics),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithPreAuthTTL(cfg.Auth.PreAuthTTL),
		auth.WithLogoutFallbackTTL(cfg.Auth.LogoutFallbackTTL),
		auth.WithEmbeddedPermissions(cfg.Auth.EmbedPermissions),
	}
	if cfg.MFA.EncryptionKey != "" {
		key, err := cfg.MFAKey()
		if err != nil {
			return err
		}
		opts = append(opts, auth.WithSecretSealer(auth.NewSecretSealer(key)))
	} else {
		logger.Warn("mfa.encryption_key is empty, MFA enrollment and verification are disabled")
	}
	svc, err := auth.NewService(st.auth, st.revocations, codec, opts...)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	sweeper := maintenance.New(st.revocations,
		maintenance.WithTokens(st.tokens),
		maintenance.WithRetention(cfg.Maintenance.Retention),
		maintenance.WithLogger(logger.Named("maintenance")),
		maintenance.WithMetrics(metrics),
	)
	if cfg.Maintenance.SweepInterval > 0 {
		stop := sweeper.Start(cfg.Maintenance.SweepInterval)
		defer stop()
	}

	ready := httpapi.Readiness{Redis: st.redis}
	if st.pg != nil {
		ready.DB = st.pg.DB()
	}

	trusted, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return fmt.Errorf("http.trusted_proxies: %w", err)
	}

	api := httpapi.New(svc,
		httpapi.WithReadiness(ready),
		httpapi.WithSweeper(sweeper),
		httpapi.WithMetrics(metrics, reg),
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateLimit.LoginBurst, float64(cfg.RateLimit.LoginPerSecond)),
		httpapi.WithTrustedProxies(trusted),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcStop func()
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer := httpapi.NewGRPCServer(svc, ready, logger.Named("grpc"))
		grpcStop = grpcServer.GracefulStop
		go func() {
			logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcStop != nil {
		grpcStop()
	}
	logger.Info("stopped")
	return runErr
}
