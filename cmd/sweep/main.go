// Command sweep runs one maintenance sweep and prints the per-kind counts.
//
// Tokens and sessions are swept across tenants, so the connection must use a
// role that bypasses row-level security: database.maintenance_dsn when set,
// database.dsn otherwise.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/config"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/maintenance"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/store/pg"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/store/redisstore"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall sweep deadline")
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

	dsn := cfg.Database.MaintenanceDSN
	if dsn == "" {
		dsn = cfg.Database.DSN
	}
	if dsn == "" {
		logger.Fatal("database.dsn or database.maintenance_dsn is required")
	}
	store, err := pg.Open(dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		logger.Fatal("open postgres", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	var revocations auth.RevocationStore = store.Revocations()
	if cfg.Revocation.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		revocations = redisstore.NewRevocations(rdb)
	}

	sweeper := maintenance.New(revocations,
		maintenance.WithTokens(store),
		maintenance.WithRetention(cfg.Maintenance.Retention),
		maintenance.WithLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	res, err := sweeper.Sweep(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if err != nil {
		logger.Error("sweep failed", zap.Error(err))
		os.Exit(1)
	}
}
