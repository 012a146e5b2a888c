package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRevocationsExpireWithToken(t *testing.T) {
	mr, client := newTestRedis(t)
	r := NewRevocations(client)
	ctx := context.Background()

	err := r.Revoke(ctx, auth.RevocationEntry{Key: "k1", TenantID: "t1", ExpiresAt: time.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ok, err := r.IsRevoked(ctx, "k1"); err != nil || !ok {
		t.Fatalf("IsRevoked = %v, %v", ok, err)
	}
	if ok, _ := r.IsRevoked(ctx, "k2"); ok {
		t.Fatalf("unknown key reported revoked")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := r.IsRevoked(ctx, "k1"); ok {
		t.Fatalf("entry must expire with the token")
	}
}

func TestRevokeKeepsLongerExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	r := NewRevocations(client)
	ctx := context.Background()

	_ = r.Revoke(ctx, auth.RevocationEntry{Key: "k1", ExpiresAt: time.Now().Add(time.Hour)})
	_ = r.Revoke(ctx, auth.RevocationEntry{Key: "k1", ExpiresAt: time.Now().Add(time.Minute)})

	if ttl := mr.TTL(revokedPrefix + "k1"); ttl < 30*time.Minute {
		t.Fatalf("expected the longer ttl to win, got %v", ttl)
	}
}

func TestRevokeIgnoresExpiredTokens(t *testing.T) {
	mr, client := newTestRedis(t)
	r := NewRevocations(client)
	if err := r.Revoke(context.Background(), auth.RevocationEntry{Key: "old", ExpiresAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if mr.Exists(revokedPrefix + "old") {
		t.Fatalf("expired token must not be stored")
	}
}

func TestRevocationsFailWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRevocations(client)

	if _, err := r.IsRevoked(context.Background(), "k1"); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func TestClaimFirstWriterWins(t *testing.T) {
	mr, client := newTestRedis(t)
	r := NewRevocations(client)
	ctx := context.Background()
	entry := auth.RevocationEntry{Key: "preauth", TenantID: "t1", ExpiresAt: time.Now().Add(time.Minute)}

	if ok, err := r.Claim(ctx, entry); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	if ok, err := r.Claim(ctx, entry); err != nil || ok {
		t.Fatalf("second Claim = %v, %v", ok, err)
	}
	if ok, _ := r.IsRevoked(ctx, "preauth"); !ok {
		t.Fatalf("claimed key must read as revoked")
	}
	if ttl := mr.TTL(revokedPrefix + "preauth"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestAttemptLimiter(t *testing.T) {
	mr, client := newTestRedis(t)
	l := NewAttemptLimiter(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, err := l.Acquire(ctx, "t1:u1"); err != nil || !ok {
			t.Fatalf("attempt %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, err := l.Acquire(ctx, "t1:u1"); err != nil || ok {
		t.Fatalf("expected limit, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL(attemptPrefix + "t1:u1"); ttl <= 0 {
		t.Fatalf("counter must carry an expiry, got %v", ttl)
	}
	if ok, _ := l.Acquire(ctx, "t1:u2"); !ok {
		t.Fatalf("other subject must not be limited")
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := l.Acquire(ctx, "t1:u1"); !ok {
		t.Fatalf("expected cooldown to reset the counter")
	}

	if err := l.Reset(ctx, "t1:u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if mr.Exists(attemptPrefix + "t1:u1") {
		t.Fatalf("expected counter removed")
	}
}

func TestAttemptLimiterHoldsUnderConcurrency(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewAttemptLimiter(client, 3, time.Minute)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := l.Acquire(context.Background(), "t1:u1"); err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts within the limit, got %d", got)
	}
}
