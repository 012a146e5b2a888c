// Package redisstore keeps short-lived security state in Redis: the access
// token blacklist and MFA attempt counters. Keys expire on their own.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
)

const (
	revokedPrefix = "iam:revoked:"
	attemptPrefix = "iam:mfa_attempts:"
)

// Revocations stores blacklisted token keys with a TTL equal to the remaining
// token lifetime.
type Revocations struct {
	redis *redis.Client
	now   func() time.Time
}

var _ auth.RevocationStore = (*Revocations)(nil)

func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{redis: client, now: time.Now}
}

func (r *Revocations) Revoke(ctx context.Context, entry auth.RevocationEntry) error {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	key := revokedPrefix + entry.Key
	// Keep the longer expiry when revoked twice.
	current, err := r.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	if current > ttl {
		return nil
	}
	if err := r.redis.Set(ctx, key, entry.TenantID, ttl).Err(); err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	return nil
}

func (r *Revocations) IsRevoked(ctx context.Context, key string) (bool, error) {
	n, err := r.redis.Exists(ctx, revokedPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis revocation lookup: %w", err)
	}
	return n > 0, nil
}

// Claim stores entry with SET NX, so only the first caller wins.
func (r *Revocations) Claim(ctx context.Context, entry auth.RevocationEntry) (bool, error) {
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return false, nil
	}
	ok, err := r.redis.SetNX(ctx, revokedPrefix+entry.Key, entry.TenantID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim: %w", err)
	}
	return ok, nil
}

// SweepExpired is a no-op: Redis expires entries itself.
func (r *Revocations) SweepExpired(context.Context) (int64, error) { return 0, nil }

// AttemptLimiter counts MFA attempts per subject. The counter expires one
// cooldown after the latest attempt.
type AttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	cooldown    time.Duration
}

var _ auth.AttemptLimiter = (*AttemptLimiter)(nil)

func NewAttemptLimiter(client *redis.Client, maxAttempts int, cooldown time.Duration) *AttemptLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &AttemptLimiter{redis: client, maxAttempts: int64(maxAttempts), cooldown: cooldown}
}

// Acquire increments the counter and sets its expiry in one MULTI/EXEC, then
// decides on the returned count.
func (l *AttemptLimiter) Acquire(ctx context.Context, subject string) (bool, error) {
	key := attemptPrefix + subject
	var incr *redis.IntCmd
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.cooldown)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis attempts: %w", err)
	}
	return incr.Val() <= l.maxAttempts, nil
}

func (l *AttemptLimiter) Reset(ctx context.Context, subject string) error {
	if err := l.redis.Del(ctx, attemptPrefix+subject).Err(); err != nil {
		return fmt.Errorf("redis attempts: %w", err)
	}
	return nil
}
