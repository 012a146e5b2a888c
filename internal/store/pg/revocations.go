package pg

import (
	"context"
	"errors"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
)

// Revocations is the access-token blacklist in token_blacklist. The table is
// global: it is consulted before a tenant is trusted.
type Revocations struct {
	store *Store
}

var _ auth.RevocationStore = (*Revocations)(nil)

func (s *Store) Revocations() *Revocations { return &Revocations{store: s} }

// Revoke upserts entry. A repeated revocation keeps the later expiry.
func (r *Revocations) Revoke(ctx context.Context, entry auth.RevocationEntry) error {
	if r.store.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := r.store.db.ExecContext(ctx, `
		insert into token_blacklist (token_key, token_id, tenant_id, user_id, expires_at, revoked_at)
		values ($1, $2, $3, $4, $5, now())
		on conflict (token_key) do update
		set expires_at = greatest(token_blacklist.expires_at, excluded.expires_at)
	`, entry.Key, nullIfEmpty(entry.TokenID), nullIfEmpty(entry.TenantID), nullIfEmpty(entry.UserID), entry.ExpiresAt)
	return translate(err)
}

func (r *Revocations) IsRevoked(ctx context.Context, key string) (bool, error) {
	if r.store.db == nil {
		return false, errors.New("database connection unavailable")
	}
	var revoked bool
	err := r.store.db.QueryRowContext(ctx, `
		select exists(select 1 from token_blacklist where token_key = $1 and expires_at > now())
	`, key).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// Claim inserts entry unless a live row holds the key. An expired row that
// the sweep has not removed yet is taken over.
func (r *Revocations) Claim(ctx context.Context, entry auth.RevocationEntry) (bool, error) {
	if r.store.db == nil {
		return false, errors.New("database connection unavailable")
	}
	n, err := affected(r.store.db.ExecContext(ctx, `
		insert into token_blacklist (token_key, token_id, tenant_id, user_id, expires_at, revoked_at)
		values ($1, $2, $3, $4, $5, now())
		on conflict (token_key) do update
		set token_id = excluded.token_id, tenant_id = excluded.tenant_id, user_id = excluded.user_id,
		    expires_at = excluded.expires_at, revoked_at = excluded.revoked_at
		where token_blacklist.expires_at <= now()
	`, entry.Key, nullIfEmpty(entry.TokenID), nullIfEmpty(entry.TenantID), nullIfEmpty(entry.UserID), entry.ExpiresAt))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Revocations) SweepExpired(ctx context.Context) (int64, error) {
	if r.store.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	return affected(r.store.db.ExecContext(ctx, `delete from token_blacklist where expires_at <= now()`))
}
