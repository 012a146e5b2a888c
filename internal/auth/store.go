package auth

import (
	"context"
	"time"
)

// Store opens tenant-scoped units of work. Implementations must bind tenantID
// to the storage session inside the same transaction fn runs in, commit when
// fn returns nil and roll back otherwise.
type Store interface {
	InTenant(ctx context.Context, tenantID string, fn func(tx TenantTx) error) error
}

// TenantTx is the set of tenant-scoped operations available inside InTenant.
// Lookups that find nothing return ErrNotFound.
type TenantTx interface {
	TenantID() string

	FindLoginMembership(ctx context.Context, email string) (LoginRecord, error)
	FindMembershipByUser(ctx context.Context, userID string) (LoginRecord, error)

	CreateSession(ctx context.Context, s Session) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	SessionOwner(ctx context.Context, sessionID string) (string, error)
	// RevokeSession revokes the session and every refresh token it owns.
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeMembershipSessions(ctx context.Context, membershipID string) (int64, error)

	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	// LockRefreshToken loads the token by hash and holds a row lock on it until
	// the transaction ends.
	LockRefreshToken(ctx context.Context, tokenHash string) (RefreshRecord, error)
	RevokeRefreshToken(ctx context.Context, tokenID string) error

	EffectivePermissions(ctx context.Context, userID string) ([]string, error)

	MFASecret(ctx context.Context, userID string) (MFASecret, error)
	SaveMFASecret(ctx context.Context, s MFASecret) error
	ConfirmMFASecret(ctx context.Context, userID string) error
}

// RevocationStore records blacklisted access tokens. It is global, not tenant
// scoped: lookups happen before the tenant is trusted.
type RevocationStore interface {
	// Revoke is an idempotent upsert keyed by entry.Key.
	Revoke(ctx context.Context, entry RevocationEntry) error
	IsRevoked(ctx context.Context, key string) (bool, error)
	// Claim inserts entry only if no live entry exists for entry.Key and
	// reports whether this call inserted it. Two concurrent claims of the same
	// key never both succeed.
	Claim(ctx context.Context, entry RevocationEntry) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// AttemptLimiter bounds MFA verifications per subject. Every attempt is
// counted before the code is checked; a successful one calls Reset.
type AttemptLimiter interface {
	// Acquire counts one attempt and reports whether it is within the limit.
	Acquire(ctx context.Context, subject string) (bool, error)
	Reset(ctx context.Context, subject string) error
}
