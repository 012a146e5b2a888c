package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/ids"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

// Rotation outcomes.
var (
	ErrRefreshExpired  = errors.New("refresh token expired")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshNotFound = errors.New("refresh token not found")
)

const refreshSecretBytes = 32

// SessionManager owns sessions and their refresh-token chains.
//
// Refresh tokens are "<tenant-id>.<secret>". The tenant prefix lets rotation
// open the right tenant scope before looking the token up; only the sha256 of
// the whole string is stored.
type SessionManager struct {
	store      Store
	refreshTTL time.Duration
	now        func() time.Time
}

func NewSessionManager(store Store, refreshTTL time.Duration, now func() time.Time) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: store, refreshTTL: refreshTTL, now: now}
}

// RotateResult is the successor of a consumed refresh token.
type RotateResult struct {
	RefreshToken string
	ExpiresAt    time.Time
	SessionID    string
	TenantID     string
	UserID       string
	MembershipID string
}

// CreateSession records a new login for membership inside tx.
func (m *SessionManager) CreateSession(ctx context.Context, tx TenantTx, membership Membership, client ClientInfo) (Session, error) {
	now := m.now().UTC()
	s := Session{
		ID:           uuid.NewString(),
		MembershipID: membership.ID,
		TenantID:     tx.TenantID(),
		UserID:       membership.UserID,
		IP:           client.IP,
		UserAgent:    truncate(client.UserAgent, 512),
		CreatedAt:    now,
		LastSeenAt:   now,
	}
	if err := tx.CreateSession(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// CreateRefreshToken mints a refresh token for sessionID and stores its hash.
func (m *SessionManager) CreateRefreshToken(ctx context.Context, tx TenantTx, sessionID string) (string, time.Time, error) {
	secret, err := ids.Secret(refreshSecretBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	raw := tx.TenantID() + "." + secret
	now := m.now().UTC()
	rt := RefreshToken{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TenantID:  tx.TenantID(),
		TokenHash: TokenHash(raw),
		ExpiresAt: now.Add(m.refreshTTL),
		CreatedAt: now,
	}
	if err := tx.CreateRefreshToken(ctx, rt); err != nil {
		return "", time.Time{}, err
	}
	return raw, rt.ExpiresAt, nil
}

// RefreshTokenTenant extracts the tenant prefix of a raw refresh token.
func RefreshTokenTenant(raw string) (string, error) {
	prefix, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || secret == "" {
		return "", ErrRefreshNotFound
	}
	tenantID, err := tenancy.Normalize(prefix)
	if err != nil {
		return "", ErrRefreshNotFound
	}
	return tenantID, nil
}

// Rotate consumes raw and issues its successor in one transaction. The token
// row is locked for the duration, so of two concurrent rotations exactly one
// succeeds; the other sees the token revoked.
//
// Presenting an already rotated token while its session is still live is a
// replay: the session and all of its tokens are revoked and the error kind is
// ErrConflict. Other failures are ErrUnauthenticated wrapping one of
// ErrRefreshExpired, ErrRefreshRevoked or ErrRefreshNotFound.
func (m *SessionManager) Rotate(ctx context.Context, raw string) (RotateResult, error) {
	raw = strings.TrimSpace(raw)
	tenantID, err := RefreshTokenTenant(raw)
	if err != nil {
		return RotateResult{}, newError(ErrUnauthenticated, ReasonRefreshNotFound, err)
	}

	var (
		res     RotateResult
		outcome error
	)
	err = m.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		rec, err := tx.LockRefreshToken(ctx, TokenHash(raw))
		if errors.Is(err, ErrNotFound) {
			outcome = newError(ErrUnauthenticated, ReasonRefreshNotFound, ErrRefreshNotFound)
			return nil
		}
		if err != nil {
			return err
		}

		now := m.now().UTC()
		switch {
		case !now.Before(rec.Token.ExpiresAt):
			outcome = newError(ErrUnauthenticated, ReasonRefreshExpired, ErrRefreshExpired)
			return nil
		case rec.Token.Revoked && !rec.SessionRevoked:
			if err := tx.RevokeSession(ctx, rec.Token.SessionID); err != nil {
				return err
			}
			outcome = newError(ErrConflict, ReasonRefreshReplay, ErrRefreshRevoked)
			return nil
		case rec.Token.Revoked || rec.SessionRevoked:
			outcome = newError(ErrUnauthenticated, ReasonRefreshRevoked, ErrRefreshRevoked)
			return nil
		case rec.MembershipStatus != MembershipActive:
			outcome = newError(ErrUnauthenticated, ReasonMembershipInactive, ErrRefreshRevoked)
			return nil
		}

		if err := tx.RevokeRefreshToken(ctx, rec.Token.ID); err != nil {
			return err
		}
		next, expiresAt, err := m.CreateRefreshToken(ctx, tx, rec.Token.SessionID)
		if err != nil {
			return err
		}
		if err := tx.TouchSession(ctx, rec.Token.SessionID, now); err != nil {
			return err
		}
		res = RotateResult{
			RefreshToken: next,
			ExpiresAt:    expiresAt,
			SessionID:    rec.Token.SessionID,
			TenantID:     tenantID,
			UserID:       rec.UserID,
			MembershipID: rec.MembershipID,
		}
		return nil
	})
	if err != nil {
		return RotateResult{}, storageError(err)
	}
	if outcome != nil {
		return RotateResult{}, outcome
	}
	return res, nil
}

// ListSessions returns the caller's live sessions in tenantID.
func (m *SessionManager) ListSessions(ctx context.Context, tenantID, userID string) ([]Session, error) {
	var out []Session
	err := m.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		var err error
		out, err = tx.ListSessions(ctx, userID)
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}
	return out, nil
}

// RevokeSession revokes sessionID if userID owns it. Sessions owned by someone
// else are reported as not found.
func (m *SessionManager) RevokeSession(ctx context.Context, tenantID, sessionID, userID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return newError(ErrNotFound, "", fmt.Errorf("session %q", sessionID))
	}
	err := m.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		owner, err := tx.SessionOwner(ctx, sessionID)
		if err != nil {
			return err
		}
		if owner != userID {
			return ErrNotFound
		}
		return tx.RevokeSession(ctx, sessionID)
	})
	return storageError(err)
}

// RevokeAll revokes every session of the caller's membership in tenantID.
func (m *SessionManager) RevokeAll(ctx context.Context, tenantID, userID string) (int64, error) {
	var n int64
	err := m.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		rec, err := tx.FindMembershipByUser(ctx, userID)
		if err != nil {
			return err
		}
		n, err = tx.RevokeMembershipSessions(ctx, rec.Membership.ID)
		return err
	})
	if err != nil {
		return 0, storageError(err)
	}
	return n, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
