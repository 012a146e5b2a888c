package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
)

func principal(t *testing.T, h *harness, pair *auth.TokenPair) auth.Principal {
	t.Helper()
	p, err := h.svc.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return p
}

func TestListSessionsShowsOnlyOwnLiveSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a1 := h.login(t, "alice@example.com")
	a2 := h.login(t, "alice@example.com")
	h.login(t, "bob@example.com")

	alice := principal(t, h, a1)
	sessions, err := h.svc.ListSessions(ctx, alice)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.UserID != "user-alice" || s.TenantID != tenantA {
			t.Fatalf("foreign session listed: %+v", s)
		}
	}

	if err := h.svc.RevokeSession(ctx, alice, a2.SessionID, auth.ClientInfo{}); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	sessions, _ = h.svc.ListSessions(ctx, alice)
	if len(sessions) != 1 || sessions[0].ID != a1.SessionID {
		t.Fatalf("expected only %s left, got %+v", a1.SessionID, sessions)
	}
	if _, err := h.svc.Refresh(ctx, a2.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("refresh on revoked session must fail, got %v", err)
	}
}

func TestRevokeSessionOfAnotherUserIsNotFound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alicePair := h.login(t, "alice@example.com")
	bob := principal(t, h, h.login(t, "bob@example.com"))

	err := h.svc.RevokeSession(ctx, bob, alicePair.SessionID, auth.ClientInfo{})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if sess, _ := h.store.Session(alicePair.SessionID); sess.Revoked {
		t.Fatalf("session of another user was revoked")
	}
	for _, id := range []string{"not-a-uuid", "6f0e4b8c-0000-4000-8000-000000000000"} {
		if err := h.svc.RevokeSession(ctx, bob, id, auth.ClientInfo{}); !errors.Is(err, auth.ErrNotFound) {
			t.Fatalf("RevokeSession(%q): expected not found, got %v", id, err)
		}
	}
}

func TestRevokeAllSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.login(t, "alice@example.com")
	second := h.login(t, "alice@example.com")
	bobPair := h.login(t, "bob@example.com")

	n, err := h.svc.RevokeAllSessions(ctx, principal(t, h, first), auth.ClientInfo{})
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	for _, pair := range []*auth.TokenPair{first, second} {
		if _, err := h.svc.Refresh(ctx, pair.RefreshToken, auth.ClientInfo{}); !errors.Is(err, auth.ErrUnauthenticated) {
			t.Fatalf("expected refresh to fail after revoke-all, got %v", err)
		}
	}
	if _, err := h.svc.Refresh(ctx, bobPair.RefreshToken, auth.ClientInfo{}); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
}

func TestRefreshStopsWhenMembershipSuspended(t *testing.T) {
	h := newHarness(t)
	pair := h.login(t, "alice@example.com")
	h.store.SetMembershipStatus("mem-alice", auth.MembershipDeactivated)

	_, err := h.svc.Refresh(context.Background(), pair.RefreshToken, auth.ClientInfo{})
	if !errors.Is(err, auth.ErrUnauthenticated) || auth.Reason(err) != auth.ReasonMembershipInactive {
		t.Fatalf("expected inactive membership, got %v", err)
	}
}

func TestRefreshTokenTenant(t *testing.T) {
	got, err := auth.RefreshTokenTenant(" " + tenantA + ".c2VjcmV0 ")
	if err != nil || got != tenantA {
		t.Fatalf("RefreshTokenTenant = %q, %v", got, err)
	}
	if _, err := auth.RefreshTokenTenant(tenantA + "."); !errors.Is(err, auth.ErrRefreshNotFound) {
		t.Fatalf("expected not found for empty secret, got %v", err)
	}
}
