package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/audit"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

const tenantID = "7b0c1f5e-3a43-4d55-9a4f-0c6f1c6d2a11"

var bindTenant = regexp.QuoteMeta("select set_config('app.current_tenant_id', $1, true)")

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectScope(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(bindTenant).WithArgs(tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindLoginMembershipBindsTenantFirst(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectQuery("from user_tenants ut").
		WithArgs(tenantID, "alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_tenant_id", "tenant_id", "user_id", "email", "tenant_role", "status", "persona",
			"u_email", "display_name", "password_hash", "password_updated_at", "email_verified", "mfa_enabled",
		}).AddRow("mem-1", tenantID, "user-1", "alice@example.com", "associate", "active", "",
			"alice@example.com", "Alice", "$argon2id$...", nil, true, true))
	mock.ExpectCommit()

	var rec auth.LoginRecord
	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		var err error
		rec, err = tx.FindLoginMembership(context.Background(), " Alice@Example.com")
		return err
	})
	if err != nil {
		t.Fatalf("InTenant: %v", err)
	}
	if rec.Membership.ID != "mem-1" || rec.User.ID != "user-1" || !rec.User.MFAEnabled || rec.Membership.Role != "associate" {
		t.Fatalf("unexpected record %+v", rec)
	}
	verify(t, mock)
}

func TestInTenantRejectsInvalidTenantWithoutTouchingDB(t *testing.T) {
	store, mock := newMock(t)
	err := store.InTenant(context.Background(), "acme", func(auth.TenantTx) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if !errors.Is(err, tenancy.ErrInvalidTenant) {
		t.Fatalf("expected invalid tenant, got %v", err)
	}
	verify(t, mock)
}

func TestLockRefreshTokenMissingRollsBack(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectQuery("from refresh_tokens rt.*for update of rt").
		WithArgs(tenantID, "hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"refresh_token_id"}))
	mock.ExpectRollback()

	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		_, err := tx.LockRefreshToken(context.Background(), "hash-1")
		return err
	})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	verify(t, mock)
}

func TestLockRefreshTokenScansJoinedState(t *testing.T) {
	store, mock := newMock(t)
	expires := time.Now().Add(time.Hour).UTC()
	created := time.Now().UTC()
	expectScope(mock)
	mock.ExpectQuery("from refresh_tokens rt.*for update of rt").
		WithArgs(tenantID, "hash-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"refresh_token_id", "session_id", "tenant_id", "token_hash", "expires_at", "revoked", "created_at",
			"session_revoked", "user_tenant_id", "user_id", "status",
		}).AddRow("rt-1", "sess-1", tenantID, "hash-1", expires, true, created, false, "mem-1", "user-1", "active"))
	mock.ExpectCommit()

	var rec auth.RefreshRecord
	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		var err error
		rec, err = tx.LockRefreshToken(context.Background(), "hash-1")
		return err
	})
	if err != nil {
		t.Fatalf("LockRefreshToken: %v", err)
	}
	if !rec.Token.Revoked || rec.SessionRevoked || rec.MembershipStatus != "active" || rec.UserID != "user-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	verify(t, mock)
}

func TestCreateSessionMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectExec("insert into sessions").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "sessions_pkey"})
	mock.ExpectRollback()

	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		return tx.CreateSession(context.Background(), auth.Session{ID: "sess-1", MembershipID: "mem-1", UserID: "user-1"})
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	verify(t, mock)
}

func TestRevokeSessionCascadesToTokens(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectExec("update sessions set revoked = true").
		WithArgs(tenantID, "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set revoked = true").
		WithArgs(tenantID, "sess-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		return tx.RevokeSession(context.Background(), "sess-1")
	})
	if err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	verify(t, mock)
}

func TestSaveMFASecretKeepsConfirmedSecret(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectExec("insert into mfa_methods").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		return tx.SaveMFASecret(context.Background(), auth.MFASecret{ID: "m1", UserID: "user-1", Sealed: []byte{1, 2}})
	})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	verify(t, mock)
}

func TestEffectivePermissions(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectQuery("with m as").
		WithArgs(tenantID, "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("documents.*").AddRow("matters.read"))
	mock.ExpectCommit()

	var keys []string
	err := store.InTenant(context.Background(), tenantID, func(tx auth.TenantTx) error {
		var err error
		keys, err = tx.EffectivePermissions(context.Background(), "user-1")
		return err
	})
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(keys) != 2 || keys[0] != "documents.*" {
		t.Fatalf("unexpected keys %v", keys)
	}
	verify(t, mock)
}

func TestRevocations(t *testing.T) {
	store, mock := newMock(t)
	revs := store.Revocations()
	exp := time.Now().Add(time.Minute).UTC()

	mock.ExpectExec("insert into token_blacklist").
		WithArgs("key-1", "jti-1", tenantID, "user-1", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select exists").WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("delete from token_blacklist").WillReturnResult(sqlmock.NewResult(0, 4))

	ctx := context.Background()
	if err := revs.Revoke(ctx, auth.RevocationEntry{Key: "key-1", TokenID: "jti-1", TenantID: tenantID, UserID: "user-1", ExpiresAt: exp}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err := revs.IsRevoked(ctx, "key-1")
	if err != nil || !revoked {
		t.Fatalf("IsRevoked = %v, %v", revoked, err)
	}
	n, err := revs.SweepExpired(ctx)
	if err != nil || n != 4 {
		t.Fatalf("SweepExpired = %d, %v", n, err)
	}
	verify(t, mock)
}

func TestClaimSucceedsOnlyForFirstCaller(t *testing.T) {
	store, mock := newMock(t)
	revs := store.Revocations()
	exp := time.Now().Add(5 * time.Minute).UTC()
	entry := auth.RevocationEntry{Key: "preauth-1", TokenID: "jti-9", TenantID: tenantID, UserID: "user-1", ExpiresAt: exp}

	claim := regexp.QuoteMeta("where token_blacklist.expires_at <= now()")
	mock.ExpectExec(claim).WithArgs("preauth-1", "jti-9", tenantID, "user-1", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs("preauth-1", "jti-9", tenantID, "user-1", exp).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := revs.Claim(ctx, entry); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	if ok, err := revs.Claim(ctx, entry); err != nil || ok {
		t.Fatalf("second Claim = %v, %v", ok, err)
	}
	verify(t, mock)
}

func TestIsRevokedPropagatesOutage(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select exists").WillReturnError(errors.New("conn reset"))

	if _, err := store.Revocations().IsRevoked(context.Background(), "key-1"); err == nil {
		t.Fatalf("expected error")
	}
	verify(t, mock)
}

func TestAuditSinkWritesInTenantScope(t *testing.T) {
	store, mock := newMock(t)
	expectScope(mock)
	mock.ExpectExec("insert into audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sink := store.AuditSink()
	err := sink.Write(context.Background(), audit.Event{
		Action:     "auth.login",
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Details:    map[string]any{"mfa": false},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Write(context.Background(), audit.Event{Action: "auth.login"}); err != nil {
		t.Fatalf("tenantless event must be skipped, got %v", err)
	}
	verify(t, mock)
}

func TestSweepRefreshTokens(t *testing.T) {
	store, mock := newMock(t)
	cutoff := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("delete from refresh_tokens").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec("delete from sessions").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	tokens, sessions, err := store.SweepRefreshTokens(context.Background(), cutoff)
	if err != nil || tokens != 7 || sessions != 2 {
		t.Fatalf("SweepRefreshTokens = %d, %d, %v", tokens, sessions, err)
	}
	verify(t, mock)
}
