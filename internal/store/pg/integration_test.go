//go:build integration

package pg

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

// IAM_TEST_PG_DSN must point at a scratch database and connect as a role
// without SUPERUSER or BYPASSRLS, otherwise the policies are not applied.
func openIntegration(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("IAM_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("IAM_TEST_PG_DSN not set")
	}
	store, err := Open(dsn, PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	schema, err := os.ReadFile("testdata/schema.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := store.DB().ExecContext(context.Background(), string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return store
}

func seedMembership(t *testing.T, store *Store, tenantID, userID, membershipID, email string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.DB().ExecContext(ctx, `
		insert into users (user_id, email, password_hash) values ($1, $2, 'x')
		on conflict (user_id) do nothing
	`, userID, email); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	err := tenancy.Run(ctx, store.DB(), tenantID, nil, func(scope *tenancy.Scope) error {
		_, err := scope.ExecContext(ctx, `
			insert into user_tenants (user_tenant_id, tenant_id, user_id, email, status)
			values ($1, $2, $3, $4, 'active')
		`, membershipID, tenantID, userID, email)
		return err
	})
	if err != nil {
		t.Fatalf("seed membership: %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	store := openIntegration(t)
	ctx := context.Background()

	tenantA, tenantB := uuid.NewString(), uuid.NewString()
	userID, membershipID := uuid.NewString(), uuid.NewString()
	email := userID + "@example.com"
	seedMembership(t, store, tenantA, userID, membershipID, email)

	sessionID := uuid.NewString()
	now := time.Now().UTC()
	err := store.InTenant(ctx, tenantA, func(tx auth.TenantTx) error {
		if _, err := tx.FindLoginMembership(ctx, email); err != nil {
			return err
		}
		return tx.CreateSession(ctx, auth.Session{
			ID: sessionID, MembershipID: membershipID, UserID: userID, CreatedAt: now, LastSeenAt: now,
		})
	})
	if err != nil {
		t.Fatalf("tenant A: %v", err)
	}

	err = store.InTenant(ctx, tenantB, func(tx auth.TenantTx) error {
		if _, err := tx.FindLoginMembership(ctx, email); !errors.Is(err, auth.ErrNotFound) {
			t.Errorf("membership of A visible from B: %v", err)
		}
		if _, err := tx.SessionOwner(ctx, sessionID); !errors.Is(err, auth.ErrNotFound) {
			t.Errorf("session of A visible from B: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tenant B: %v", err)
	}

	var n int
	if err := store.DB().QueryRowContext(ctx, `select count(*) from sessions where session_id = $1`, sessionID).Scan(&n); err != nil {
		t.Fatalf("unscoped count: %v", err)
	}
	if n != 0 {
		t.Fatalf("session visible without a bound tenant")
	}
}
