package tenancy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SettingName is the transaction-local setting RLS policies compare against:
//
//	tenant_id = current_setting('app.current_tenant_id', true)::uuid
const SettingName = "app.current_tenant_id"

const bindQuery = `select set_config('app.current_tenant_id', $1, true)`

// Beginner is satisfied by *sql.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Scope is a transaction whose tenant context has been bound. The setting is
// transaction-local, so commit or rollback clears it before the connection
// goes back to the pool. The underlying *sql.Tx is not exposed.
type Scope struct {
	tx       *sql.Tx
	tenantID string
	done     bool
}

// Begin opens a transaction and binds tenantID inside it. On any bind failure
// the transaction is rolled back and no Scope is returned.
func Begin(ctx context.Context, db Beginner, tenantID string, opts *sql.TxOptions) (*Scope, error) {
	id, err := Normalize(tenantID)
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("tenancy: begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bindQuery, id); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("tenancy: bind tenant context: %w", err)
	}
	return &Scope{tx: tx, tenantID: id}, nil
}

// TenantID returns the tenant bound to this scope.
func (s *Scope) TenantID() string { return s.tenantID }

func (s *Scope) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *Scope) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *Scope) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

// Commit commits the transaction. The scope is unusable afterwards.
func (s *Scope) Commit() error {
	if s.done {
		return sql.ErrTxDone
	}
	s.done = true
	return s.tx.Commit()
}

// Release rolls back unless the scope was already committed. It is safe to
// defer unconditionally.
func (s *Scope) Release() error {
	if s == nil || s.done {
		return nil
	}
	s.done = true
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// Run executes fn inside a tenant scope, committing when fn returns nil.
func Run(ctx context.Context, db Beginner, tenantID string, opts *sql.TxOptions, fn func(*Scope) error) error {
	scope, err := Begin(ctx, db, tenantID, opts)
	if err != nil {
		return err
	}
	defer func() { _ = scope.Release() }()

	if err := fn(scope); err != nil {
		return err
	}
	return scope.Commit()
}
