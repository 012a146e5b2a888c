package pg

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

type tenantTx struct {
	scope *tenancy.Scope
}

var _ auth.TenantTx = (*tenantTx)(nil)

func (tx *tenantTx) TenantID() string { return tx.scope.TenantID() }

const loginRecordColumns = `
	ut.user_tenant_id, ut.tenant_id, ut.user_id, ut.email, coalesce(ut.tenant_role, ''), ut.status, coalesce(ut.persona, ''),
	u.email, coalesce(u.display_name, ''), u.password_hash, u.password_updated_at, u.email_verified,
	exists(
		select 1 from mfa_methods mm
		where mm.tenant_id = ut.tenant_id and mm.user_id = ut.user_id and mm.method_type = 'totp' and mm.confirmed
	)`

func scanLoginRecord(row *sql.Row) (auth.LoginRecord, error) {
	var (
		rec       auth.LoginRecord
		pwUpdated sql.NullTime
	)
	err := row.Scan(
		&rec.Membership.ID, &rec.Membership.TenantID, &rec.Membership.UserID, &rec.Membership.Email,
		&rec.Membership.Role, &rec.Membership.Status, &rec.Membership.Persona,
		&rec.User.Email, &rec.User.DisplayName, &rec.User.PasswordHash, &pwUpdated, &rec.User.EmailVerified,
		&rec.User.MFAEnabled,
	)
	if err != nil {
		return auth.LoginRecord{}, translate(err)
	}
	rec.User.ID = rec.Membership.UserID
	if pwUpdated.Valid {
		rec.User.PasswordUpdatedAt = pwUpdated.Time
	}
	return rec, nil
}

func (tx *tenantTx) FindLoginMembership(ctx context.Context, email string) (auth.LoginRecord, error) {
	row := tx.scope.QueryRowContext(ctx, `
		select `+loginRecordColumns+`
		from user_tenants ut
		join users u on u.user_id = ut.user_id
		where ut.tenant_id = $1 and (lower(ut.email) = $2 or lower(u.email) = $2)
		order by (lower(ut.email) = $2) desc
		limit 1
	`, tx.TenantID(), strings.ToLower(strings.TrimSpace(email)))
	return scanLoginRecord(row)
}

func (tx *tenantTx) FindMembershipByUser(ctx context.Context, userID string) (auth.LoginRecord, error) {
	row := tx.scope.QueryRowContext(ctx, `
		select `+loginRecordColumns+`
		from user_tenants ut
		join users u on u.user_id = ut.user_id
		where ut.tenant_id = $1 and ut.user_id = $2
	`, tx.TenantID(), userID)
	return scanLoginRecord(row)
}

func (tx *tenantTx) CreateSession(ctx context.Context, s auth.Session) error {
	_, err := tx.scope.ExecContext(ctx, `
		insert into sessions (session_id, user_tenant_id, tenant_id, user_id, ip_address, user_agent, created_at, last_seen_at, revoked)
		values ($1, $2, $3, $4, $5, $6, $7, $8, false)
	`, s.ID, s.MembershipID, tx.TenantID(), s.UserID, nullIfEmpty(s.IP), nullIfEmpty(s.UserAgent), s.CreatedAt, s.LastSeenAt)
	return translate(err)
}

func (tx *tenantTx) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	n, err := affected(tx.scope.ExecContext(ctx, `
		update sessions set last_seen_at = $3
		where tenant_id = $1 and session_id = $2
	`, tx.TenantID(), sessionID, at))
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (tx *tenantTx) ListSessions(ctx context.Context, userID string) ([]auth.Session, error) {
	rows, err := tx.scope.QueryContext(ctx, `
		select session_id, user_tenant_id, tenant_id, user_id, coalesce(ip_address, ''), coalesce(user_agent, ''), created_at, last_seen_at, revoked
		from sessions
		where tenant_id = $1 and user_id = $2 and not revoked
		order by created_at desc
	`, tx.TenantID(), userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []auth.Session
	for rows.Next() {
		var s auth.Session
		if err := rows.Scan(&s.ID, &s.MembershipID, &s.TenantID, &s.UserID, &s.IP, &s.UserAgent, &s.CreatedAt, &s.LastSeenAt, &s.Revoked); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (tx *tenantTx) SessionOwner(ctx context.Context, sessionID string) (string, error) {
	var owner string
	err := tx.scope.QueryRowContext(ctx, `
		select user_id from sessions where tenant_id = $1 and session_id = $2
	`, tx.TenantID(), sessionID).Scan(&owner)
	if err != nil {
		return "", translate(err)
	}
	return owner, nil
}

func (tx *tenantTx) RevokeSession(ctx context.Context, sessionID string) error {
	n, err := affected(tx.scope.ExecContext(ctx, `
		update sessions set revoked = true, revoked_at = coalesce(revoked_at, now())
		where tenant_id = $1 and session_id = $2
	`, tx.TenantID(), sessionID))
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	_, err = tx.scope.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where tenant_id = $1 and session_id = $2 and not revoked
	`, tx.TenantID(), sessionID)
	return translate(err)
}

func (tx *tenantTx) RevokeMembershipSessions(ctx context.Context, membershipID string) (int64, error) {
	if _, err := tx.scope.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where tenant_id = $1 and not revoked and session_id in (
			select session_id from sessions
			where tenant_id = $1 and user_tenant_id = $2 and not revoked
		)
	`, tx.TenantID(), membershipID); err != nil {
		return 0, translate(err)
	}
	return affected(tx.scope.ExecContext(ctx, `
		update sessions set revoked = true, revoked_at = now()
		where tenant_id = $1 and user_tenant_id = $2 and not revoked
	`, tx.TenantID(), membershipID))
}

func (tx *tenantTx) CreateRefreshToken(ctx context.Context, t auth.RefreshToken) error {
	_, err := tx.scope.ExecContext(ctx, `
		insert into refresh_tokens (refresh_token_id, session_id, tenant_id, token_hash, expires_at, revoked, created_at)
		values ($1, $2, $3, $4, $5, false, $6)
	`, t.ID, t.SessionID, tx.TenantID(), t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return translate(err)
}

func (tx *tenantTx) LockRefreshToken(ctx context.Context, tokenHash string) (auth.RefreshRecord, error) {
	var rec auth.RefreshRecord
	err := tx.scope.QueryRowContext(ctx, `
		select rt.refresh_token_id, rt.session_id, rt.tenant_id, rt.token_hash, rt.expires_at, rt.revoked, rt.created_at,
		       s.revoked, s.user_tenant_id, s.user_id, ut.status
		from refresh_tokens rt
		join sessions s on s.session_id = rt.session_id
		join user_tenants ut on ut.user_tenant_id = s.user_tenant_id
		where rt.tenant_id = $1 and rt.token_hash = $2
		for update of rt
	`, tx.TenantID(), tokenHash).Scan(
		&rec.Token.ID, &rec.Token.SessionID, &rec.Token.TenantID, &rec.Token.TokenHash,
		&rec.Token.ExpiresAt, &rec.Token.Revoked, &rec.Token.CreatedAt,
		&rec.SessionRevoked, &rec.MembershipID, &rec.UserID, &rec.MembershipStatus,
	)
	if err != nil {
		return auth.RefreshRecord{}, translate(err)
	}
	return rec, nil
}

func (tx *tenantTx) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	n, err := affected(tx.scope.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where tenant_id = $1 and refresh_token_id = $2
	`, tx.TenantID(), tokenID))
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// effectivePermissionsQuery unions roles assigned directly, through groups and
// by the membership's tenant_role name.
const effectivePermissionsQuery = `
	with m as (
		select user_tenant_id, tenant_role
		from user_tenants
		where tenant_id = $1 and user_id = $2 and status = 'active'
	), assigned as (
		select ur.role_id
		from user_roles ur
		join m on ur.user_tenant_id = m.user_tenant_id
		union
		select gr.role_id
		from group_members gm
		join m on gm.user_tenant_id = m.user_tenant_id
		join group_roles gr on gr.group_id = gm.group_id
		union
		select r.role_id
		from roles r
		join m on r.name = m.tenant_role
		where r.tenant_id = $1
	)
	select distinct p.key
	from assigned a
	join role_permissions rp on rp.role_id = a.role_id
	join permissions p on p.permission_id = rp.permission_id
	order by p.key`

func (tx *tenantTx) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	rows, err := tx.scope.QueryContext(ctx, effectivePermissionsQuery, tx.TenantID(), userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (tx *tenantTx) MFASecret(ctx context.Context, userID string) (auth.MFASecret, error) {
	var s auth.MFASecret
	err := tx.scope.QueryRowContext(ctx, `
		select mfa_method_id, user_id, tenant_id, secret_sealed, confirmed, created_at
		from mfa_methods
		where tenant_id = $1 and user_id = $2 and method_type = 'totp'
	`, tx.TenantID(), userID).Scan(&s.ID, &s.UserID, &s.TenantID, &s.Sealed, &s.Confirmed, &s.CreatedAt)
	if err != nil {
		return auth.MFASecret{}, translate(err)
	}
	return s, nil
}

// SaveMFASecret replaces a pending secret. A confirmed one is never
// overwritten and yields ErrConflict.
func (tx *tenantTx) SaveMFASecret(ctx context.Context, s auth.MFASecret) error {
	n, err := affected(tx.scope.ExecContext(ctx, `
		insert into mfa_methods (mfa_method_id, tenant_id, user_id, method_type, secret_sealed, confirmed, created_at)
		values ($1, $2, $3, 'totp', $4, false, $5)
		on conflict (tenant_id, user_id, method_type) do update
		set mfa_method_id = excluded.mfa_method_id,
		    secret_sealed = excluded.secret_sealed,
		    created_at = excluded.created_at
		where not mfa_methods.confirmed
	`, s.ID, tx.TenantID(), s.UserID, s.Sealed, s.CreatedAt))
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrConflict
	}
	return nil
}

func (tx *tenantTx) ConfirmMFASecret(ctx context.Context, userID string) error {
	n, err := affected(tx.scope.ExecContext(ctx, `
		update mfa_methods set confirmed = true, confirmed_at = now()
		where tenant_id = $1 and user_id = $2 and method_type = 'totp'
	`, tx.TenantID(), userID))
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
