package pg

import (
	"context"
	"errors"
	"time"
)

// SweepRefreshTokens deletes refresh tokens that expired before cutoff and
// revoked sessions idle since before cutoff that no longer own any token.
//
// It spans tenants, so it needs a role that bypasses row-level security.
func (s *Store) SweepRefreshTokens(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	if s.db == nil {
		return 0, 0, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	tokens, err := affected(tx.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, cutoff))
	if err != nil {
		return 0, 0, err
	}
	sessions, err := affected(tx.ExecContext(ctx, `
		delete from sessions s
		where s.revoked and s.last_seen_at < $1
		  and not exists (select 1 from refresh_tokens rt where rt.session_id = s.session_id)
	`, cutoff))
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return tokens, sessions, nil
}
