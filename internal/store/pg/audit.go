package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/audit"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/ids"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

// AuditSink persists events to audit_logs inside the event's tenant scope.
// Events without a tenant only reach the log sink.
type AuditSink struct {
	store *Store
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *Store) AuditSink() *AuditSink { return &AuditSink{store: s} }

func (a *AuditSink) Write(ctx context.Context, e audit.Event) error {
	if e.TenantID == "" {
		return nil
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}
	return tenancy.Run(ctx, a.store.db, e.TenantID, nil, func(scope *tenancy.Scope) error {
		_, err := scope.ExecContext(ctx, `
			insert into audit_logs (audit_log_id, tenant_id, actor_user_id, action, resource_type, resource_id, ip_address, user_agent, request_id, details, occurred_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, ids.New(), scope.TenantID(), nullIfEmpty(e.ActorUserID), e.Action,
			nullIfEmpty(e.ResourceType), nullIfEmpty(e.ResourceID), nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent),
			nullIfEmpty(e.RequestID), details, e.OccurredAt)
		return translate(err)
	})
}
