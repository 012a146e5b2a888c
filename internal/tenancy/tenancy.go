// Package tenancy resolves the tenant a request acts for and binds it to the
// storage transaction that row-level security policies read from.
package tenancy

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// HeaderTenantID is the explicit tenant header. It wins over the token claim
// but must agree with it when both are present.
const HeaderTenantID = "X-Tenant-ID"

var (
	ErrNoTenant       = errors.New("tenancy: no tenant supplied")
	ErrInvalidTenant  = errors.New("tenancy: tenant id is not a valid uuid")
	ErrTenantMismatch = errors.New("tenancy: tenant header does not match token tenant")
)

// Resolve picks the active tenant from the explicit header value and the token
// claim. Both inputs may be empty.
func Resolve(header, claim string) (string, error) {
	header = strings.TrimSpace(header)
	claim = strings.TrimSpace(claim)

	var fromHeader, fromClaim string
	if header != "" {
		id, err := Normalize(header)
		if err != nil {
			return "", err
		}
		fromHeader = id
	}
	if claim != "" {
		id, err := Normalize(claim)
		if err != nil {
			return "", err
		}
		fromClaim = id
	}

	switch {
	case fromHeader != "" && fromClaim != "" && fromHeader != fromClaim:
		return "", ErrTenantMismatch
	case fromHeader != "":
		return fromHeader, nil
	case fromClaim != "":
		return fromClaim, nil
	default:
		return "", ErrNoTenant
	}
}

// Normalize validates a tenant id and returns its canonical lowercase form.
func Normalize(tenantID string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(tenantID))
	if err != nil || id == uuid.Nil {
		return "", ErrInvalidTenant
	}
	return id.String(), nil
}

type tenantKey struct{}

// WithTenant records the resolved tenant on ctx for handlers further down.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// FromContext returns the tenant recorded by WithTenant.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}
