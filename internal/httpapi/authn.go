package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"

	"go.uber.org/zap"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingBearer = errors.New("missing bearer token")

// Logout decodes its own token because it must accept expired ones.
var publicPaths = []string{
	"/auth/login",
	"/auth/mfa/verify",
	"/auth/refresh",
	"/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeUnauthenticated(w, r)
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}

		tenantID, err := tenancy.Resolve(r.Header.Get(tenancy.HeaderTenantID), principal.TenantID)
		if err != nil {
			obs.LoggerFromContext(r.Context(), a.logger).Info("tenant resolution failed",
				zap.String("user_id", principal.UserID),
				zap.String("token_tenant_id", principal.TenantID),
				zap.Error(err),
			)
			a.handleAuthError(w, r, err)
			return
		}
		principal.TenantID = tenantID

		ctx := tenancy.WithTenant(r.Context(), tenantID)
		ctx = auth.ContextWithPrincipal(ctx, principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) requirePermission(ctx context.Context, perms ...string) error {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.ErrUnauthenticated
	}
	return a.auth.Authorize(ctx, principal, perms...)
}

// principal returns the caller or writes a 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeUnauthenticated(w, r)
	}
	return p, ok
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingBearer
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
