package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, "authentication failed")
}

// handleAuthError maps the auth error taxonomy onto HTTP. Internal reasons
// stay in the logs.
func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *auth.PermissionError
	switch {
	case errors.As(err, &perr):
		writeErrorBody(w, r, http.StatusForbidden, map[string]any{
			"error":               "forbidden",
			"missing_permissions": perr.Missing,
		})
	case errors.Is(err, tenancy.ErrTenantMismatch):
		writeError(w, r, http.StatusBadRequest, "tenant header does not match token")
	case errors.Is(err, tenancy.ErrInvalidTenant), errors.Is(err, tenancy.ErrNoTenant):
		writeError(w, r, http.StatusBadRequest, "valid tenant id is required")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeUnauthenticated(w, r)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid request")
	case errors.Is(err, auth.ErrUnavailable):
		a.logServerError(r, err)
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		a.logServerError(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) logServerError(r *http.Request, err error) {
	obs.LoggerFromContext(r.Context(), a.logger).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("reason", auth.Reason(err)),
		zap.Error(err),
	)
}
