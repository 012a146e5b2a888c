package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/auth"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

// PermissionMaintenance guards the on-demand sweep.
const PermissionMaintenance = "system.maintenance"

type loginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyMFARequest struct {
	PreAuthToken string `json:"pre_auth_token"`
	Code         string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type confirmMFARequest struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

type mfaChallengeResponse struct {
	MFARequired  bool      `json:"mfa_required"`
	PreAuthToken string    `json:"pre_auth_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type sessionResponse struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Current    bool      `json:"current"`
}

type meResponse struct {
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Permissions []string  `json:"permissions"`
}

type enrollmentResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

func clientInfo(r *http.Request) auth.ClientInfo {
	return auth.ClientInfo{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}

func newTokenResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}
	tenantID, err := tenancy.Resolve(r.Header.Get(tenancy.HeaderTenantID), req.TenantID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	res, err := a.auth.Login(r.Context(), auth.LoginRequest{
		TenantID: tenantID,
		Email:    email,
		Password: req.Password,
	}, clientInfo(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusOK, mfaChallengeResponse{
			MFARequired:  true,
			PreAuthToken: res.PreAuthToken,
			ExpiresAt:    res.PreAuthUntil,
		})
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(res.Tokens))
}

func (a *API) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PreAuthToken) == "" || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "pre_auth_token and code are required")
		return
	}
	pair, err := a.auth.VerifyMFA(r.Context(), strings.TrimSpace(req.PreAuthToken), strings.TrimSpace(req.Code), clientInfo(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeUnauthenticated(w, r)
		return
	}
	if err := a.auth.Logout(r.Context(), token, clientInfo(r)); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	perms, err := a.auth.Permissions(r.Context(), p)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:      p.UserID,
		TenantID:    p.TenantID,
		SessionID:   p.SessionID,
		ExpiresAt:   p.ExpiresAt,
		Permissions: perms.Keys(),
	})
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	sessions, err := a.auth.ListSessions(r.Context(), p)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:         s.ID,
			IP:         s.IP,
			UserAgent:  s.UserAgent,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.LastSeenAt,
			Current:    s.ID == p.SessionID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "session id is required")
		return
	}
	if err := a.auth.RevokeSession(r.Context(), p, id, clientInfo(r)); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	n, err := a.auth.RevokeAllSessions(r.Context(), p, clientInfo(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

func (a *API) handleEnrollMFA(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	enrollment, err := a.auth.EnrollTOTP(r.Context(), p)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, enrollmentResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
	})
}

func (a *API) handleConfirmMFA(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principal(w, r)
	if !ok {
		return
	}
	var req confirmMFARequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ConfirmTOTP(r.Context(), p, strings.TrimSpace(req.Code)); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), PermissionMaintenance); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if a.sweeper == nil {
		writeError(w, r, http.StatusServiceUnavailable, "maintenance sweep not configured")
		return
	}
	res, err := a.sweeper.Sweep(r.Context())
	if err != nil {
		obs.LoggerFromContext(r.Context(), a.logger).Error("on-demand sweep failed", zap.Error(err))
		writeErrorBody(w, r, http.StatusInternalServerError, map[string]any{
			"error":  "sweep failed",
			"result": res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
