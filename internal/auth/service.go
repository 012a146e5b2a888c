package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/audit"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/obs"
	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

const (
	defaultAccessTTL         = 15 * time.Minute
	defaultRefreshTTL        = 7 * 24 * time.Hour
	defaultPreAuthTTL        = 5 * time.Minute
	defaultLogoutFallbackTTL = 30 * time.Minute
)

// Audit actions.
const (
	ActionLogin             = "auth.login"
	ActionLogout            = "auth.logout"
	ActionSessionRevoke     = "auth.session.revoke"
	ActionSessionsRevokeAll = "auth.sessions.revoke_all"
	ActionMFAEnroll         = "auth.mfa.enroll"
	ActionMFAConfirm        = "auth.mfa.confirm"
)

// Auditor receives best-effort audit events. *audit.Dispatcher implements it.
type Auditor interface {
	Log(ctx context.Context, e audit.Event)
}

// Service runs the login, MFA, refresh and logout flows.
type Service struct {
	store       Store
	revocations RevocationStore
	codec       Codec
	issuing     bool

	hasher   *Hasher
	sessions *SessionManager
	resolver *Resolver
	totp     *TOTP
	sealer   *SecretSealer
	limiter  AttemptLimiter
	auditor  Auditor
	logger   *zap.Logger
	metrics  *obs.Metrics
	now      func() time.Time

	accessTTL         time.Duration
	refreshTTL        time.Duration
	preAuthTTL        time.Duration
	logoutFallbackTTL time.Duration
	embedPermissions  bool

	dummyHash string
}

// ServiceOption configures optional Service parameters.
type ServiceOption func(*Service) error

func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h == nil {
			return fmt.Errorf("%w: hasher is nil", ErrInvalidInput)
		}
		s.hasher = h
		return nil
	}
}

func WithTOTP(t *TOTP) ServiceOption {
	return func(s *Service) error {
		s.totp = t
		return nil
	}
}

func WithSecretSealer(sealer *SecretSealer) ServiceOption {
	return func(s *Service) error {
		s.sealer = sealer
		return nil
	}
}

// WithAttemptLimiter bounds failed MFA verifications per membership.
func WithAttemptLimiter(l AttemptLimiter) ServiceOption {
	return func(s *Service) error {
		s.limiter = l
		return nil
	}
}

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.auditor = a
		return nil
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

func WithMetrics(m *obs.Metrics) ServiceOption {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return fmt.Errorf("%w: clock is nil", ErrInvalidInput)
		}
		s.now = now
		return nil
	}
}

func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: access ttl must be positive", ErrInvalidInput)
		}
		s.accessTTL = ttl
		return nil
	}
}

func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: refresh ttl must be positive", ErrInvalidInput)
		}
		s.refreshTTL = ttl
		return nil
	}
}

func WithPreAuthTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: pre-auth ttl must be positive", ErrInvalidInput)
		}
		s.preAuthTTL = ttl
		return nil
	}
}

func WithLogoutFallbackTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: logout fallback ttl must be positive", ErrInvalidInput)
		}
		s.logoutFallbackTTL = ttl
		return nil
	}
}

// WithEmbeddedPermissions controls whether access tokens carry the
// membership's effective permissions.
func WithEmbeddedPermissions(embed bool) ServiceOption {
	return func(s *Service) error {
		s.embedPermissions = embed
		return nil
	}
}

func NewService(store Store, revocations RevocationStore, codec Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil || revocations == nil || codec == nil {
		return nil, fmt.Errorf("%w: store, revocations and codec are required", ErrInvalidInput)
	}
	s := &Service{
		store:             store,
		revocations:       revocations,
		codec:             codec,
		hasher:            NewHasher(),
		logger:            zap.NewNop(),
		now:               time.Now,
		accessTTL:         defaultAccessTTL,
		refreshTTL:        defaultRefreshTTL,
		preAuthTTL:        defaultPreAuthTTL,
		logoutFallbackTTL: defaultLogoutFallbackTTL,
		embedPermissions:  true,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if _, external := codec.(*ExternalCodec); !external {
		s.issuing = true
	}
	if s.totp == nil {
		s.totp = NewTOTP("Qlaws", 1, s.now)
	}
	s.sessions = NewSessionManager(store, s.refreshTTL, s.now)
	s.resolver = NewResolver(store)

	// Verified against when no membership matches so that unknown emails cost
	// the same as wrong passwords.
	if h, err := s.hasher.Hash(uuid.NewString()); err == nil {
		s.dummyHash = h
	}
	return s, nil
}

// Sessions exposes the session manager.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// LoginRequest carries credentials for one tenant.
type LoginRequest struct {
	TenantID string
	Email    string
	Password string
}

// Login verifies credentials within the tenant and either finalizes the login
// or, for MFA users, returns a pre-auth token without creating a session.
func (s *Service) Login(ctx context.Context, req LoginRequest, client ClientInfo) (LoginResult, error) {
	const flow = "login"
	if !s.issuing {
		return LoginResult{}, s.fail(ctx, flow, newError(ErrUnavailable, ReasonLocalLoginDisabled, nil), "")
	}

	tenantID, err := tenancy.Normalize(req.TenantID)
	if err != nil {
		return LoginResult{}, s.fail(ctx, flow, newError(ErrInvalidInput, ReasonInvalidTenant, err), "")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return LoginResult{}, s.fail(ctx, flow, newError(ErrInvalidInput, "", errors.New("email and password are required")), tenantID)
	}

	var (
		result LoginResult
		rec    LoginRecord
	)
	err = s.store.InTenant(ctx, tenantID, func(tx TenantTx) error {
		var err error
		rec, err = tx.FindLoginMembership(ctx, email)
		if errors.Is(err, ErrNotFound) {
			s.hasher.Verify(req.Password, s.dummyHash)
			return newError(ErrUnauthenticated, ReasonMembershipNotFound, nil)
		}
		if err != nil {
			return err
		}
		if rec.Membership.Status != MembershipActive {
			return newError(ErrForbidden, ReasonMembershipInactive, nil)
		}
		if !s.hasher.Verify(req.Password, rec.User.PasswordHash) {
			return newError(ErrUnauthenticated, ReasonBadCredentials, nil)
		}

		if rec.User.MFAEnabled {
			token, until, err := s.codec.Issue(ctx, Claims{
				TenantID:         tenantID,
				RegisteredClaims: subject(rec.User.ID),
			}, s.preAuthTTL, TokenPreAuth)
			if err != nil {
				return err
			}
			result = LoginResult{MFARequired: true, PreAuthToken: token, PreAuthUntil: until}
			return nil
		}

		pair, err := s.finalize(ctx, tx, rec, client)
		if err != nil {
			return err
		}
		result = LoginResult{Tokens: pair}
		return nil
	})
	if err != nil {
		return LoginResult{}, s.fail(ctx, flow, storageError(err), tenantID)
	}

	if result.MFARequired {
		s.metrics.AuthAttempt(flow, "mfa_required", "")
		return result, nil
	}
	s.metrics.AuthAttempt(flow, "success", "")
	s.audit(ctx, audit.Event{
		Action:       ActionLogin,
		ResourceType: "session",
		ResourceID:   result.Tokens.SessionID,
		ActorUserID:  rec.User.ID,
		TenantID:     tenantID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		Details:      map[string]any{"mfa": false},
	})
	return result, nil
}

// VerifyMFA completes a login started by Login for an MFA user.
func (s *Service) VerifyMFA(ctx context.Context, preAuthToken, code string, client ClientInfo) (*TokenPair, error) {
	const flow = "mfa_verify"

	claims, err := s.codec.Verify(ctx, preAuthToken)
	if err != nil {
		return nil, s.fail(ctx, flow, newError(ErrUnauthenticated, codecReason(err), err), "")
	}
	if claims.Type != TokenPreAuth {
		return nil, s.fail(ctx, flow, newError(ErrUnauthenticated, ReasonWrongTokenType, nil), claims.TenantID)
	}
	preAuthKey := TokenHash(strings.TrimSpace(preAuthToken))
	if err := s.checkRevoked(ctx, preAuthKey); err != nil {
		return nil, s.fail(ctx, flow, err, claims.TenantID)
	}

	var (
		pair       *TokenPair
		rec        LoginRecord
		attemptKey = claims.TenantID + ":" + claims.Subject
	)
	err = s.store.InTenant(ctx, claims.TenantID, func(tx TenantTx) error {
		var err error
		rec, err = tx.FindMembershipByUser(ctx, claims.Subject)
		if errors.Is(err, ErrNotFound) {
			return newError(ErrUnauthenticated, ReasonMembershipNotFound, nil)
		}
		if err != nil {
			return err
		}
		if rec.Membership.Status != MembershipActive {
			return newError(ErrForbidden, ReasonMembershipInactive, nil)
		}
		secret, err := s.openSecret(ctx, tx, claims.Subject, true)
		if err != nil {
			return err
		}
		if err := s.acquireAttempt(ctx, attemptKey); err != nil {
			return err
		}
		if !s.totp.Validate(secret, code) {
			return newError(ErrUnauthenticated, ReasonMFAInvalid, nil)
		}
		// A pre-auth token completes at most one login. A failure after the
		// claim burns the token; the user logs in again.
		claimed, err := s.revocations.Claim(ctx, RevocationEntry{
			Key:       preAuthKey,
			TokenID:   claims.ID,
			TenantID:  claims.TenantID,
			UserID:    claims.Subject,
			ExpiresAt: s.tokenExpiry(claims),
		})
		if err != nil {
			return newError(ErrUnavailable, ReasonStorage, err)
		}
		if !claimed {
			return newError(ErrUnauthenticated, ReasonTokenRevoked, nil)
		}
		pair, err = s.finalize(ctx, tx, rec, client)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, flow, storageError(err), claims.TenantID)
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, attemptKey); err != nil {
			s.logger.Warn("mfa attempt reset failed", zap.String("tenant_id", claims.TenantID), zap.Error(err))
		}
	}

	s.metrics.AuthAttempt(flow, "success", "")
	s.audit(ctx, audit.Event{
		Action:       ActionLogin,
		ResourceType: "session",
		ResourceID:   pair.SessionID,
		ActorUserID:  rec.User.ID,
		TenantID:     claims.TenantID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		Details:      map[string]any{"mfa": true},
	})
	return pair, nil
}

// finalize creates the session and token pair inside the login transaction.
func (s *Service) finalize(ctx context.Context, tx TenantTx, rec LoginRecord, client ClientInfo) (*TokenPair, error) {
	session, err := s.sessions.CreateSession(ctx, tx, rec.Membership, client)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.sessions.CreateRefreshToken(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}

	claims := Claims{
		TenantID:         tx.TenantID(),
		SessionID:        session.ID,
		RegisteredClaims: subject(rec.User.ID),
	}
	if s.embedPermissions {
		perms, err := tx.EffectivePermissions(ctx, rec.User.ID)
		if err != nil {
			return nil, err
		}
		claims.Permissions = perms
	}
	access, accessExp, err := s.codec.Issue(ctx, claims, s.accessTTL, TokenAccess)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        session.ID,
	}, nil
}

// Refresh rotates a refresh token and mints a new access token. Every token
// failure is reported as ErrUnauthenticated; the reason is only logged.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (*TokenPair, error) {
	const flow = "refresh"
	if !s.issuing {
		return nil, s.fail(ctx, flow, newError(ErrUnavailable, ReasonLocalLoginDisabled, nil), "")
	}

	res, err := s.sessions.Rotate(ctx, rawRefresh)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, s.fail(ctx, flow, err, "")
		}
		reason := Reason(err)
		if reason == ReasonRefreshReplay {
			s.logger.Warn("refresh token replay detected, session revoked",
				zap.String("request_id", client.RequestID),
				zap.String("ip", client.IP),
			)
		}
		return nil, s.fail(ctx, flow, newError(ErrUnauthenticated, reason, nil), "")
	}

	claims := Claims{
		TenantID:         res.TenantID,
		SessionID:        res.SessionID,
		RegisteredClaims: subject(res.UserID),
	}
	if s.embedPermissions {
		set, err := s.resolver.Effective(ctx, &claims, res.TenantID)
		if err != nil {
			return nil, s.fail(ctx, flow, err, res.TenantID)
		}
		claims.Permissions = set.Keys()
	}
	access, accessExp, err := s.codec.Issue(ctx, claims, s.accessTTL, TokenAccess)
	if err != nil {
		return nil, s.fail(ctx, flow, err, res.TenantID)
	}

	s.metrics.AuthAttempt(flow, "success", "")
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: res.ExpiresAt,
		SessionID:        res.SessionID,
	}, nil
}

// Logout blacklists the presented access token until its own expiry. Expired
// tokens are accepted so a client can always log out.
func (s *Service) Logout(ctx context.Context, rawAccess string, client ClientInfo) error {
	const flow = "logout"
	rawAccess = strings.TrimSpace(rawAccess)

	claims, err := s.codec.Verify(ctx, rawAccess, SkipExpiry())
	if err != nil {
		return s.fail(ctx, flow, newError(ErrUnauthenticated, codecReason(err), err), "")
	}
	if claims.Type != TokenAccess {
		return s.fail(ctx, flow, newError(ErrUnauthenticated, ReasonWrongTokenType, nil), claims.TenantID)
	}

	entry := RevocationEntry{
		Key:       TokenHash(rawAccess),
		TokenID:   claims.ID,
		TenantID:  claims.TenantID,
		UserID:    claims.Subject,
		ExpiresAt: s.tokenExpiry(claims),
	}
	if err := s.revocations.Revoke(ctx, entry); err != nil {
		return s.fail(ctx, flow, newError(ErrUnavailable, ReasonStorage, err), claims.TenantID)
	}

	s.metrics.AuthAttempt(flow, "success", "")
	s.audit(ctx, audit.Event{
		Action:       ActionLogout,
		ResourceType: "session",
		ResourceID:   claims.SessionID,
		ActorUserID:  claims.Subject,
		TenantID:     claims.TenantID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		Details:      map[string]any{"jti": claims.ID},
	})
	return nil
}

// Authenticate verifies a bearer access token and consults the revocation
// store. Revocation lookups fail closed.
func (s *Service) Authenticate(ctx context.Context, rawAccess string) (Principal, error) {
	const flow = "authenticate"
	rawAccess = strings.TrimSpace(rawAccess)

	claims, err := s.codec.Verify(ctx, rawAccess)
	if err != nil {
		return Principal{}, s.fail(ctx, flow, newError(ErrUnauthenticated, codecReason(err), err), "")
	}
	if claims.Type != TokenAccess {
		return Principal{}, s.fail(ctx, flow, newError(ErrUnauthenticated, ReasonWrongTokenType, nil), claims.TenantID)
	}
	if err := s.checkRevoked(ctx, TokenHash(rawAccess)); err != nil {
		return Principal{}, s.fail(ctx, flow, err, claims.TenantID)
	}

	p := Principal{
		UserID:    claims.Subject,
		TenantID:  claims.TenantID,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
		Claims:    claims,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

func (s *Service) checkRevoked(ctx context.Context, key string) error {
	revoked, err := s.revocations.IsRevoked(ctx, key)
	if err != nil {
		s.metrics.RevocationCheck("error")
		return newError(ErrUnavailable, ReasonStorage, err)
	}
	if revoked {
		s.metrics.RevocationCheck("hit")
		return newError(ErrUnauthenticated, ReasonTokenRevoked, nil)
	}
	s.metrics.RevocationCheck("miss")
	return nil
}

// Permissions returns the principal's effective permission set.
func (s *Service) Permissions(ctx context.Context, p Principal) (PermissionSet, error) {
	return s.resolver.Effective(ctx, p.Claims, p.TenantID)
}

// Authorize fails with a *PermissionError when any of required is missing.
func (s *Service) Authorize(ctx context.Context, p Principal, required ...string) error {
	set, err := s.Permissions(ctx, p)
	if err != nil {
		return err
	}
	if err := Require(set, required...); err != nil {
		var pe *PermissionError
		if errors.As(err, &pe) {
			s.logger.Info("permission denied",
				zap.String("tenant_id", p.TenantID),
				zap.String("user_id", p.UserID),
				zap.Strings("missing", pe.Missing),
			)
		}
		s.metrics.AuthAttempt("authorize", "failure", ReasonPermissionDenied)
		return err
	}
	return nil
}

// ListSessions returns the principal's live sessions.
func (s *Service) ListSessions(ctx context.Context, p Principal) ([]Session, error) {
	return s.sessions.ListSessions(ctx, p.TenantID, p.UserID)
}

// RevokeSession revokes one of the principal's own sessions.
func (s *Service) RevokeSession(ctx context.Context, p Principal, sessionID string, client ClientInfo) error {
	if err := s.sessions.RevokeSession(ctx, p.TenantID, sessionID, p.UserID); err != nil {
		return err
	}
	s.audit(ctx, audit.Event{
		Action:       ActionSessionRevoke,
		ResourceType: "session",
		ResourceID:   sessionID,
		ActorUserID:  p.UserID,
		TenantID:     p.TenantID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
	})
	return nil
}

// RevokeAllSessions revokes every session of the principal's membership.
// Access tokens already issued stay valid until they expire or are logged out.
func (s *Service) RevokeAllSessions(ctx context.Context, p Principal, client ClientInfo) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, p.TenantID, p.UserID)
	if err != nil {
		return 0, err
	}
	s.audit(ctx, audit.Event{
		Action:       ActionSessionsRevokeAll,
		ResourceType: "membership",
		ActorUserID:  p.UserID,
		TenantID:     p.TenantID,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
		Details:      map[string]any{"revoked": n},
	})
	return n, nil
}

// Enrollment is a freshly generated, not yet confirmed TOTP secret.
type Enrollment struct {
	Secret          string
	ProvisioningURI string
}

// EnrollTOTP generates and stores a sealed TOTP secret for the principal. MFA
// stays off until ConfirmTOTP succeeds.
func (s *Service) EnrollTOTP(ctx context.Context, p Principal) (Enrollment, error) {
	var out Enrollment
	err := s.store.InTenant(ctx, p.TenantID, func(tx TenantTx) error {
		rec, err := tx.FindMembershipByUser(ctx, p.UserID)
		if err != nil {
			return err
		}
		account := rec.User.Email
		if account == "" {
			account = rec.Membership.Email
		}
		secret, uri, err := s.totp.Generate(account)
		if err != nil {
			return err
		}
		sealed, err := s.sealer.Seal([]byte(secret))
		if err != nil {
			return newError(ErrUnavailable, "", err)
		}
		if err := tx.SaveMFASecret(ctx, MFASecret{
			ID:        uuid.NewString(),
			UserID:    p.UserID,
			TenantID:  p.TenantID,
			Sealed:    sealed,
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}
		out = Enrollment{Secret: secret, ProvisioningURI: uri}
		return nil
	})
	if err != nil {
		return Enrollment{}, storageError(err)
	}
	s.audit(ctx, audit.Event{Action: ActionMFAEnroll, ResourceType: "user", ResourceID: p.UserID, ActorUserID: p.UserID, TenantID: p.TenantID})
	return out, nil
}

// ConfirmTOTP enables MFA once the user proves possession of the secret.
func (s *Service) ConfirmTOTP(ctx context.Context, p Principal, code string) error {
	err := s.store.InTenant(ctx, p.TenantID, func(tx TenantTx) error {
		secret, err := s.openSecret(ctx, tx, p.UserID, false)
		if err != nil {
			return err
		}
		if !s.totp.Validate(secret, code) {
			return newError(ErrInvalidInput, ReasonMFAInvalid, errors.New("invalid verification code"))
		}
		return tx.ConfirmMFASecret(ctx, p.UserID)
	})
	if err != nil {
		return storageError(err)
	}
	s.audit(ctx, audit.Event{Action: ActionMFAConfirm, ResourceType: "user", ResourceID: p.UserID, ActorUserID: p.UserID, TenantID: p.TenantID})
	return nil
}

func (s *Service) openSecret(ctx context.Context, tx TenantTx, userID string, requireConfirmed bool) (string, error) {
	stored, err := tx.MFASecret(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return "", newError(ErrUnauthenticated, ReasonMFANotEnrolled, nil)
	}
	if err != nil {
		return "", err
	}
	if requireConfirmed && !stored.Confirmed {
		return "", newError(ErrUnauthenticated, ReasonMFANotEnrolled, nil)
	}
	plain, err := s.sealer.Open(stored.Sealed)
	if err != nil {
		return "", newError(ErrUnavailable, "", err)
	}
	return string(plain), nil
}

// acquireAttempt counts the attempt before the code is checked, so concurrent
// guesses cannot all slip under the limit.
func (s *Service) acquireAttempt(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Acquire(ctx, key)
	if err != nil {
		return newError(ErrUnavailable, ReasonStorage, err)
	}
	if !ok {
		return newError(ErrUnauthenticated, ReasonMFARateLimited, nil)
	}
	return nil
}

func (s *Service) tokenExpiry(claims *Claims) time.Time {
	if claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return s.now().UTC().Add(s.logoutFallbackTTL)
}

func (s *Service) audit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(ctx, e)
}

// fail records the internal reason and returns err unchanged.
func (s *Service) fail(ctx context.Context, flow string, err error, tenantID string) error {
	reason := Reason(err)
	s.metrics.AuthAttempt(flow, "failure", reason)
	obs.LoggerFromContext(ctx, s.logger).Info("auth flow failed",
		zap.String("flow", flow),
		zap.String("reason", reason),
		zap.String("tenant_id", tenantID),
		zap.Error(err),
	)
	return err
}

func subject(userID string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: userID}
}
