package auth

import (
	"errors"
	"fmt"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/tenancy"
)

// Error kinds. Every error returned by the service unwraps to exactly one of
// these so transports can map them without inspecting causes.
var (
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: forbidden")
	ErrConflict        = errors.New("auth: conflict")
	ErrNotFound        = errors.New("auth: not found")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnavailable     = errors.New("auth: unavailable")
)

// Internal failure reasons. They go to logs and metrics, never to callers.
const (
	ReasonBadCredentials     = "bad_credentials"
	ReasonMembershipNotFound = "membership_not_found"
	ReasonMembershipInactive = "membership_inactive"
	ReasonTokenExpired       = "token_expired"
	ReasonTokenMalformed     = "token_malformed"
	ReasonBadSignature       = "bad_signature"
	ReasonKeyUnavailable     = "key_unavailable"
	ReasonWrongTokenType     = "wrong_token_type"
	ReasonTokenRevoked       = "token_revoked"
	ReasonRefreshExpired     = "refresh_expired"
	ReasonRefreshRevoked     = "refresh_revoked"
	ReasonRefreshNotFound    = "refresh_not_found"
	ReasonRefreshReplay      = "refresh_replay"
	ReasonMFAInvalid         = "mfa_invalid"
	ReasonMFANotEnrolled     = "mfa_not_enrolled"
	ReasonMFARateLimited     = "mfa_rate_limited"
	ReasonTenantMismatch     = "tenant_mismatch"
	ReasonInvalidTenant      = "invalid_tenant"
	ReasonPermissionDenied   = "permission_denied"
	ReasonStorage            = "storage"
	ReasonLocalLoginDisabled = "local_login_disabled"
)

// Error carries a kind, an internal reason and an optional cause.
type Error struct {
	Kind   error
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%v (%s)", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, reason string, cause error) error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// storageError passes taxonomy errors through and marks anything else as a
// storage outage.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != nil {
		return err
	}
	if errors.Is(err, tenancy.ErrInvalidTenant) || errors.Is(err, tenancy.ErrNoTenant) {
		return newError(ErrInvalidInput, ReasonInvalidTenant, err)
	}
	return newError(ErrUnavailable, ReasonStorage, err)
}

// Reason returns the internal reason attached to err, if any.
func Reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Kind reports which taxonomy kind err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrUnauthenticated, ErrForbidden, ErrConflict, ErrNotFound, ErrInvalidInput, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// PermissionError reports which required permissions were missing.
type PermissionError struct {
	Missing []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("missing permissions: %v", e.Missing)
}

func (e *PermissionError) Unwrap() error { return ErrForbidden }
