package auth

import "time"

// Membership statuses.
const (
	MembershipActive      = "active"
	MembershipDeactivated = "deactivated"
	MembershipSuspended   = "suspended"
)

// User is the global identity shared by all tenant memberships.
type User struct {
	ID                string
	Email             string
	DisplayName       string
	PasswordHash      string
	PasswordUpdatedAt time.Time
	EmailVerified     bool
	MFAEnabled        bool
}

// Membership binds a user to one tenant.
type Membership struct {
	ID       string
	TenantID string
	UserID   string
	Email    string
	Role     string
	Status   string
	Persona  string
}

// LoginRecord is what login needs in one lookup: the membership joined with
// its global user.
type LoginRecord struct {
	Membership Membership
	User       User
}

// Session is one logical login on one device.
type Session struct {
	ID           string
	MembershipID string
	TenantID     string
	UserID       string
	IP           string
	UserAgent    string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	Revoked      bool
}

// RefreshToken is the stored form of a refresh token. Only the hash is kept.
type RefreshToken struct {
	ID        string
	SessionID string
	TenantID  string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RefreshRecord is a refresh token locked for rotation together with the
// state of its session and membership.
type RefreshRecord struct {
	Token            RefreshToken
	SessionRevoked   bool
	MembershipID     string
	MembershipStatus string
	UserID           string
}

// RevocationEntry blocks an access token until ExpiresAt.
type RevocationEntry struct {
	Key       string
	TokenID   string
	TenantID  string
	UserID    string
	ExpiresAt time.Time
}

// MFASecret is a sealed TOTP secret stored for a user.
type MFASecret struct {
	ID        string
	UserID    string
	TenantID  string
	Sealed    []byte
	Confirmed bool
	CreatedAt time.Time
}

// TokenPair is the result of a completed login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// LoginResult is either a token pair or an MFA challenge.
type LoginResult struct {
	Tokens       *TokenPair
	MFARequired  bool
	PreAuthToken string
	PreAuthUntil time.Time
}

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
	RequestID string
}
