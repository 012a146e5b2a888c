package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Qlaws-Tech/qlaws-mulit-tenant/internal/ids"
)

// TokenType discriminates what a signed token may be used for.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
	TokenPreAuth TokenType = "pre_auth"
)

func (t TokenType) valid() bool {
	switch t {
	case TokenAccess, TokenRefresh, TokenPreAuth:
		return true
	}
	return false
}

// Codec errors. Verify wraps exactly one of them.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrKeyUnavailable = errors.New("signing key unavailable")
	ErrIssueDisabled  = errors.New("token issuance disabled for this codec")
)

// Claims is the internal token shape regardless of who signed the token.
type Claims struct {
	TenantID    string    `json:"tid,omitempty"`
	Type        TokenType `json:"type"`
	SessionID   string    `json:"sid,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies signed tokens.
type Codec interface {
	Issue(ctx context.Context, claims Claims, ttl time.Duration, typ TokenType) (string, time.Time, error)
	Verify(ctx context.Context, token string, opts ...VerifyOption) (*Claims, error)
}

type verifyOptions struct {
	skipExpiry bool
}

type VerifyOption func(*verifyOptions)

// SkipExpiry verifies the signature but accepts expired tokens. Logout uses it.
func SkipExpiry() VerifyOption {
	return func(o *verifyOptions) { o.skipExpiry = true }
}

func collectVerifyOptions(opts []VerifyOption) verifyOptions {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TokenHash is the hex sha256 of a raw token. It is the revocation key and the
// stored form of refresh tokens.
func TokenHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// LocalCodec signs with a shared HMAC secret.
type LocalCodec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type LocalCodecOption func(*LocalCodec) error

// WithAlgorithm selects HS256, HS384 or HS512.
func WithAlgorithm(alg string) LocalCodecOption {
	return func(c *LocalCodec) error {
		switch strings.ToUpper(strings.TrimSpace(alg)) {
		case "", "HS256":
			c.method = jwt.SigningMethodHS256
		case "HS384":
			c.method = jwt.SigningMethodHS384
		case "HS512":
			c.method = jwt.SigningMethodHS512
		default:
			return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidInput, alg)
		}
		return nil
	}
}

func WithIssuer(issuer string) LocalCodecOption {
	return func(c *LocalCodec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

func WithLeeway(d time.Duration) LocalCodecOption {
	return func(c *LocalCodec) error {
		if d < 0 {
			return fmt.Errorf("%w: leeway must not be negative", ErrInvalidInput)
		}
		c.leeway = d
		return nil
	}
}

func WithCodecClock(now func() time.Time) LocalCodecOption {
	return func(c *LocalCodec) error {
		if now == nil {
			return fmt.Errorf("%w: clock is nil", ErrInvalidInput)
		}
		c.now = now
		return nil
	}
}

func NewLocalCodec(secret string, opts ...LocalCodecOption) (*LocalCodec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: token secret is required", ErrInvalidInput)
	}
	c := &LocalCodec{
		secret: []byte(secret),
		method: jwt.SigningMethodHS256,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Issue signs claims with a fresh jti, iat=now and exp=now+ttl. A negative ttl
// yields an already expired token.
func (c *LocalCodec) Issue(_ context.Context, claims Claims, ttl time.Duration, typ TokenType) (string, time.Time, error) {
	if !typ.valid() {
		return "", time.Time{}, fmt.Errorf("%w: unknown token type %q", ErrInvalidInput, typ)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl == 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl is required", ErrInvalidInput)
	}

	now := c.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims.Type = typ
	claims.ID = ids.New()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}

	signed, err := jwt.NewWithClaims(c.method, &claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and, unless SkipExpiry is given, the expiry.
func (c *LocalCodec) Verify(_ context.Context, raw string, opts ...VerifyOption) (*Claims, error) {
	o := collectVerifyOptions(opts)

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.leeway),
	}
	if o.skipExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	} else {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if c.issuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
		}
	}

	claims := &Claims{}
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if o.skipExpiry && c.issuer != "" && claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
	}
	if err := checkShape(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func checkShape(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	if !claims.Type.valid() {
		return fmt.Errorf("%w: unknown token type %q", ErrTokenMalformed, claims.Type)
	}
	return nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// codecReason maps a codec error onto the internal reason vocabulary.
func codecReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return ReasonTokenExpired
	case errors.Is(err, ErrTokenSignature):
		return ReasonBadSignature
	case errors.Is(err, ErrKeyUnavailable):
		return ReasonKeyUnavailable
	default:
		return ReasonTokenMalformed
	}
}
