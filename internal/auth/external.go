package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExternalCodec verifies RS256 tokens minted by an external identity provider
// and remaps its claims onto the internal shape. It cannot issue tokens.
type ExternalCodec struct {
	keys        *JWKS
	issuer      string
	audience    string
	tenantClaim string
	leeway      time.Duration
	now         func() time.Time
}

type ExternalConfig struct {
	Issuer   string
	Audience string
	// TenantClaim is the provider specific claim carrying the tenant id, e.g.
	// "https://qlaws.com/tid". The plain "tid" claim is used as a fallback.
	TenantClaim string
	Leeway      time.Duration
}

func NewExternalCodec(keys *JWKS, cfg ExternalConfig) (*ExternalCodec, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: jwks is required", ErrInvalidInput)
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidInput)
	}
	return &ExternalCodec{
		keys:        keys,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		tenantClaim: cfg.TenantClaim,
		leeway:      cfg.Leeway,
		now:         time.Now,
	}, nil
}

func (c *ExternalCodec) Issue(context.Context, Claims, time.Duration, TokenType) (string, time.Time, error) {
	return "", time.Time{}, ErrIssueDisabled
}

func (c *ExternalCodec) Verify(ctx context.Context, raw string, opts ...VerifyOption) (*Claims, error) {
	o := collectVerifyOptions(opts)

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(c.leeway),
	}
	if o.skipExpiry {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	} else {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}

	mc := jwt.MapClaims{}
	_, err := jwt.NewParser(parserOpts...).ParseWithClaims(strings.TrimSpace(raw), mc, c.keys.Keyfunc(ctx))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	// WithoutClaimsValidation drops iss and aud along with exp.
	if o.skipExpiry {
		if iss, _ := mc.GetIssuer(); iss != c.issuer {
			return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
		}
		aud, _ := mc.GetAudience()
		if !slices.Contains(aud, c.audience) {
			return nil, fmt.Errorf("%w: unexpected audience", ErrTokenMalformed)
		}
	}

	claims, err := c.remap(mc)
	if err != nil {
		return nil, err
	}
	if err := checkShape(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (c *ExternalCodec) remap(mc jwt.MapClaims) (*Claims, error) {
	out := &Claims{Type: TokenAccess}

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	out.Subject = sub
	out.Issuer, _ = mc.GetIssuer()
	out.Audience, _ = mc.GetAudience()
	out.ExpiresAt, _ = mc.GetExpirationTime()
	out.IssuedAt, _ = mc.GetIssuedAt()
	out.NotBefore, _ = mc.GetNotBefore()
	out.ID = stringClaim(mc, "jti")

	if c.tenantClaim != "" {
		out.TenantID = stringClaim(mc, c.tenantClaim)
	}
	if out.TenantID == "" {
		out.TenantID = stringClaim(mc, "tid")
	}
	if typ := stringClaim(mc, "type"); typ != "" {
		out.Type = TokenType(typ)
	}
	out.SessionID = stringClaim(mc, "sid")

	switch perms := mc["permissions"].(type) {
	case []any:
		for _, p := range perms {
			if s, ok := p.(string); ok && s != "" {
				out.Permissions = append(out.Permissions, s)
			}
		}
	case string:
		out.Permissions = strings.Fields(perms)
	}
	return out, nil
}

func stringClaim(mc jwt.MapClaims, name string) string {
	v, _ := mc[name].(string)
	return strings.TrimSpace(v)
}
