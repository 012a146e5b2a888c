package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestCodec(t *testing.T, opts ...LocalCodecOption) *LocalCodec {
	t.Helper()
	c, err := NewLocalCodec(testSecret, append([]LocalCodecOption{WithIssuer("qlaws-test")}, opts...)...)
	if err != nil {
		t.Fatalf("NewLocalCodec: %v", err)
	}
	return c
}

func TestLocalCodecRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	in := Claims{
		TenantID:         "7b0c1f5e-3a43-4d55-9a4f-0c6f1c6d2a11",
		SessionID:        "sess-1",
		Permissions:      []string{"user.read", "tenant.*"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	}
	raw, exp, err := c.Issue(context.Background(), in, 15*time.Minute, TokenAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	out, err := c.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if out.Subject != in.Subject || out.TenantID != in.TenantID || out.SessionID != in.SessionID {
		t.Fatalf("claims not preserved: %+v", out)
	}
	if out.Type != TokenAccess {
		t.Fatalf("unexpected type %q", out.Type)
	}
	if !slices.Equal(out.Permissions, in.Permissions) {
		t.Fatalf("permissions not preserved: %v", out.Permissions)
	}
	if out.ID == "" || out.IssuedAt == nil || out.ExpiresAt == nil {
		t.Fatalf("expected jti/iat/exp to be set: %+v", out.RegisteredClaims)
	}
	if out.Issuer != "qlaws-test" {
		t.Fatalf("unexpected issuer %q", out.Issuer)
	}
}

func TestLocalCodecFreshJTIPerToken(t *testing.T) {
	c := newTestCodec(t)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}
	a, _, _ := c.Issue(context.Background(), claims, time.Minute, TokenAccess)
	b, _, _ := c.Issue(context.Background(), claims, time.Minute, TokenAccess)
	ca, _ := c.Verify(context.Background(), a)
	cb, _ := c.Verify(context.Background(), b)
	if ca.ID == cb.ID {
		t.Fatalf("expected distinct jti values")
	}
}

func TestLocalCodecExpiry(t *testing.T) {
	c := newTestCodec(t)
	raw, _, err := c.Issue(context.Background(), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}, -time.Second, TokenAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := c.Verify(context.Background(), raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	claims, err := c.Verify(context.Background(), raw, SkipExpiry())
	if err != nil {
		t.Fatalf("Verify with SkipExpiry: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestLocalCodecBadSignature(t *testing.T) {
	issuer := newTestCodec(t)
	raw, _, err := issuer.Issue(context.Background(), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, time.Minute, TokenAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewLocalCodec(strings.Repeat("x", 32), WithIssuer("qlaws-test"))
	if err != nil {
		t.Fatalf("NewLocalCodec: %v", err)
	}
	if _, err := other.Verify(context.Background(), raw); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature, got %v", err)
	}
	if _, err := other.Verify(context.Background(), raw, SkipExpiry()); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("SkipExpiry must still check signature, got %v", err)
	}
}

func TestLocalCodecRejectsAlgorithmSwitch(t *testing.T) {
	c := newTestCodec(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, &Claims{
		Type:             TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "qlaws-test", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	raw, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := c.Verify(context.Background(), raw); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for HS512 token, got %v", err)
	}
}

func TestLocalCodecMalformed(t *testing.T) {
	c := newTestCodec(t)
	for _, raw := range []string{"", "abc", "a.b.c", "eyJhbGciOiJIUzI1NiJ9.e30"} {
		if _, err := c.Verify(context.Background(), raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Verify(%q): expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestLocalCodecRejectsUnknownType(t *testing.T) {
	c := newTestCodec(t)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Type:             "id",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "qlaws-test", IssuedAt: jwt.NewNumericDate(time.Now()), ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	raw, _ := tok.SignedString([]byte(testSecret))
	if _, err := c.Verify(context.Background(), raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
	if _, _, err := c.Issue(context.Background(), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, time.Minute, "id"); err == nil {
		t.Fatalf("expected Issue to reject unknown type")
	}
}

func TestLocalCodecIssuerMismatch(t *testing.T) {
	a := newTestCodec(t)
	b, err := NewLocalCodec(testSecret, WithIssuer("someone-else"))
	if err != nil {
		t.Fatalf("NewLocalCodec: %v", err)
	}
	raw, _, _ := a.Issue(context.Background(), Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, time.Minute, TokenAccess)
	if _, err := b.Verify(context.Background(), raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected issuer mismatch to be malformed, got %v", err)
	}
	if _, err := b.Verify(context.Background(), raw, SkipExpiry()); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected issuer mismatch with SkipExpiry to be malformed, got %v", err)
	}
}

func TestNewLocalCodecValidation(t *testing.T) {
	if _, err := NewLocalCodec(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewLocalCodec(testSecret, WithAlgorithm("RS256")); err == nil {
		t.Fatalf("expected error for asymmetric algorithm")
	}
	c, err := NewLocalCodec(testSecret, WithAlgorithm("hs384"))
	if err != nil {
		t.Fatalf("NewLocalCodec: %v", err)
	}
	if c.method.Alg() != "HS384" {
		t.Fatalf("unexpected method %s", c.method.Alg())
	}
}

func TestTokenHashIsStable(t *testing.T) {
	if TokenHash("abc") != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected sha256")
	}
}
