package auth

import (
	"bytes"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

func testSealer() *SecretSealer {
	var key [32]byte
	for i := range key {
		key[i] = byte(i + 1)
	}
	return NewSecretSealer(&key)
}

func TestSecretSealerRoundTrip(t *testing.T) {
	s := testSealer()
	sealed, err := s.Seal([]byte("JBSWY3DPEHPK3PXP"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("JBSWY3DPEHPK3PXP")) {
		t.Fatalf("sealed output contains plaintext")
	}
	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("unexpected plaintext %q", plain)
	}

	sealed[len(sealed)-1] ^= 0xff
	if _, err := s.Open(sealed); err == nil {
		t.Fatalf("expected tampered box to fail")
	}
}

func TestNilSealerRefuses(t *testing.T) {
	s := NewSecretSealer(nil)
	if _, err := s.Seal([]byte("x")); err != ErrSealerUnavailable {
		t.Fatalf("expected ErrSealerUnavailable, got %v", err)
	}
}

func TestTOTPValidateWithSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewTOTP("Qlaws", 1, func() time.Time { return now })

	secret, uri, err := v.Generate("u1@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if uri == "" {
		t.Fatalf("expected provisioning uri")
	}

	current, _ := totp.GenerateCode(secret, now)
	previous, _ := totp.GenerateCode(secret, now.Add(-30*time.Second))
	tooOld, _ := totp.GenerateCode(secret, now.Add(-90*time.Second))

	if !v.Validate(secret, current) {
		t.Fatalf("expected current code to validate")
	}
	if !v.Validate(secret, previous) {
		t.Fatalf("expected previous step to validate within skew")
	}
	if v.Validate(secret, tooOld) {
		t.Fatalf("expected code three steps old to fail")
	}
	if v.Validate(secret, "") || v.Validate("", current) {
		t.Fatalf("expected empty inputs to fail")
	}
}
