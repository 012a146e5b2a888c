package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastHasher(opts ...HasherOption) *Hasher {
	return NewHasher(append([]HasherOption{WithArgon2Params(1024, 1, 1)}, opts...)...)
}

func TestHasherArgon2RoundTrip(t *testing.T) {
	h := fastHasher(WithPepper("pepper-1"))
	hash, err := h.Hash("Secr3tPW!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", hash)
	}
	if !h.Verify("Secr3tPW!", hash) {
		t.Fatalf("expected password to verify")
	}
	if h.Verify("secr3tpw!", hash) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestHasherPepperMustMatch(t *testing.T) {
	hash, err := fastHasher(WithPepper("pepper-1")).Hash("Secr3tPW!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if fastHasher(WithPepper("pepper-2")).Verify("Secr3tPW!", hash) {
		t.Fatalf("expected verification with a different pepper to fail")
	}
	if fastHasher().Verify("Secr3tPW!", hash) {
		t.Fatalf("expected verification without pepper to fail")
	}
}

func TestHasherWithoutPepper(t *testing.T) {
	h := fastHasher()
	hash, err := h.Hash("plain")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify("plain", hash) {
		t.Fatalf("expected verify without pepper")
	}
}

func TestHasherVerifiesLegacyBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("Secr3tPW!"+"pep"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	h := fastHasher(WithPepper("pep"))
	if !h.Verify("Secr3tPW!", string(legacy)) {
		t.Fatalf("expected legacy bcrypt hash to verify")
	}

	b := NewHasher(WithBcrypt(bcrypt.MinCost), WithPepper(strings.Repeat("p", 80)))
	hash, err := b.Hash("long-pepper")
	if err != nil {
		t.Fatalf("bcrypt Hash with long pepper: %v", err)
	}
	if !b.Verify("long-pepper", hash) {
		t.Fatalf("expected bcrypt verify")
	}
}

func TestHasherRejectsEmptyAndGarbage(t *testing.T) {
	h := fastHasher()
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
	for _, encoded := range []string{"", "plaintext", "$argon2id$v=19$m=1,t=1$bad", "$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$aGFzaA"} {
		if h.Verify("x", encoded) {
			t.Fatalf("expected %q to fail", encoded)
		}
	}
}
