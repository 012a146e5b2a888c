package ids

import (
	"encoding/base64"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("invalid ulid %q: %v", next, err)
		}
		if next <= prev {
			t.Fatalf("expected %q > %q", next, prev)
		}
		prev = next
	}
}

func TestSecretLength(t *testing.T) {
	s, err := Secret(32)
	if err != nil {
		t.Fatalf("Secret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(raw))
	}
	if _, err := Secret(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}
