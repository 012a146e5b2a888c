package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const bcryptMaxInput = 72

// Hasher hashes and verifies passwords with an application-wide pepper
// appended before hashing. An empty pepper hashes the password alone.
type Hasher struct {
	pepper     string
	algorithm  string
	bcryptCost int

	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
	saltLen int
}

type HasherOption func(*Hasher)

func WithPepper(pepper string) HasherOption {
	return func(h *Hasher) { h.pepper = pepper }
}

// WithBcrypt switches new hashes to bcrypt at the given cost.
func WithBcrypt(cost int) HasherOption {
	return func(h *Hasher) {
		h.algorithm = "bcrypt"
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			h.bcryptCost = cost
		}
	}
}

// WithArgon2Params tunes the argon2id cost parameters.
func WithArgon2Params(memoryKiB, iterations uint32, threads uint8) HasherOption {
	return func(h *Hasher) {
		if memoryKiB > 0 {
			h.memory = memoryKiB
		}
		if iterations > 0 {
			h.time = iterations
		}
		if threads > 0 {
			h.threads = threads
		}
	}
}

func NewHasher(opts ...HasherOption) *Hasher {
	h := &Hasher{
		algorithm:  "argon2id",
		bcryptCost: bcrypt.DefaultCost,
		memory:     64 * 1024,
		time:       3,
		threads:    2,
		keyLen:     32,
		saltLen:    16,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Hash returns an encoded hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	if h.algorithm == "bcrypt" {
		hash, err := bcrypt.GenerateFromPassword(h.bcryptInput(password), h.bcryptCost)
		if err != nil {
			return "", err
		}
		return string(hash), nil
	}

	salt := make([]byte, h.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey(h.peppered(password), salt, h.time, h.memory, h.threads, h.keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Both argon2id and bcrypt
// hashes are accepted regardless of which algorithm new hashes use.
func (h *Hasher) Verify(password, encoded string) bool {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		ok, err := h.verifyArgon2(password, encoded)
		return err == nil && ok
	case strings.HasPrefix(encoded, "$2"):
		return bcrypt.CompareHashAndPassword([]byte(encoded), h.bcryptInput(password)) == nil
	default:
		return false
	}
}

func (h *Hasher) peppered(password string) []byte {
	return []byte(password + h.pepper)
}

// bcrypt ignores input beyond 72 bytes; newer x/crypto rejects it instead,
// so long peppered inputs are truncated to keep the historical behaviour.
func (h *Hasher) bcryptInput(password string) []byte {
	in := h.peppered(password)
	if len(in) > bcryptMaxInput {
		in = in[:bcryptMaxInput]
	}
	return in
}

var errBadArgon2Hash = errors.New("auth: malformed argon2id hash")

func (h *Hasher) verifyArgon2(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, errBadArgon2Hash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errBadArgon2Hash
	}
	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, errBadArgon2Hash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errBadArgon2Hash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, errBadArgon2Hash
	}
	got := argon2.IDKey(h.peppered(password), salt, iterations, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
