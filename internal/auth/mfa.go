package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealNonceSize = 24
	totpPeriod    = 30
)

var ErrSealerUnavailable = errors.New("mfa secret sealing key not configured")

// SecretSealer encrypts MFA secrets at rest with NaCl secretbox. The sealed
// form is nonce || box.
type SecretSealer struct {
	key *[32]byte
}

func NewSecretSealer(key *[32]byte) *SecretSealer {
	if key == nil {
		return nil
	}
	return &SecretSealer{key: key}
}

func (s *SecretSealer) Seal(plain []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSealerUnavailable
	}
	var nonce [sealNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *SecretSealer) Open(sealed []byte) ([]byte, error) {
	if s == nil {
		return nil, ErrSealerUnavailable
	}
	if len(sealed) < sealNonceSize+secretbox.Overhead {
		return nil, errors.New("open: sealed secret too short")
	}
	var nonce [sealNonceSize]byte
	copy(nonce[:], sealed[:sealNonceSize])
	plain, ok := secretbox.Open(nil, sealed[sealNonceSize:], &nonce, s.key)
	if !ok {
		return nil, errors.New("open: authentication failed")
	}
	return plain, nil
}

// TOTP validates and enrolls RFC 6238 codes: SHA1, 6 digits, 30s step.
type TOTP struct {
	issuer string
	skew   uint
	now    func() time.Time
}

func NewTOTP(issuer string, skew uint, now func() time.Time) *TOTP {
	if now == nil {
		now = time.Now
	}
	return &TOTP{issuer: issuer, skew: skew, now: now}
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      t.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Validate reports whether code is valid for secret at the current time,
// allowing skew steps either side.
func (t *TOTP) Validate(secret, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), t.opts())
	return err == nil && ok
}

// Generate creates a new secret for account and returns it with its
// provisioning URI.
func (t *TOTP) Generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
