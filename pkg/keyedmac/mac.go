// Package keyedmac authenticates canonical payload encodings with an
// HMAC-SHA256 keyed on a process-wide secret.
package keyedmac

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// MACError is a typed error for MAC-related errors.
type MACError string

func (e MACError) Error() string { return string(e) }

// ErrEmptySecret is returned when a Signer is constructed without a secret.
const ErrEmptySecret = MACError("secret must not be empty")

// Signer signs and verifies canonical payloads with a shared secret.
// The secret is held for the life of the process and is never logged.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer from the process secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	s := &Signer{secret: make([]byte, len(secret))}
	copy(s.secret, secret)
	return s, nil
}

// Sign canonicalises payload and returns the hex-encoded MAC digest.
func (s *Signer) Sign(payload any) (string, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	return s.SignCanonical(canonical), nil
}

// SignCanonical computes the MAC of an already-canonical encoding.
func (s *Signer) SignCanonical(canonical []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the MAC over payload and compares it to signature in
// constant time.
func (s *Signer) Verify(payload any, signature string) (bool, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return false, err
	}
	return s.VerifyCanonical(canonical, signature), nil
}

// VerifyCanonical compares the MAC of an already-canonical encoding to
// signature in constant time.
func (s *Signer) VerifyCanonical(canonical []byte, signature string) bool {
	expected := s.SignCanonical(canonical)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Zeroise overwrites the in-memory secret. The Signer is unusable afterwards;
// call only during teardown.
func (s *Signer) Zeroise() {
	for i := range s.secret {
		s.secret[i] = 0
	}
}
