// Package auth verifies API credentials for the management API.
package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidKey = errors.New("invalid api key")

// KeyVerifier checks presented API keys against a bcrypt hash configured at
// startup. The plaintext key is never stored.
type KeyVerifier struct {
	hash []byte
}

// NewKeyVerifier accepts a bcrypt hash of the API key. An empty hash yields a
// verifier that rejects everything, which keeps an unconfigured deployment
// closed rather than open.
func NewKeyVerifier(hash string) *KeyVerifier {
	return &KeyVerifier{hash: []byte(strings.TrimSpace(hash))}
}

// Configured reports whether a key hash was provided.
func (v *KeyVerifier) Configured() bool {
	return len(v.hash) > 0
}

// Verify checks a presented key. bcrypt comparison is constant-time with
// respect to the key material.
func (v *KeyVerifier) Verify(key string) error {
	if !v.Configured() || key == "" {
		return ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(key)); err != nil {
		return ErrInvalidKey
	}
	return nil
}

// HashKey produces a bcrypt hash suitable for the API_KEY_HASH setting. Used
// by the keygen command, not by the server path.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
