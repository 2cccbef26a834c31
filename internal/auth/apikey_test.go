package auth

import (
	"errors"
	"testing"
)

func TestKeyVerifier(t *testing.T) {
	hash, err := HashKey("s3cret")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	v := NewKeyVerifier(hash)

	if !v.Configured() {
		t.Fatal("verifier with a hash should report configured")
	}
	if err := v.Verify("s3cret"); err != nil {
		t.Errorf("correct key rejected: %v", err)
	}
	if err := v.Verify("wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key: got %v, want ErrInvalidKey", err)
	}
	if err := v.Verify(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty key: got %v, want ErrInvalidKey", err)
	}
}

func TestKeyVerifierUnconfigured(t *testing.T) {
	v := NewKeyVerifier("  ")
	if v.Configured() {
		t.Error("blank hash should report unconfigured")
	}
	if err := v.Verify("anything"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unconfigured verifier must reject: %v", err)
	}
}
