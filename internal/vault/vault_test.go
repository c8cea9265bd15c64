package vault

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := New(4)

	secret := "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	envelope, err := v.EncryptSecret(secret, "pw1")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := v.DecryptSecret(envelope, "pw1")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != secret {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	v := New(4)

	envelope, err := v.EncryptSecret("secret material", "pw1")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := v.DecryptSecret(envelope, "pw2"); !errors.Is(err, ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable, got %v", err)
	}
}

func TestDecryptCorruptedEnvelope(t *testing.T) {
	v := New(4)

	envelope, err := v.EncryptSecret("secret material", "pw1")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Flip a ciphertext nibble.
	tampered := []byte(envelope)
	last := len(tampered) - 1
	if tampered[last] == 'a' {
		tampered[last] = 'b'
	} else {
		tampered[last] = 'a'
	}
	if _, err := v.DecryptSecret(string(tampered), "pw1"); !errors.Is(err, ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable for tampered envelope, got %v", err)
	}

	if _, err := v.DecryptSecret("not-even-hex", "pw1"); !errors.Is(err, ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable for garbage envelope, got %v", err)
	}

	if _, err := v.DecryptSecret(envelope[:40], "pw1"); !errors.Is(err, ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable for truncated envelope, got %v", err)
	}
}

func TestEnvelopesAreSalted(t *testing.T) {
	v := New(4)

	first, err := v.EncryptSecret("same secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := v.EncryptSecret("same secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct envelopes for the same secret")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	v := New(4)

	hash, err := v.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if strings.Contains(hash, "correct horse") {
		t.Fatal("hash leaks plaintext")
	}
	if !v.VerifyPassword("correct horse", hash) {
		t.Fatal("expected password to verify")
	}
	if v.VerifyPassword("battery staple", hash) {
		t.Fatal("expected wrong password to fail")
	}
}
