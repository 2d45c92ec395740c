package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateSalt(t *testing.T) {
	salt1, err := generateSalt()
	if err != nil {
		t.Fatalf("generate salt: %v", err)
	}
	if len(salt1) != saltSize {
		t.Errorf("salt length = %d, want %d", len(salt1), saltSize)
	}

	salt2, err := generateSalt()
	if err != nil {
		t.Fatalf("generate salt 2: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("two salts should not be equal")
	}
}

func TestDeriveKeyDeterminism(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := deriveKey("offsite-pass", salt)
	key2 := deriveKey("offsite-pass", salt)

	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, deriveKey("other-pass", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	plaintext := []byte("SQLite format 3\x00 incident rows")

	sealed, err := seal(plaintext, "offsite-pass")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed output contains plaintext")
	}
	if len(sealed) <= saltSize+nonceSize {
		t.Fatalf("sealed length = %d, too small", len(sealed))
	}

	got, err := unseal(sealed, "offsite-pass")
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip = %q, want %q", got, plaintext)
	}
}

func TestUnsealWrongPassphrase(t *testing.T) {
	sealed, err := seal([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := unseal(sealed, "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}
}

func TestUnsealTampered(t *testing.T) {
	sealed, err := seal([]byte("secret data"), "pass")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := unseal(sealed, "pass"); err == nil {
		t.Error("expected error for tampered ciphertext")
	}
}

func TestSealEmpty(t *testing.T) {
	sealed, err := seal(nil, "pass")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := unseal(sealed, "pass")
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestUnsealTooSmall(t *testing.T) {
	if _, err := unseal([]byte("short"), "pass"); !errors.Is(err, errSealedTooSmall) {
		t.Errorf("err = %v, want errSealedTooSmall", err)
	}
}
