package backup

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeyLength)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("auth state payload with some length to cross a block boundary")
	enc, err := EncryptBuffer(plain, testKey())
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(enc, plain) {
		t.Fatal("ciphertext contains plaintext")
	}
	got, err := DecryptBuffer(enc, testKey())
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestEncryptRejectsShortKey(t *testing.T) {
	if _, err := EncryptBuffer([]byte("x"), []byte("short")); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("expected ErrInvalidEncryptionKey, got %v", err)
	}
	if _, err := DecryptBuffer(make([]byte, 48), []byte("short")); !errors.Is(err, ErrInvalidEncryptionKey) {
		t.Fatalf("expected ErrInvalidEncryptionKey, got %v", err)
	}
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	if _, err := DecryptBuffer(make([]byte, 8), testKey()); !errors.Is(err, ErrCiphertextTooShort) {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc, err := EncryptBuffer([]byte("payload"), testKey())
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	other := bytes.Repeat([]byte{0x24}, KeyLength)
	got, err := DecryptBuffer(enc, other)
	if err == nil && bytes.Equal(got, []byte("payload")) {
		t.Fatal("wrong key recovered the plaintext")
	}
}
