package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	// ErrInvalidEncryptionKey is returned when the configured key is not
	// exactly the cipher's required length (32 bytes for AES-256).
	ErrInvalidEncryptionKey = errors.New("backup: invalid encryption key length, must be 32 bytes")

	ErrCiphertextTooShort = errors.New("backup: ciphertext shorter than initialization vector")
	ErrCiphertextCorrupt  = errors.New("backup: ciphertext corrupt")
)

// KeyLength is the required symmetric key length in bytes.
const KeyLength = 32

// EncryptBuffer encrypts plain with AES-256-CBC under key, prepending the
// fresh random 16-byte initialization vector to the ciphertext.
func EncryptBuffer(plain, key []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidEncryptionKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("backup: cipher init: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("backup: iv: %w", err)
	}
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// DecryptBuffer reverses EncryptBuffer: the first 16 bytes are the IV, the
// remainder CBC ciphertext.
func DecryptBuffer(encrypted, key []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidEncryptionKey
	}
	if len(encrypted) < aes.BlockSize {
		return nil, ErrCiphertextTooShort
	}
	iv, data := encrypted[:aes.BlockSize], encrypted[aes.BlockSize:]
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrCiphertextCorrupt
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("backup: cipher init: %w", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(in []byte, blockSize int) []byte {
	pad := blockSize - len(in)%blockSize
	return append(append([]byte(nil), in...), bytes.Repeat([]byte{byte(pad)}, pad)...)
}

func pkcs7Unpad(in []byte, blockSize int) ([]byte, error) {
	if len(in) == 0 || len(in)%blockSize != 0 {
		return nil, ErrCiphertextCorrupt
	}
	pad := int(in[len(in)-1])
	if pad == 0 || pad > blockSize || pad > len(in) {
		return nil, ErrCiphertextCorrupt
	}
	for _, b := range in[len(in)-pad:] {
		if int(b) != pad {
			return nil, ErrCiphertextCorrupt
		}
	}
	return in[:len(in)-pad], nil
}
