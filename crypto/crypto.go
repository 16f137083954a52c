// Package crypto seals OAuth tokens at rest with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("crypto: sealed value failed authentication")

// Sealer encrypts and decrypts short secrets.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
	KeyID() string
}

// AESSealer implements Sealer with AES-256-GCM. Output is base64(nonce || ciphertext || tag).
type AESSealer struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (generate one with `openssl rand -base64 32`).
func NewAESSealer(base64Key, keyID string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	if keyID == "" {
		keyID = "default"
	}
	return &AESSealer{aead: aead, keyID: keyID}, nil
}

// KeyID names the key, stored alongside sealed rows for rotation.
func (s *AESSealer) KeyID() string { return s.keyID }

// Seal encrypts plaintext with a fresh random nonce. Empty input stays empty.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or truncated input returns ErrOpen.
func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(raw) < ns+s.aead.Overhead() {
		return "", ErrOpen
	}
	pt, err := s.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(pt), nil
}
