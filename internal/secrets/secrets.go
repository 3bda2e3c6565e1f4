// Package secrets encrypts host credentials (passwords, private keys,
// passphrases) for at-rest storage in the inventory database.
//
// Blobs are AES-256-GCM with a fresh random nonce per call, encoded as
// Base64(nonce || ciphertext). The symmetric key comes from configuration;
// a missing or malformed key is a construction-time error so the server
// fails at startup rather than on the first host save.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	keyLength   = 32 // AES-256
	nonceLength = 12 // GCM standard nonce size
)

// Service performs authenticated encryption of credential material. It is
// stateless apart from the held key and safe for concurrent use.
type Service struct {
	aead cipher.AEAD
}

// NewService builds a Service from a base64-encoded 32-byte key.
func NewService(base64Key string) (*Service, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("secrets: encryption key is not configured")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", keyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}
	return &Service{aead: aead}, nil
}

// Encrypt seals plaintext into a Base64(nonce || ciphertext) blob.
// An empty plaintext encrypts to an empty blob.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt. Truncated or tampered input
// fails; corrupted plaintext is never returned silently.
func (s *Service) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("secrets: decode blob: %w", err)
	}
	if len(raw) < nonceLength+1 {
		return "", fmt.Errorf("secrets: encrypted payload too short")
	}

	plaintext, err := s.aead.Open(nil, raw[:nonceLength], raw[nonceLength:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Mask returns a redacted preview of a secret for display and logs.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
