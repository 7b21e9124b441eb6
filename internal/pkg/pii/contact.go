// Package pii handles encrypted-at-rest member contact details. Each contact
// value is stored as an opaque AES-GCM payload plus a deterministic SHA-256
// lookup hash; equality lookups go through the hash so the retention engine
// never touches plaintext.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidPayload is returned when an encrypted payload is malformed or was
// produced with a different key.
var ErrInvalidPayload = errors.New("invalid encrypted payload")

// Codec encrypts and hashes contact values with a fixed 32-byte key.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec creates a codec from a 32-byte AES-256 key.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("contact key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// NewCodecFromHex creates a codec from a hex-encoded key string.
func NewCodecFromHex(hexKey string) (*Codec, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("decode contact key: %w", err)
	}
	return NewCodec(key)
}

// Hash returns the deterministic lookup hash of a normalized contact value.
// Normalization lowercases and trims so "Jane@Gym.COM " and "jane@gym.com"
// hash identically.
func Hash(contact string) string {
	normalized := strings.ToLower(strings.TrimSpace(contact))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Encrypt seals a contact value. The random nonce is prepended to the
// ciphertext.
func (c *Codec) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (c *Codec) Decrypt(payload []byte) (string, error) {
	ns := c.aead.NonceSize()
	if len(payload) < ns {
		return "", ErrInvalidPayload
	}
	plain, err := c.aead.Open(nil, payload[:ns], payload[ns:], nil)
	if err != nil {
		return "", ErrInvalidPayload
	}
	return string(plain), nil
}
