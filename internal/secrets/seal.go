// Package secrets seals account credentials at rest and hashes API tokens.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const sealPrefix = "v1:"

var (
	ErrKeySize      = errors.New("secrets: key must be exactly 32 bytes")
	ErrInvalidToken = errors.New("secrets: invalid sealed token")
)

// Seal encrypts plaintext with AES-256-GCM under a random 12-byte nonce and
// returns "v1:" + base64url(nonce || ciphertext).
func Seal(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return sealPrefix + base64.URLEncoding.EncodeToString(sealed), nil
}

// Unseal reverses Seal. Tampered input or the wrong key yields ErrInvalidToken.
func Unseal(token string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(token, sealPrefix) {
		return nil, fmt.Errorf("%w: missing version prefix", ErrInvalidToken)
	}
	raw, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(token, sealPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding", ErrInvalidToken)
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrInvalidToken)
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrInvalidToken)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
