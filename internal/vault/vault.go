// Package vault performs symmetric encryption of credentials at rest.
//
// All provider secrets, refresh secrets and revealable client secrets are
// sealed through a single process-wide Vault before they reach the store.
// Decryption failures are deterministic: a wrong key, truncated or tampered
// ciphertext always yields ErrDecryption, never garbled plaintext.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecryption is returned for any ciphertext that cannot be opened:
// key mismatch, corruption, truncation or malformed encoding.
var ErrDecryption = errors.New("vault: decryption failed")

// Vault encrypts and decrypts secrets with AES-256-GCM. The 32-byte key is
// derived as SHA-256 of the configured encryption secret, so any
// non-empty passphrase yields a full-strength key.
type Vault struct {
	gcm cipher.AEAD
}

// New creates a Vault from the configured encryption secret.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault: encryption secret is required")
	}

	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("vault: creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}

	return &Vault{gcm: gcm}, nil
}

// Encrypt seals a plaintext secret. The result is
// base64url([12-byte nonce][ciphertext+GCM tag]); identical plaintexts
// produce different ciphertexts because the nonce is random.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	sealed := v.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure, including
// undecodable input and truncated data, is reported as ErrDecryption so
// rotation mistakes surface immediately.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}

	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize+v.gcm.Overhead() {
		return "", ErrDecryption
	}

	plaintext, err := v.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}

	return string(plaintext), nil
}
