// Package vault encrypts and decrypts provider credentials at rest.
//
// The AES key is derived once from the configured engine secret with
// PBKDF2-SHA256 and cached for the process lifetime; the vault value is
// write-once at startup and read-only afterwards, so no locking is needed.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	keyLenBytes   = 32
)

// kdfSalt is fixed: ciphertexts must remain decryptable across restarts
// and the secret itself is already high-entropy operator configuration.
var kdfSalt = []byte("tone_salt")

// ErrCredential is returned when a ciphertext is malformed or was encrypted
// under a different key. Callers treat the credential as unusable, not the
// process as broken.
var ErrCredential = errors.New("credential cannot be decrypted")

// Vault performs symmetric encryption of provider secrets.
type Vault struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret and returns a ready vault.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret must not be empty")
	}
	key := pbkdf2.Key([]byte(secret), kdfSalt, kdfIterations, keyLenBytes, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64url token of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any malformed or foreign token yields an error
// wrapping ErrCredential; the error never contains key or plaintext material.
func (v *Vault) Decrypt(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrCredential)
	}
	if len(raw) < v.aead.NonceSize() {
		return "", fmt.Errorf("%w: token too short", ErrCredential)
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrCredential)
	}
	return string(plaintext), nil
}
