// Package credentials encrypts external provider credentials for at-rest
// storage in a short-lived HTTP-only cookie, and decrypts them when the
// account-creation step consumes them.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"gatekit/pkg/problems"
)

func init() {
	problems.Register(ErrDecryptionFailed, 401, "credential-missing", "no usable credential present")
}

// ErrDecryptionFailed covers malformed, truncated or tampered payloads.
// Callers treat it as "no credential present"; it must never crash a flow.
var ErrDecryptionFailed = errors.New("credential decryption failed")

// appSalt is fixed and application-wide. Values are short-lived and the
// server secret is the primary defense, so per-record salts buy nothing here.
var appSalt = []byte("gatekit.credential.v1")

const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
	keyLen  = 32
	tagLen  = 16
)

// Box performs authenticated symmetric encryption with a key derived once
// from the server secret. Wire format: base64url(nonce ‖ authTag ‖ ciphertext).
type Box struct {
	aead cipher.AEAD
}

// NewBox derives the AEAD key from secret via scrypt. The derivation is
// deliberately slow; do it once at startup and reuse the Box.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("encryption secret is required")
	}
	key, err := scrypt.Key([]byte(secret), appSalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The nonce is never
// derived from content; generating it per call is what keeps GCM safe here.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := b.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal returns ciphertext‖tag; reorder to nonce‖tag‖ciphertext.
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens an Encrypt output. Any modification of the payload fails
// with ErrDecryptionFailed rather than yielding corrupted plaintext.
func (b *Box) Decrypt(opaque string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(opaque)
	if err != nil {
		return "", fmt.Errorf("%w: bad encoding", ErrDecryptionFailed)
	}
	ns := b.aead.NonceSize()
	if len(raw) < ns+tagLen {
		return "", fmt.Errorf("%w: short payload", ErrDecryptionFailed)
	}
	nonce := raw[:ns]
	tag := raw[ns : ns+tagLen]
	ct := raw[ns+tagLen:]
	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}
