// Package cryptoutil implements the crypto primitives:
// AES-256-GCM with associated data, and the SHA-256 PKCE code_challenge
// hash. Grounded on use of crypto/aes and crypto/cipher in
// lxd/auth/oidc/keys.go (HKDF-derived symmetric keys) and the original
// source's systems/crypto.rs.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/oidcgateway/bff/internal/apierror"
)

const (
	// NonceLen is the length in bytes of the AES-GCM nonce.
	NonceLen = 12
	// TagLen is the length in bytes of the AES-GCM authentication tag.
	TagLen = 16
	// KeyLen is the required length in bytes of an AES-256 key.
	KeyLen = 32
)

// Encrypt performs AES-256-GCM encryption of plaintext using name's UTF-8
// bytes as associated data, and returns nonce‖ciphertext‖tag.
func Encrypt(name string, plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierror.Wrap(err, "constructing AES cipher")
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceLen)
	if err != nil {
		return nil, apierror.Wrap(err, "constructing GCM mode")
	}

	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, apierror.New(apierror.Internal)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, []byte(name))
	return append(nonce, sealed...), nil
}

// Decrypt reverses Encrypt. Any failure - too-short input, wrong key,
// tampered ciphertext - collapses to Unauthorized.
func Decrypt(name string, blob []byte, key []byte) ([]byte, error) {
	if len(blob) <= NonceLen {
		return nil, apierror.New(apierror.Unauthorized)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apierror.New(apierror.Unauthorized)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceLen)
	if err != nil {
		return nil, apierror.New(apierror.Unauthorized)
	}

	nonce, ciphertext := blob[:NonceLen], blob[NonceLen:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, apierror.New(apierror.Unauthorized)
	}

	return plaintext, nil
}

// Hash computes the PKCE S256 code_challenge for s: URL-safe, unpadded
// base64 of SHA-256(UTF-8(s)).
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
