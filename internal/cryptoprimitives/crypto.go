// Package cryptoprimitives implements the pure-function crypto surface (CP):
// CSPRNG, memory-hard key derivation, and AEAD encrypt/decrypt, matching the
// wire layout nonce || ciphertext || tag used throughout the container
// format.
package cryptoprimitives

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyLength is the size in bytes of a derived container key.
	KeyLength = 32
	// SaltLength is the mandated salt size. DeriveKey rejects any other length.
	SaltLength = 16
	// NonceLength is the ChaCha20-Poly1305 nonce size.
	NonceLength = chacha20poly1305.NonceSize
	// TagLength is the Poly1305 authentication tag size.
	TagLength = 16

	argonTime    = 2
	argonMemory  = 65536 // KiB, ~64 MiB
	argonThreads = 1
)

// ErrInvalidSaltLength is returned by DeriveKey when salt is not exactly
// SaltLength bytes.
var ErrInvalidSaltLength = errors.New("cryptoprimitives: salt must be exactly 16 bytes")

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("random bytes: %w", corerr.ErrEncryptionFailed)
	}
	return buf, nil
}

// DeriveKey derives a KeyLength-byte key from password and salt using
// Argon2id with fixed parameters (memory cost 64 MiB, 2 iterations, 1-lane
// parallelism). Salt must be exactly SaltLength bytes.
func DeriveKey(password string, salt []byte) ([]byte, error) {
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("%v: %w", ErrInvalidSaltLength, corerr.ErrKeyDerivationFailed)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, KeyLength)
	return key, nil
}

// Encrypt seals plaintext under key with a freshly-random nonce, returning
// nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("bad key length: %w", corerr.ErrEncryptionFailed)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, corerr.ErrEncryptionFailed)
	}
	nonce, err := RandomBytes(NonceLength)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, corerr.ErrEncryptionFailed)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+TagLength)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt opens a nonce || ciphertext || tag blob produced by Encrypt. A
// failed authentication tag is reported as corerr.ErrInvalidPassword, since
// that is how a wrong password surfaces; any other primitive failure is
// corerr.ErrDecryptionFailed.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("bad key length: %w", corerr.ErrDecryptionFailed)
	}
	if len(blob) < NonceLength+TagLength {
		return nil, fmt.Errorf("blob too short: %w", corerr.ErrDecryptionFailed)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, corerr.ErrDecryptionFailed)
	}
	nonce := blob[:NonceLength]
	ciphertextAndTag := blob[NonceLength:]
	plaintext, err := aead.Open(nil, nonce, ciphertextAndTag, nil)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, corerr.ErrInvalidPassword)
	}
	return plaintext, nil
}
