// Package kms abstracts external Key Management Systems that wrap and
// unwrap the container's derived master key, so the plaintext key never
// has to be held at rest alongside the container itself.
package kms

import "context"

// KeyManager wraps and unwraps a container's derived key through an
// external KMS. Implementations must never expose the plaintext master
// key outside of the KMS boundary.
//
// Current implementation: Cosmian KMIP, via github.com/ovh/kmip-go.
type KeyManager interface {
	// Provider returns a short identifier (e.g. "cosmian-kmip") used for diagnostics.
	Provider() string

	// WrapKey encrypts plaintext and returns an envelope suitable for
	// persisting alongside the container header.
	WrapKey(ctx context.Context, plaintext []byte, metadata map[string]string) (*KeyEnvelope, error)

	// UnwrapKey decrypts the ciphertext in envelope and returns the plaintext.
	UnwrapKey(ctx context.Context, envelope *KeyEnvelope, metadata map[string]string) ([]byte, error)

	// ActiveKeyVersion returns the version identifier of the primary wrapping key.
	ActiveKeyVersion(ctx context.Context) (int, error)

	// HealthCheck verifies the KMS is reachable without performing a real wrap/unwrap.
	HealthCheck(ctx context.Context) error

	// Close releases any underlying connection.
	Close(ctx context.Context) error
}

// KeyEnvelope captures what's needed to unwrap a previously wrapped key.
type KeyEnvelope struct {
	KeyID      string
	KeyVersion int
	Provider   string
	Ciphertext []byte
}

// MetaKeyVersion is a metadata key name for recording which wrapping key
// version protected a key. Nothing in this module writes it; the container
// header carries no KMS metadata.
const MetaKeyVersion = "omnicore-kms-key-version"
