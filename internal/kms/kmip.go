package kms

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/ovh/kmip-go"
	"github.com/ovh/kmip-go/payloads"
)

// KMIPKeyReference names one wrapping key known to the KMS, by version.
type KMIPKeyReference struct {
	ID      string
	Version int
}

// CosmianKMIPOptions configures a KMIPManager.
type CosmianKMIPOptions struct {
	Endpoint       string
	Keys           []KMIPKeyReference
	TLSConfig      *tls.Config
	Timeout        time.Duration
	Provider       string
	DualReadWindow int // stored only; UnwrapKey tries just the envelope's own key
}

// KMIPManager wraps/unwraps keys through a KMIP 2.x server (tested against
// Cosmian KMS, but speaks plain KMIP so any compliant server works).
type KMIPManager struct {
	mu       sync.RWMutex
	client   *kmip.Client
	opts     CosmianKMIPOptions
	byID     map[string]int
	versions map[int]string
	active   KMIPKeyReference
}

// NewCosmianKMIPManager dials the KMIP server at opts.Endpoint and returns a
// ready-to-use KeyManager.
func NewCosmianKMIPManager(opts CosmianKMIPOptions) (*KMIPManager, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("kms: endpoint required")
	}
	if len(opts.Keys) == 0 {
		return nil, fmt.Errorf("kms: at least one key reference required")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Provider == "" {
		opts.Provider = "cosmian-kmip"
	}

	client, err := kmip.Dial(opts.Endpoint, kmip.WithTLSConfig(opts.TLSConfig), kmip.WithTimeout(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("kms: dial %s: %w", opts.Endpoint, err)
	}

	byID := make(map[string]int, len(opts.Keys))
	versions := make(map[int]string, len(opts.Keys))
	active := opts.Keys[0]
	for _, k := range opts.Keys {
		byID[k.ID] = k.Version
		versions[k.Version] = k.ID
		if k.Version > active.Version {
			active = k
		}
	}

	return &KMIPManager{
		client:   client,
		opts:     opts,
		byID:     byID,
		versions: versions,
		active:   active,
	}, nil
}

// Provider returns the configured provider identifier.
func (m *KMIPManager) Provider() string { return m.opts.Provider }

// WrapKey asks the KMS to encrypt plaintext under the active wrapping key.
func (m *KMIPManager) WrapKey(ctx context.Context, plaintext []byte, _ map[string]string) (*KeyEnvelope, error) {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	resp, err := kmip.Send[*payloads.EncryptResponsePayload](ctx, m.client, &payloads.EncryptRequestPayload{
		UniqueIdentifier: active.ID,
		Data:             plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: wrap key: %w", err)
	}

	return &KeyEnvelope{
		KeyID:      active.ID,
		KeyVersion: active.Version,
		Provider:   m.opts.Provider,
		Ciphertext: resp.Data,
	}, nil
}

// UnwrapKey decrypts envelope.Ciphertext under the key it names, falling
// back to a version lookup if the envelope's KeyID is empty (older
// envelopes predating key rotation).
func (m *KMIPManager) UnwrapKey(ctx context.Context, envelope *KeyEnvelope, _ map[string]string) ([]byte, error) {
	keyID := envelope.KeyID
	if keyID == "" {
		m.mu.RLock()
		keyID = m.versions[envelope.KeyVersion]
		m.mu.RUnlock()
		if keyID == "" {
			return nil, fmt.Errorf("kms: no key registered for version %d", envelope.KeyVersion)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	resp, err := kmip.Send[*payloads.DecryptResponsePayload](ctx, m.client, &payloads.DecryptRequestPayload{
		UniqueIdentifier: keyID,
		Data:             envelope.Ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: unwrap key: %w", err)
	}
	return resp.Data, nil
}

// ActiveKeyVersion returns the version of the key new wraps use.
func (m *KMIPManager) ActiveKeyVersion(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Version, nil
}

// HealthCheck performs a lightweight Get against the active key.
func (m *KMIPManager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	active := m.active
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	_, err := kmip.Send[*payloads.GetResponsePayload](ctx, m.client, &payloads.GetRequestPayload{
		UniqueIdentifier: active.ID,
	})
	if err != nil {
		return fmt.Errorf("kms: health check: %w", err)
	}
	return nil
}

// Close releases the underlying KMIP connection.
func (m *KMIPManager) Close(_ context.Context) error {
	return m.client.Close()
}
