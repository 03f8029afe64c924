// Package corerr defines the typed, sentinel-wrapped error kinds shared by
// the container engine and the transformer runtime. Every failure mode in
// the system is one of these kinds; callers compare with errors.Is, never
// string matching.
package corerr

import "errors"

// Kind identifies one of the error categories surfaced across the gateway.
type Kind string

const (
	KindContainerNotFound      Kind = "container_not_found"
	KindFileExists             Kind = "file_exists"
	KindInvalidContainerFormat Kind = "invalid_container_format"
	KindInvalidPassword        Kind = "invalid_password"
	KindFileNotFound           Kind = "file_not_found"
	KindIOError                Kind = "io_error"
	KindKeyDerivationFailed    Kind = "key_derivation_failed"
	KindEncryptionFailed       Kind = "encryption_failed"
	KindDecryptionFailed       Kind = "decryption_failed"
	KindOutOfMemory            Kind = "out_of_memory"
	KindInvalidModel           Kind = "invalid_model"
	KindEmptyInput             Kind = "empty_input"
	KindContextExhausted       Kind = "context_exhausted"
	KindCancelled              Kind = "cancelled"
)

// Sentinel errors, one per Kind. Wrapped errors carry additional context
// via fmt.Errorf("...: %w", ErrFileNotFound) and remain errors.Is-comparable.
var (
	ErrContainerNotFound      = errors.New(string(KindContainerNotFound))
	ErrFileExists             = errors.New(string(KindFileExists))
	ErrInvalidContainerFormat = errors.New(string(KindInvalidContainerFormat))
	ErrInvalidPassword        = errors.New(string(KindInvalidPassword))
	ErrFileNotFound           = errors.New(string(KindFileNotFound))
	ErrIOError                = errors.New(string(KindIOError))
	ErrKeyDerivationFailed    = errors.New(string(KindKeyDerivationFailed))
	ErrEncryptionFailed       = errors.New(string(KindEncryptionFailed))
	ErrDecryptionFailed       = errors.New(string(KindDecryptionFailed))
	ErrOutOfMemory            = errors.New(string(KindOutOfMemory))
	ErrInvalidModel           = errors.New(string(KindInvalidModel))
	ErrEmptyInput             = errors.New(string(KindEmptyInput))
	ErrContextExhausted       = errors.New(string(KindContextExhausted))
	ErrCancelled              = errors.New(string(KindCancelled))
)

var kindToErr = map[Kind]error{
	KindContainerNotFound:      ErrContainerNotFound,
	KindFileExists:             ErrFileExists,
	KindInvalidContainerFormat: ErrInvalidContainerFormat,
	KindInvalidPassword:        ErrInvalidPassword,
	KindFileNotFound:           ErrFileNotFound,
	KindIOError:                ErrIOError,
	KindKeyDerivationFailed:    ErrKeyDerivationFailed,
	KindEncryptionFailed:       ErrEncryptionFailed,
	KindDecryptionFailed:       ErrDecryptionFailed,
	KindOutOfMemory:            ErrOutOfMemory,
	KindInvalidModel:           ErrInvalidModel,
	KindEmptyInput:             ErrEmptyInput,
	KindContextExhausted:       ErrContextExhausted,
	KindCancelled:              ErrCancelled,
}

// Sentinel returns the package-level sentinel error for k, or nil if k is
// unrecognized.
func Sentinel(k Kind) error {
	return kindToErr[k]
}

// Wrap attaches msg as context to the sentinel for k.
func Wrap(k Kind, msg string) error {
	base := kindToErr[k]
	if base == nil {
		base = errors.New(string(k))
	}
	if msg == "" {
		return base
	}
	return &wrapped{kind: k, msg: msg, base: base}
}

type wrapped struct {
	kind Kind
	msg  string
	base error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.base.Error() }
func (w *wrapped) Unwrap() error { return w.base }

// KindOf walks err's Unwrap chain and returns the matching Kind, or "" if
// none of the sentinels match.
func KindOf(err error) Kind {
	for k, sentinel := range kindToErr {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return ""
}
