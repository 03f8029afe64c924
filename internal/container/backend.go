package container

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cadellanderson/omnicore/internal/corerr"
)

// Backend abstracts the raw byte-addressable storage a container is laid
// out on top of. The container engine only ever reads fixed-length spans at
// known offsets, appends new spans at EOF, and patches the fixed header in
// place — so that is the entire surface a backend must provide.
type Backend interface {
	// Exists reports whether the underlying object already has content.
	Exists() (bool, error)
	// Create truncates (or creates) the backing object and writes initial
	// header bytes to it.
	Create(header []byte) error
	// ReadAt reads exactly len(p) bytes starting at off.
	ReadAt(p []byte, off int64) error
	// Append writes p at the current end of the object and returns the
	// offset it was written at.
	Append(p []byte) (offset int64, err error)
	// PatchAt overwrites len(p) bytes at off; used only for the fixed
	// header fields.
	PatchAt(p []byte, off int64) error
	// Size returns the current length of the backing object.
	Size() (int64, error)
	// Close releases any resources held by the backend.
	Close() error
}

// LocalBackend stores a container as a single regular file on local disk.
// Grounded on CloudStorage.cpp's std::fstream usage: header written first,
// chunk region appended to, manifest patched into the fixed header fields.
type LocalBackend struct {
	path string
	f    *os.File
}

// OpenLocalBackend opens an existing container file.
func OpenLocalBackend(path string) (*LocalBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("container: open backing file: %w", corerr.ErrIOError)
	}
	return &LocalBackend{path: path, f: f}, nil
}

// NewLocalBackend returns a backend bound to path without opening it yet;
// Create opens a new file, and Exists opens the file when it is already
// present.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{path: path}
}

func (b *LocalBackend) Exists() (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		if b.f == nil {
			f, err := os.OpenFile(b.path, os.O_RDWR, 0o600)
			if err != nil {
				return false, fmt.Errorf("container: open backing file: %w", corerr.ErrIOError)
			}
			b.f = f
		}
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("container: stat backing file: %w", corerr.ErrIOError)
}

func (b *LocalBackend) Create(headerBytes []byte) error {
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("container: create parent directories: %w", corerr.ErrIOError)
		}
	}
	f, err := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("container: create backing file: %w", corerr.ErrIOError)
	}
	if _, err := f.Write(headerBytes); err != nil {
		f.Close()
		return fmt.Errorf("container: write header: %w", corerr.ErrIOError)
	}
	b.f = f
	return nil
}

func (b *LocalBackend) ReadAt(p []byte, off int64) error {
	if _, err := b.f.ReadAt(p, off); err != nil && err != io.EOF {
		return fmt.Errorf("container: read at %d: %w", off, corerr.ErrIOError)
	}
	return nil
}

func (b *LocalBackend) Append(p []byte) (int64, error) {
	off, err := b.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("container: seek end: %w", corerr.ErrIOError)
	}
	if _, err := b.f.Write(p); err != nil {
		return 0, fmt.Errorf("container: append write: %w", corerr.ErrIOError)
	}
	if err := b.f.Sync(); err != nil {
		return 0, fmt.Errorf("container: sync: %w", corerr.ErrIOError)
	}
	return off, nil
}

func (b *LocalBackend) PatchAt(p []byte, off int64) error {
	if _, err := b.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("container: patch at %d: %w", off, corerr.ErrIOError)
	}
	return b.f.Sync()
}

func (b *LocalBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("container: stat: %w", corerr.ErrIOError)
	}
	return fi.Size(), nil
}

func (b *LocalBackend) Close() error {
	if b.f == nil {
		return nil
	}
	return b.f.Close()
}
