// Package manifest implements the Manifest Codec (MC): a deterministic,
// length-prefixed little-endian binary serialization of the directory of
// file entries that lives inside an encrypted container.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cadellanderson/omnicore/internal/corerr"
)

// Version is the only manifest format version this codec accepts.
const Version uint32 = 1

// ChunkRef describes the physical layout of one chunk of a file's bytes.
type ChunkRef struct {
	Offset         uint64
	CompressedSize uint32
	OriginalSize   uint32
}

// FileEntry binds a virtual path to its metadata and ordered chunk list.
type FileEntry struct {
	Path         string
	OriginalSize uint64
	Ctime        uint64
	Mtime        uint64
	Chunks       []ChunkRef
}

// Manifest is the ordered list of FileEntry held by a container.
type Manifest struct {
	Version uint32
	Files   []FileEntry
}

// New returns an empty, version-1 manifest.
func New() *Manifest {
	return &Manifest{Version: Version}
}

// Find returns the FileEntry for path and true, or the zero value and false.
func (m *Manifest) Find(path string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Put replaces any existing entry for e.Path, or appends it.
func (m *Manifest) Put(e FileEntry) {
	for i := range m.Files {
		if m.Files[i].Path == e.Path {
			m.Files[i] = e
			return
		}
	}
	m.Files = append(m.Files, e)
}

// Delete removes the entry for path, reporting whether it existed.
func (m *Manifest) Delete(path string) bool {
	for i := range m.Files {
		if m.Files[i].Path == path {
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
			return true
		}
	}
	return false
}

// Paths returns every virtual path currently in the manifest, in no
// particular order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		out = append(out, f.Path)
	}
	return out
}

// Serialize writes m using the grammar:
//
//	Manifest  := u32 version | u32 file_count | FileEntry{file_count}
//	FileEntry := String path | u64 original_size | u64 ctime | u64 mtime
//	             | u32 chunk_count | ChunkRef{chunk_count}
//	ChunkRef  := u64 offset | u32 compressed_size | u32 original_size
//	String    := u32 length | bytes{length}
func Serialize(m *Manifest) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte

	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		buf.Write(u32[:])
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		buf.Write(u64[:])
	}
	putString := func(s string) {
		putU32(uint32(len(s)))
		buf.WriteString(s)
	}

	putU32(Version)
	putU32(uint32(len(m.Files)))
	for _, f := range m.Files {
		putString(f.Path)
		putU64(f.OriginalSize)
		putU64(f.Ctime)
		putU64(f.Mtime)
		putU32(uint32(len(f.Chunks)))
		for _, c := range f.Chunks {
			putU64(c.Offset)
			putU32(c.CompressedSize)
			putU32(c.OriginalSize)
		}
	}
	return buf.Bytes()
}

// StrictMode controls whether Deserialize rejects trailing bytes after a
// fully-parsed manifest. Default behavior (StrictOff) ignores trailing
// bytes to allow forward-compatible extensions.
type StrictMode bool

const (
	StrictOff StrictMode = false
	StrictOn  StrictMode = true
)

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("manifest: unexpected end of buffer: %w", corerr.ErrInvalidContainerFormat)
	}
	return nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Deserialize parses buf into a Manifest. It rejects version != 1 and any
// read past the end of buf. Trailing bytes after the last FileEntry are
// ignored unless strict is StrictOn.
func Deserialize(buf []byte, strict StrictMode) (*Manifest, error) {
	r := &reader{buf: buf}

	version, err := r.u32()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("manifest: unsupported version %d: %w", version, corerr.ErrInvalidContainerFormat)
	}

	fileCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	m := &Manifest{Version: version, Files: make([]FileEntry, 0, fileCount)}
	for i := uint32(0); i < fileCount; i++ {
		var f FileEntry
		if f.Path, err = r.string(); err != nil {
			return nil, err
		}
		if f.OriginalSize, err = r.u64(); err != nil {
			return nil, err
		}
		if f.Ctime, err = r.u64(); err != nil {
			return nil, err
		}
		if f.Mtime, err = r.u64(); err != nil {
			return nil, err
		}
		chunkCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		f.Chunks = make([]ChunkRef, 0, chunkCount)
		for j := uint32(0); j < chunkCount; j++ {
			var c ChunkRef
			if c.Offset, err = r.u64(); err != nil {
				return nil, err
			}
			if c.CompressedSize, err = r.u32(); err != nil {
				return nil, err
			}
			if c.OriginalSize, err = r.u32(); err != nil {
				return nil, err
			}
			f.Chunks = append(f.Chunks, c)
		}
		m.Files = append(m.Files, f)
	}

	if strict == StrictOn && r.pos != len(r.buf) {
		return nil, fmt.Errorf("manifest: %d trailing bytes: %w", len(r.buf)-r.pos, corerr.ErrInvalidContainerFormat)
	}
	return m, nil
}
