package container

import (
	"encoding/binary"
	"fmt"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/cryptoprimitives"
)

const (
	magicNumber   uint32 = 0x4F435632 // "OCV2"
	formatVersion uint32 = 1

	// HeaderLength is the fixed on-disk size of the container header:
	// 32 bytes of fixed fields, the 16-byte salt at offset 32, and zero
	// padding up to 64 bytes.
	HeaderLength = 48 + cryptoprimitives.SaltLength

	// DefaultChunkSize is the fixed chunk size used to split writes: 4 MiB,
	// configurable but fixed for the lifetime of a run.
	DefaultChunkSize = 4 * 1024 * 1024
)

// header is the fixed-size region at the start of every container file.
type header struct {
	Magic          uint32
	FormatVersion  uint32
	ManifestOffset uint64
	ManifestLength uint64
	Flags          uint64
	Salt           [cryptoprimitives.SaltLength]byte
}

func (h *header) encode() []byte {
	buf := make([]byte, HeaderLength)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.FormatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.ManifestOffset)
	binary.LittleEndian.PutUint64(buf[16:24], h.ManifestLength)
	binary.LittleEndian.PutUint64(buf[24:32], h.Flags)
	copy(buf[32:32+cryptoprimitives.SaltLength], h.Salt[:])
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < HeaderLength {
		return nil, fmt.Errorf("container: truncated header (%d bytes): %w", len(buf), corerr.ErrInvalidContainerFormat)
	}
	h := &header{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		FormatVersion:  binary.LittleEndian.Uint32(buf[4:8]),
		ManifestOffset: binary.LittleEndian.Uint64(buf[8:16]),
		ManifestLength: binary.LittleEndian.Uint64(buf[16:24]),
		Flags:          binary.LittleEndian.Uint64(buf[24:32]),
	}
	copy(h.Salt[:], buf[32:32+cryptoprimitives.SaltLength])
	if h.Magic != magicNumber {
		return nil, fmt.Errorf("container: bad magic 0x%x: %w", h.Magic, corerr.ErrInvalidContainerFormat)
	}
	if h.FormatVersion != formatVersion {
		return nil, fmt.Errorf("container: unsupported format version %d: %w", h.FormatVersion, corerr.ErrInvalidContainerFormat)
	}
	return h, nil
}

// manifestOffsetFieldOffset locates the ManifestOffset u64; ManifestLength
// follows it at +8. Both are patched in place after appending a new
// manifest blob, written together as one 16-byte span so the patch is a
// single I/O op. No shadow copy of the header is kept.
const manifestOffsetFieldOffset = 8

func encodeManifestPointerPatch(offset, length uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], offset)
	binary.LittleEndian.PutUint64(buf[8:16], length)
	return buf
}
