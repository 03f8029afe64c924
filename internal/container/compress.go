package container

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/klauspost/compress/zstd"
)

// compressionLevel matches CloudStorage.cpp's ZSTD level 3: a fast,
// moderate-ratio default suitable for per-chunk use.
const compressionLevel = zstd.SpeedDefault

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(compressionLevel))
	decoder, _ = zstd.NewReader(nil)
)

// compress returns the zstd-compressed form of p.
func compress(p []byte) ([]byte, error) {
	return encoder.EncodeAll(p, make([]byte, 0, len(p))), nil
}

// decompress inverts compress, growing the output buffer as needed.
func decompress(p []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(p, nil)
	if err != nil {
		return nil, fmt.Errorf("container: decompress: %w", corerr.ErrIOError)
	}
	return out, nil
}

// decompressInto decompresses p into dst, which must be exactly the
// expected original size; used on the chunk read path where the original
// size is already known from the manifest.
func decompressInto(dst, p []byte) error {
	r, err := zstd.NewReader(bytes.NewReader(p))
	if err != nil {
		return fmt.Errorf("container: new decompressor: %w", corerr.ErrIOError)
	}
	defer r.Close()

	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("container: decompress chunk: %w", corerr.ErrIOError)
	}
	if n != len(dst) {
		return fmt.Errorf("container: decompressed size mismatch (got %d want %d): %w", n, len(dst), corerr.ErrInvalidContainerFormat)
	}
	return nil
}
