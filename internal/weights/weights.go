// Package weights implements the model weight tables: the immutable
// per-layer weight tables and the versioned on-disk header format. The KV
// cache lives in internal/runtime.
package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cadellanderson/omnicore/internal/corerr"
)

const (
	magic       uint32 = 0x464C4C43 // 'CLLF'
	littleEndian uint32 = 1

	// MLPKind selects the MLP path; the loader never trusts this alone —
	// the runtime also consults W1's actual column count.
	MLPReLU   int32 = 0
	MLPSwiGLU int32 = 1

	NormLayerNorm int32 = 0
	NormRMSNorm   int32 = 1
)

// Config mirrors the CLLF weight header's architectural fields.
type Config struct {
	VocabSize     int32
	DModel        int32
	NHeads        int32
	NLayers       int32
	DFF           int32
	MaxSeq        int32
	TokenKind     int32
	MLPKind       int32
	NormKind      int32
	RopeThetaBase float32
	RopeFreqScale float32
}

// HeadDim returns DModel/NHeads; callers must have already validated that
// it divides exactly (Load does this).
func (c Config) HeadDim() int32 { return c.DModel / c.NHeads }

// LayerWeights holds one decoder layer's parameters. W1's column count is
// DFF for a ReLU MLP or 2*DFF for SwiGLU — the runtime reads W1's size to
// decide which path to take.
type LayerWeights struct {
	Wq, Wk, Wv, Wo []float32 // d_model x d_model
	W1             []float32 // d_model x (d_ff or 2*d_ff)
	B1             []float32
	W2             []float32 // d_ff x d_model
	B2             []float32
	Ln1G, Ln1B     []float32
	Ln2G, Ln2B     []float32
}

// Weights is the full immutable parameter set for a loaded model.
type Weights struct {
	Cfg      Config
	TokEmb   []float32 // vocab x d_model
	LMHead   []float32 // d_model x vocab
	LnFG     []float32
	LnFB     []float32
	Layers   []LayerWeights
}

// headerV1Size is the fixed byte length of the v1 header (magic, version,
// endian, reserved, 6 u32 dims, token_kind, pad[5]).
const headerV1Size = 4*4 + 6*4 + 4 + 5*4

// headerV2ExtraSize adds mlp_kind, norm_kind, rope_theta_base, rope_freq_scale.
const headerV2ExtraSize = 4 * 4

// Load reads a CLLF weight file header from r and allocates weight tensors
// of the declared shape, zero-valued except for norm gains set to one
// (this is the "scratch" loader: no
// pretrained tensor data follows the header in this engine's model files,
// matching the original's alloc_minimal_weights stub behavior).
func Load(r io.Reader) (*Weights, error) {
	buf := make([]byte, headerV1Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("weights: read header: %w", corerr.ErrInvalidModel)
	}

	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	version := binary.LittleEndian.Uint32(buf[4:8])
	endian := binary.LittleEndian.Uint32(buf[8:12])
	// buf[12:16] reserved

	if gotMagic != magic {
		return nil, fmt.Errorf("weights: bad magic 0x%x: %w", gotMagic, corerr.ErrInvalidModel)
	}
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("weights: unsupported version %d: %w", version, corerr.ErrInvalidModel)
	}
	if endian != littleEndian {
		return nil, fmt.Errorf("weights: unsupported endianness %d: %w", endian, corerr.ErrInvalidModel)
	}

	cfg := Config{
		VocabSize: int32(binary.LittleEndian.Uint32(buf[16:20])),
		DModel:    int32(binary.LittleEndian.Uint32(buf[20:24])),
		NHeads:    int32(binary.LittleEndian.Uint32(buf[24:28])),
		NLayers:   int32(binary.LittleEndian.Uint32(buf[28:32])),
		DFF:       int32(binary.LittleEndian.Uint32(buf[32:36])),
		MaxSeq:    int32(binary.LittleEndian.Uint32(buf[36:40])),
		TokenKind: int32(binary.LittleEndian.Uint32(buf[40:44])),
		// buf[44:64] pad[5]

		// Version-1 defaults: RMSNorm, ReLU, theta=10000, scale=1.
		MLPKind:       MLPReLU,
		NormKind:      NormRMSNorm,
		RopeThetaBase: 10000,
		RopeFreqScale: 1,
	}

	if version >= 2 {
		extra := make([]byte, headerV2ExtraSize)
		if _, err := io.ReadFull(r, extra); err != nil {
			return nil, fmt.Errorf("weights: read v2 header extension: %w", corerr.ErrInvalidModel)
		}
		cfg.MLPKind = int32(binary.LittleEndian.Uint32(extra[0:4]))
		cfg.NormKind = int32(binary.LittleEndian.Uint32(extra[4:8]))
		cfg.RopeThetaBase = math.Float32frombits(binary.LittleEndian.Uint32(extra[8:12]))
		cfg.RopeFreqScale = math.Float32frombits(binary.LittleEndian.Uint32(extra[12:16]))
	}

	if cfg.NHeads <= 0 || cfg.DModel%cfg.NHeads != 0 {
		return nil, fmt.Errorf("weights: d_model %d not divisible by n_heads %d: %w", cfg.DModel, cfg.NHeads, corerr.ErrInvalidModel)
	}
	if cfg.NLayers <= 0 || cfg.DModel <= 0 || cfg.DFF <= 0 || cfg.VocabSize <= 0 || cfg.MaxSeq <= 0 {
		return nil, fmt.Errorf("weights: non-positive dimension in header: %w", corerr.ErrInvalidModel)
	}

	return allocate(cfg), nil
}

// allocate builds tensors matching alloc_minimal_weights: norm gains (LnFG,
// Ln1G, Ln2G) are ones, everything else is zero.
func allocate(cfg Config) *Weights {
	v, d, l, ff := int(cfg.VocabSize), int(cfg.DModel), int(cfg.NLayers), int(cfg.DFF)
	w1Cols := ff
	if cfg.MLPKind == MLPSwiGLU {
		w1Cols = 2 * ff
	}

	w := &Weights{
		Cfg:    cfg,
		TokEmb: make([]float32, v*d),
		LMHead: make([]float32, d*v),
		LnFG:   onesVec(d),
		LnFB:   make([]float32, d),
		Layers: make([]LayerWeights, l),
	}
	for i := range w.Layers {
		w.Layers[i] = LayerWeights{
			Wq: make([]float32, d*d), Wk: make([]float32, d*d),
			Wv: make([]float32, d*d), Wo: make([]float32, d*d),
			W1: make([]float32, d*w1Cols), B1: make([]float32, w1Cols),
			W2: make([]float32, ff*d), B2: make([]float32, d),
			Ln1G: onesVec(d), Ln1B: make([]float32, d),
			Ln2G: onesVec(d), Ln2B: make([]float32, d),
		}
	}
	return w
}

func onesVec(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

// EncodeHeader re-emits cfg as a v2 CLLF header, the inverse of Load's
// header parsing (used by the round-trip test and by model-export tooling).
func EncodeHeader(cfg Config) []byte {
	buf := make([]byte, headerV1Size+headerV2ExtraSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], littleEndian)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(cfg.VocabSize))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(cfg.DModel))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(cfg.NHeads))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(cfg.NLayers))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(cfg.DFF))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(cfg.MaxSeq))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(cfg.TokenKind))
	binary.LittleEndian.PutUint32(buf[headerV1Size+0:headerV1Size+4], uint32(cfg.MLPKind))
	binary.LittleEndian.PutUint32(buf[headerV1Size+4:headerV1Size+8], uint32(cfg.NormKind))
	binary.LittleEndian.PutUint32(buf[headerV1Size+8:headerV1Size+12], math.Float32bits(cfg.RopeThetaBase))
	binary.LittleEndian.PutUint32(buf[headerV1Size+12:headerV1Size+16], math.Float32bits(cfg.RopeFreqScale))
	return buf
}
