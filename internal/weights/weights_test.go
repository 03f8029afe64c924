package weights

import (
	"bytes"
	"testing"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		VocabSize:     260,
		DModel:        32,
		NHeads:        4,
		NLayers:       2,
		DFF:           64,
		MaxSeq:        128,
		TokenKind:     0,
		MLPKind:       MLPSwiGLU,
		NormKind:      NormRMSNorm,
		RopeThetaBase: 10000,
		RopeFreqScale: 1,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	cfg := testConfig()
	buf := EncodeHeader(cfg)

	w, err := Load(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, cfg, w.Cfg)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	cfg := testConfig()
	buf := EncodeHeader(cfg)
	buf[0] ^= 0xFF
	_, err := Load(bytes.NewReader(buf))
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	cfg := testConfig()
	buf := EncodeHeader(cfg)
	buf[4] = 9
	_, err := Load(bytes.NewReader(buf))
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestLoadRejectsIndivisibleHeads(t *testing.T) {
	cfg := testConfig()
	cfg.NHeads = 3 // 32 % 3 != 0
	buf := EncodeHeader(cfg)
	_, err := Load(bytes.NewReader(buf))
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestV1HeaderAppliesDefaults(t *testing.T) {
	cfg := testConfig()
	buf := EncodeHeader(cfg)
	buf = buf[:headerV1Size]
	binaryPutVersion1(buf)

	w, err := Load(bytes.NewReader(buf))
	require.NoError(t, err)
	require.Equal(t, MLPReLU, w.Cfg.MLPKind)
	require.Equal(t, NormRMSNorm, w.Cfg.NormKind)
	require.Equal(t, float32(10000), w.Cfg.RopeThetaBase)
	require.Equal(t, float32(1), w.Cfg.RopeFreqScale)
}

func TestAllocateSwiGLUDoublesW1Columns(t *testing.T) {
	cfg := testConfig()
	w, err := Load(bytes.NewReader(EncodeHeader(cfg)))
	require.NoError(t, err)

	d, ff := int(cfg.DModel), int(cfg.DFF)
	require.Len(t, w.Layers[0].W1, d*2*ff)
	require.Len(t, w.Layers[0].B1, 2*ff)
}

func TestAllocateReLUKeepsW1Columns(t *testing.T) {
	cfg := testConfig()
	cfg.MLPKind = MLPReLU
	w, err := Load(bytes.NewReader(EncodeHeader(cfg)))
	require.NoError(t, err)

	d, ff := int(cfg.DModel), int(cfg.DFF)
	require.Len(t, w.Layers[0].W1, d*ff)
	require.Len(t, w.Layers[0].B1, ff)
}

func binaryPutVersion1(buf []byte) {
	buf[4] = 1
	buf[5], buf[6], buf[7] = 0, 0, 0
}
