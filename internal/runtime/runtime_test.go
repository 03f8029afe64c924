package runtime

import (
	"bytes"
	"testing"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/weights"
	"github.com/stretchr/testify/require"
)

func testWeights(mlpKind int32) *weights.Weights {
	cfg := weights.Config{
		VocabSize:     16,
		DModel:        8,
		NHeads:        2,
		NLayers:       2,
		DFF:           16,
		MaxSeq:        4,
		MLPKind:       mlpKind,
		NormKind:      weights.NormRMSNorm,
		RopeThetaBase: 10000,
		RopeFreqScale: 1,
	}
	return weightsAllocate(cfg)
}

// weightsAllocate loads through the public Load/EncodeHeader path so the
// allocation rule (W1 columns) is exercised the same way a real model file
// would be.
func weightsAllocate(cfg weights.Config) *weights.Weights {
	buf := weights.EncodeHeader(cfg)
	w, err := weights.Load(bytes.NewReader(buf))
	if err != nil {
		panic(err)
	}
	// Give every weight matrix a tiny nonzero diagonal-ish pattern so
	// outputs aren't trivially all-zero (still deterministic).
	seed := float32(0.01)
	fill := func(s []float32) {
		for i := range s {
			s[i] = seed * float32((i%7)-3)
		}
	}
	fill(w.TokEmb)
	fill(w.LMHead)
	for i := range w.Layers {
		ly := &w.Layers[i]
		fill(ly.Wq)
		fill(ly.Wk)
		fill(ly.Wv)
		fill(ly.Wo)
		fill(ly.W1)
		fill(ly.W2)
	}
	return w
}

func TestPrefillThenDecodeStepAdvancesSeqLen(t *testing.T) {
	w := testWeights(weights.MLPReLU)
	rt, err := Load(w)
	require.NoError(t, err)

	logits, err := rt.Prefill([]int{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, logits, int(w.Cfg.VocabSize))
	require.Equal(t, 3, rt.SeqLen())

	logits, err = rt.DecodeStep(4)
	require.NoError(t, err)
	require.Len(t, logits, int(w.Cfg.VocabSize))
	require.Equal(t, 4, rt.SeqLen())
}

func TestSwiGLUPathRuns(t *testing.T) {
	w := testWeights(weights.MLPSwiGLU)
	rt, err := Load(w)
	require.NoError(t, err)
	_, err = rt.Prefill([]int{0, 1})
	require.NoError(t, err)
}

func TestEmptyPromptFails(t *testing.T) {
	w := testWeights(weights.MLPReLU)
	rt, err := Load(w)
	require.NoError(t, err)
	_, err = rt.Prefill(nil)
	require.ErrorIs(t, err, corerr.ErrEmptyInput)
}

func TestContextExhaustion(t *testing.T) {
	w := testWeights(weights.MLPReLU)
	rt, err := Load(w)
	require.NoError(t, err)

	_, err = rt.Prefill([]int{0, 1, 2, 3}) // fills max_seq=4
	require.NoError(t, err)
	require.Equal(t, 4, rt.SeqLen())

	_, err = rt.DecodeStep(0)
	require.ErrorIs(t, err, corerr.ErrContextExhausted)
}

func TestDecodeWithoutSessionFails(t *testing.T) {
	w := testWeights(weights.MLPReLU)
	rt, err := Load(w)
	require.NoError(t, err)
	_, err = rt.DecodeStep(0)
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestResetSessionZeroesCache(t *testing.T) {
	w := testWeights(weights.MLPReLU)
	rt, err := Load(w)
	require.NoError(t, err)

	_, err = rt.Prefill([]int{0, 1})
	require.NoError(t, err)
	require.Equal(t, 2, rt.SeqLen())

	rt.ResetSession()
	require.Equal(t, 0, rt.SeqLen())
	for _, kv := range rt.kv {
		for _, v := range kv.K {
			require.Zero(t, v)
		}
	}
}

func TestDeterministicDecodeForFixedWeights(t *testing.T) {
	w1 := testWeights(weights.MLPReLU)
	rt1, err := Load(w1)
	require.NoError(t, err)
	logits1, err := rt1.Prefill([]int{1, 2, 3})
	require.NoError(t, err)

	w2 := testWeights(weights.MLPReLU)
	rt2, err := Load(w2)
	require.NoError(t, err)
	logits2, err := rt2.Prefill([]int{1, 2, 3})
	require.NoError(t, err)

	require.Equal(t, logits1, logits2)
}
