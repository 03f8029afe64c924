package engine

import (
	"bytes"
	"testing"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/sampler"
	"github.com/cadellanderson/omnicore/internal/weights"
	"github.com/stretchr/testify/require"
)

func testWeights() *weights.Weights {
	cfg := weights.Config{
		VocabSize: 260, DModel: 8, NHeads: 2, NLayers: 1, DFF: 16, MaxSeq: 16,
		MLPKind: weights.MLPReLU, NormKind: weights.NormRMSNorm,
		RopeThetaBase: 10000, RopeFreqScale: 1,
	}
	w, err := weights.Load(bytes.NewReader(weights.EncodeHeader(cfg)))
	if err != nil {
		panic(err)
	}
	for i := range w.TokEmb {
		w.TokEmb[i] = 0.01 * float32((i%5)-2)
	}
	for i := range w.LMHead {
		w.LMHead[i] = 0.01 * float32((i%5)-2)
	}
	for l := range w.Layers {
		ly := &w.Layers[l]
		for _, s := range [][]float32{ly.Wq, ly.Wk, ly.Wv, ly.Wo, ly.W1, ly.W2} {
			for i := range s {
				s[i] = 0.01 * float32((i%5)-2)
			}
		}
	}
	return w
}

func TestLoadThenChatBeforeLoadFails(t *testing.T) {
	e := New()
	err := e.Chat("hi", sampler.Params{MaxTokens: 1}, nil, nil)
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestLoadRequiresWeights(t *testing.T) {
	e := New()
	require.ErrorIs(t, e.Load(LoadOptions{}), corerr.ErrInvalidModel)
}

func TestLoadAndChatProducesOutput(t *testing.T) {
	e := New()
	require.NoError(t, e.Load(LoadOptions{Weights: testWeights(), CtxLen: 16}))

	var pieces int
	var final bool
	err := e.Chat("hi", sampler.Params{MaxTokens: 4, Temperature: 0}, func(ev sampler.Event) {
		if ev.Final {
			final = true
			return
		}
		pieces++
	}, nil)
	require.NoError(t, err)
	require.True(t, final)
}

func TestChatTemplateWrapsPrompt(t *testing.T) {
	e := New()
	e.tmplName = "chat"
	require.Equal(t, "User: hi\nAssistant:", e.applyTemplate("hi"))
}

func TestUnloadClearsSession(t *testing.T) {
	e := New()
	require.NoError(t, e.Load(LoadOptions{Weights: testWeights(), CtxLen: 16}))
	require.NoError(t, e.Unload())
	require.ErrorIs(t, e.ResetSession(), corerr.ErrInvalidModel)
}

func TestEmbedUnsupported(t *testing.T) {
	e := New()
	require.NoError(t, e.Load(LoadOptions{Weights: testWeights(), CtxLen: 16}))
	_, err := e.Embed("text")
	require.ErrorIs(t, err, corerr.ErrInvalidModel)
}

func TestAvailableBackends(t *testing.T) {
	require.Equal(t, []string{"scratch"}, AvailableBackends())
	require.NotEmpty(t, BackendCapabilities("scratch"))
	require.Empty(t, BackendCapabilities("unknown"))
}
