// Package runtime implements the transformer decode runtime: the
// single-token decode step shared by prefill and decode_step, the KV cache
// it reads and writes, and the Uninitialized -> Loaded -> SessionActive
// state machine.
package runtime

import (
	"fmt"
	"math"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/kernel"
	"github.com/cadellanderson/omnicore/internal/weights"
)

// State is the runtime's lifecycle stage.
type State int

const (
	Uninitialized State = iota
	Loaded
	SessionActive
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case SessionActive:
		return "session_active"
	default:
		return "uninitialized"
	}
}

// KVCache holds one layer's key/value tensors, addressed by (head, position).
type KVCache struct {
	HeadDim int
	MaxSeq  int
	NHeads  int
	K       []float32
	V       []float32
}

func newKVCache(heads, maxSeq, headDim int) KVCache {
	return KVCache{
		HeadDim: headDim,
		MaxSeq:  maxSeq,
		NHeads:  heads,
		K:       make([]float32, heads*maxSeq*headDim),
		V:       make([]float32, heads*maxSeq*headDim),
	}
}

func (kv *KVCache) slotOffset(h, t int) int { return (h*kv.MaxSeq + t) * kv.HeadDim }

// KPtr returns the writable slice for head h, position t.
func (kv *KVCache) KPtr(h, t int) []float32 {
	off := kv.slotOffset(h, t)
	return kv.K[off : off+kv.HeadDim]
}

// VPtr returns the writable slice for head h, position t.
func (kv *KVCache) VPtr(h, t int) []float32 {
	off := kv.slotOffset(h, t)
	return kv.V[off : off+kv.HeadDim]
}

func (kv *KVCache) reset() {
	for i := range kv.K {
		kv.K[i] = 0
	}
	for i := range kv.V {
		kv.V[i] = 0
	}
}

// Runtime is a loaded model paired with its KV cache and decoding cursor.
type Runtime struct {
	state  State
	w      *weights.Weights
	kv     []KVCache
	seqLen int
}

// Load allocates a fresh Runtime over w, validating the shape invariants
// that are fatal at load time.
func Load(w *weights.Weights) (*Runtime, error) {
	cfg := w.Cfg
	if cfg.NHeads <= 0 || cfg.DModel%cfg.NHeads != 0 {
		return nil, fmt.Errorf("runtime: head_dim does not divide evenly: %w", corerr.ErrInvalidModel)
	}
	if len(w.Layers) != int(cfg.NLayers) {
		return nil, fmt.Errorf("runtime: layer count mismatch: %w", corerr.ErrInvalidModel)
	}

	headDim := int(cfg.HeadDim())
	kv := make([]KVCache, cfg.NLayers)
	for i := range kv {
		kv[i] = newKVCache(int(cfg.NHeads), int(cfg.MaxSeq), headDim)
	}

	return &Runtime{state: Loaded, w: w, kv: kv, seqLen: 0}, nil
}

// ResetSession zeroes the KV cache and cursor, entering SessionActive.
func (rt *Runtime) ResetSession() {
	rt.seqLen = 0
	for i := range rt.kv {
		rt.kv[i].reset()
	}
	rt.state = SessionActive
}

// SeqLen returns the number of tokens committed to the cache so far.
func (rt *Runtime) SeqLen() int { return rt.seqLen }

// State returns the runtime's current lifecycle stage.
func (rt *Runtime) State() State { return rt.state }

// Prefill runs the single-token step over every prompt token in order and
// returns the final step's logits.
func (rt *Runtime) Prefill(tokens []int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("runtime: empty prompt: %w", corerr.ErrEmptyInput)
	}
	if rt.state == Uninitialized {
		return nil, fmt.Errorf("runtime: not loaded: %w", corerr.ErrInvalidModel)
	}
	if rt.state != SessionActive {
		rt.ResetSession()
	}

	var logits []float32
	for _, tok := range tokens {
		var err error
		logits, err = rt.step(tok)
		if err != nil {
			return nil, err
		}
	}
	return logits, nil
}

// DecodeStep runs the single-token step for one token and returns logits.
func (rt *Runtime) DecodeStep(tokenID int) ([]float32, error) {
	if rt.state != SessionActive {
		return nil, fmt.Errorf("runtime: no active session: %w", corerr.ErrInvalidModel)
	}
	return rt.step(tokenID)
}

// step is the single-token step shared by Prefill and DecodeStep:
// embed, run every layer, final norm, LM head, advance seq_len.
func (rt *Runtime) step(tokenID int) ([]float32, error) {
	if rt.seqLen >= int(rt.w.Cfg.MaxSeq) {
		return nil, fmt.Errorf("runtime: context exhausted: %w", corerr.ErrContextExhausted)
	}

	cfg := rt.w.Cfg
	d := int(cfg.DModel)
	heads := int(cfg.NHeads)
	headDim := int(cfg.HeadDim())
	pos := rt.seqLen

	x := make([]float32, d)
	if tokenID >= 0 && tokenID < int(cfg.VocabSize) {
		copy(x, rt.w.TokEmb[tokenID*d:tokenID*d+d])
	}

	for l := range rt.w.Layers {
		rt.layerStep(&rt.w.Layers[l], &rt.kv[l], x, pos, heads, headDim, d)
	}

	rt.normInplace(x, rt.w.LnFG, rt.w.LnFB)

	logits := make([]float32, cfg.VocabSize)
	kernel.Affine(x, rt.w.LMHead, nil, logits, 1, d, int(cfg.VocabSize))

	rt.seqLen++
	return logits, nil
}

func (rt *Runtime) normInplace(x, gamma, beta []float32) {
	if rt.w.Cfg.NormKind == weights.NormRMSNorm {
		kernel.RMSNormRow(x, gamma)
	} else {
		kernel.LayerNormRow(x, gamma, beta)
	}
}

func (rt *Runtime) layerStep(ly *weights.LayerWeights, kv *KVCache, x []float32, pos, heads, headDim, d int) {
	rt.normInplace(x, ly.Ln1G, ly.Ln1B)

	q := make([]float32, d)
	k := make([]float32, d)
	v := make([]float32, d)
	kernel.Affine(x, ly.Wq, nil, q, 1, d, d)
	kernel.Affine(x, ly.Wk, nil, k, 1, d, d)
	kernel.Affine(x, ly.Wv, nil, v, 1, d, d)

	kernel.RoPEApplyAllHeads(q, k, heads, headDim, pos, rt.w.Cfg.RopeThetaBase, rt.w.Cfg.RopeFreqScale)

	for h := 0; h < heads; h++ {
		copy(kv.KPtr(h, pos), k[h*headDim:h*headDim+headDim])
		copy(kv.VPtr(h, pos), v[h*headDim:h*headDim+headDim])
	}

	attnOut := make([]float32, d)
	scale := float32(1.0 / math.Sqrt(float64(headDim)))
	for h := 0; h < heads; h++ {
		qh := q[h*headDim : h*headDim+headDim]
		scores := make([]float32, pos+1)
		for t := 0; t <= pos; t++ {
			scores[t] = scale * dot(qh, kv.KPtr(h, t))
		}
		kernel.SoftmaxInplace(scores, 1)
		out := attnOut[h*headDim : h*headDim+headDim]
		for t := 0; t <= pos; t++ {
			vh := kv.VPtr(h, t)
			w := scores[t]
			for i := range out {
				out[i] += w * vh[i]
			}
		}
	}

	attnProj := make([]float32, d)
	kernel.Affine(attnOut, ly.Wo, nil, attnProj, 1, d, d)
	for i := range x {
		x[i] += attnProj[i]
	}

	rt.normInplace(x, ly.Ln2G, ly.Ln2B)

	ff := int(rt.w.Cfg.DFF)
	w1Cols := len(ly.W1) / d
	ff2 := make([]float32, d)
	if w1Cols == 2*ff {
		w1a := ly.W1[:d*ff]
		w1b := ly.W1[d*ff:]
		a := make([]float32, ff)
		b := make([]float32, ff)
		gate := make([]float32, ff)
		kernel.Affine(x, w1a, nil, a, 1, d, ff)
		kernel.Affine(x, w1b, nil, b, 1, d, ff)
		kernel.SwiGLUGate(a, b, gate)
		kernel.Affine(gate, ly.W2, nil, ff2, 1, ff, d)
	} else {
		h1 := make([]float32, ff)
		kernel.Affine(x, ly.W1, nil, h1, 1, d, ff)
		for i, v := range h1 {
			if v < 0 {
				h1[i] = 0
			}
		}
		kernel.Affine(h1, ly.W2, nil, ff2, 1, ff, d)
	}
	for i := range x {
		x[i] += ff2[i]
	}
}

func dot(a, b []float32) float32 {
	var acc float32
	for i := range a {
		acc += a[i] * b[i]
	}
	return acc
}
