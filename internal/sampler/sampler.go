// Package sampler implements the Streaming Sampler (SS): tokenize, prefill,
// then repeatedly filter logits and draw a token id until EOS, cancellation,
// or max_tokens, emitting pieces through a sink as it goes.
package sampler

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/kernel"
)

// Tokenizer is the pluggable codec the sampler drives.
type Tokenizer interface {
	VocabSize() int
	Tokenize(s string) []int
	DecodePiece(id int) string
	IsEOS(id int) bool
}

// Engine is the decode surface the sampler drives: prefill once, then step
// one token at a time.
type Engine interface {
	Prefill(tokens []int) ([]float32, error)
	DecodeStep(tokenID int) ([]float32, error)
}

// Params are the recognized sampling options.
type Params struct {
	Temperature       float32
	TopK              int
	TopP              float32
	RepetitionPenalty float32
	MinProb           float32
	MaxTokens         int
	DoSample          bool
}

// recentWindow bounds the repetition-penalty scope.
const recentWindow = 64

// Event is one unit of streamed output.
type Event struct {
	Piece string
	Final bool
	TPS   float64
}

// Sink receives streamed events; implementations must not re-enter the
// engine.
type Sink func(Event)

// Chat tokenizes prompt, prefills the engine, then decodes up to
// params.MaxTokens tokens, applying the filter chain in order: repetition
// penalty, temperature, top-k, softmax, top-p, min-prob. cancelled is
// polled before each step.
func Chat(engine Engine, tok Tokenizer, prompt string, params Params, sink Sink, cancelled func() bool) error {
	ids := tok.Tokenize(prompt)
	if len(ids) == 0 {
		return fmt.Errorf("sampler: empty prompt: %w", corerr.ErrEmptyInput)
	}

	logits, err := engine.Prefill(ids)
	if err != nil {
		return err
	}

	recent := append([]int(nil), ids...)
	if len(recent) > recentWindow {
		recent = recent[len(recent)-recentWindow:]
	}

	start := time.Now()
	emitted := 0

	for i := 0; i < params.MaxTokens; i++ {
		if cancelled != nil && cancelled() {
			break
		}

		working := append([]float32(nil), logits...)
		applyFilters(working, recent, params)

		next := draw(working, params)

		if tok.IsEOS(next) {
			break
		}

		recent = append(recent, next)
		if len(recent) > recentWindow {
			recent = recent[len(recent)-recentWindow:]
		}

		emitted++
		if piece := tok.DecodePiece(next); piece != "" && sink != nil {
			sink(Event{Piece: piece, Final: false, TPS: tps(emitted, start)})
		}

		logits, err = engine.DecodeStep(next)
		if err != nil {
			return err
		}
	}

	if sink != nil {
		sink(Event{Piece: "", Final: true, TPS: tps(emitted, start)})
	}
	return nil
}

func tps(emitted int, start time.Time) float64 {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(emitted) / elapsed
}

// applyFilters mutates logits in place following the filter chain order
// documented on Chat. After this call logits holds a probability
// distribution, not raw logits (softmax runs mid-chain, before top-p and
// min-prob).
func applyFilters(logits []float32, recent []int, params Params) {
	kernel.ApplyRepetitionPenalty(logits, recent, params.RepetitionPenalty)
	// Temperature scaling happens inside SoftmaxInplace; top-k runs on raw
	// logits first per the original's truncate-before-softmax semantics.
	kernel.TopKFilter(logits, params.TopK)
	kernel.SoftmaxInplace(logits, params.Temperature)
	kernel.TopPFilter(logits, params.TopP)
	kernel.MinProbFilter(logits, params.MinProb)
}

func draw(probs []float32, params Params) int {
	if params.Temperature <= 0 || !params.DoSample {
		return argmax(probs)
	}
	return sampleFromDistribution(probs)
}

func argmax(x []float32) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}

func sampleFromDistribution(probs []float32) int {
	var sum float32
	for _, p := range probs {
		sum += p
	}
	if sum <= 0 {
		return argmax(probs)
	}
	r := rand.Float32() * sum
	var cum float32
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}
