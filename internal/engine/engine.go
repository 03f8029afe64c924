// Package engine implements the model-backend dispatch surface (IEngine in
// the original): Load/Unload/ResetSession/Chat/Embed/Capabilities over the
// transformer runtime, tokenizer and sampler.
package engine

import (
	"fmt"
	"strings"

	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/runtime"
	"github.com/cadellanderson/omnicore/internal/sampler"
	"github.com/cadellanderson/omnicore/internal/tokenizer"
	"github.com/cadellanderson/omnicore/internal/weights"
	"github.com/sirupsen/logrus"
)

// Info describes a loaded engine instance.
type Info struct {
	Name      string
	Version   string
	Backend   string
	CtxLen    int
	VocabSize int
}

// LoadOptions configures Load: the model source plus runtime knobs.
type LoadOptions struct {
	Weights      *weights.Weights
	NThreads     int
	CtxLen       int
	TemplateName string
}

// Engine is the single backend this module ships: a from-scratch
// transformer decoder driven by the byte-level tokenizer and the streaming
// sampler.
type Engine struct {
	tok       *tokenizer.Tokenizer
	rt        *runtime.Runtime
	info      Info
	ctxLen    int
	tmplName  string
	recentIDs []int
	logger    *logrus.Logger
}

// New constructs an unloaded Engine.
func New() *Engine {
	return &Engine{tok: tokenizer.New(), logger: logrus.StandardLogger()}
}

// AvailableBackends enumerates the engine backends this build supports.
func AvailableBackends() []string { return []string{"scratch"} }

// BackendCapabilities returns a textual capability description for name
// without requiring an instantiated Engine.
func BackendCapabilities(name string) string {
	if name != "scratch" {
		return ""
	}
	return "basic prompt->completion chat with streaming output; configurable sampling; embeddings: no"
}

// Info returns the engine's current descriptor.
func (e *Engine) Info() Info { return e.info }

// Load allocates the runtime over opt.Weights and resets the session.
func (e *Engine) Load(opt LoadOptions) error {
	if opt.Weights == nil {
		return fmt.Errorf("engine: no weights supplied: %w", corerr.ErrInvalidModel)
	}
	rt, err := runtime.Load(opt.Weights)
	if err != nil {
		return err
	}
	rt.ResetSession()

	e.rt = rt
	e.ctxLen = opt.CtxLen
	e.tmplName = opt.TemplateName
	e.recentIDs = nil
	e.info = Info{
		Name:      "ScratchEngine",
		Version:   "0.1",
		Backend:   "scratch",
		CtxLen:    opt.CtxLen,
		VocabSize: e.tok.VocabSize(),
	}
	return nil
}

// Unload drops the loaded runtime and clears session state.
func (e *Engine) Unload() error {
	e.rt = nil
	e.recentIDs = nil
	return nil
}

// ResetSession zeroes the runtime's KV cache without discarding weights.
func (e *Engine) ResetSession() error {
	if e.rt == nil {
		return fmt.Errorf("engine: not loaded: %w", corerr.ErrInvalidModel)
	}
	e.rt.ResetSession()
	e.recentIDs = nil
	return nil
}

// applyTemplate mirrors apply_template_if_any: the only recognized
// template name is "chat", substituting {prompt} into a fixed wrapper.
func (e *Engine) applyTemplate(prompt string) string {
	if e.tmplName != "chat" {
		return prompt
	}
	tmpl := "User: {prompt}\nAssistant:"
	return strings.Replace(tmpl, "{prompt}", prompt, 1)
}

// Chat streams a completion for prompt through sink, using sampler.Chat
// over the loaded runtime.
func (e *Engine) Chat(prompt string, params sampler.Params, sink sampler.Sink, cancelled func() bool) error {
	if e.rt == nil {
		return fmt.Errorf("engine: not loaded: %w", corerr.ErrInvalidModel)
	}
	templated := e.applyTemplate(prompt)
	return sampler.Chat(e.rt, e.tok, templated, params, sink, cancelled)
}

// Embed is unsupported by the scratch runtime: no pooling head exists in
// the CLLF weight file.
func (e *Engine) Embed(text string) ([]float32, error) {
	return nil, fmt.Errorf("engine: embeddings not supported by the scratch backend: %w", corerr.ErrInvalidModel)
}

// Capabilities returns a human-readable capability summary.
func (e *Engine) Capabilities() string {
	return fmt.Sprintf(
		"basic prompt->completion chat with streaming output; configurable sampling (temperature, top-k, top-p, repetition penalty); context length up to %d tokens; embeddings: no",
		e.ctxLen,
	)
}
