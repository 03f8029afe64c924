package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cadellanderson/omnicore/internal/audit"
	"github.com/cadellanderson/omnicore/internal/container"
	"github.com/cadellanderson/omnicore/internal/corerr"
	"github.com/cadellanderson/omnicore/internal/engine"
	"github.com/cadellanderson/omnicore/internal/metrics"
	"github.com/cadellanderson/omnicore/internal/sampler"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Handler handles HTTP requests for the container file surface and the chat
// engine.
type Handler struct {
	container *container.Container
	engine    *engine.Engine
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	audit     audit.Logger
}

// NewHandler creates a new API handler over an already-open container and
// an already-loaded (or not yet loaded) engine. auditLogger may be nil, in
// which case file operations are not recorded to the audit log.
func NewHandler(c *container.Container, e *engine.Engine, logger *logrus.Logger, m *metrics.Metrics, auditLogger audit.Logger) *Handler {
	return &Handler{
		container: c,
		engine:    e,
		logger:    logger,
		metrics:   m,
		audit:     auditLogger,
	}
}

func (h *Handler) logAccess(eventType, vpath string, r *http.Request, start time.Time, err error) {
	if h.audit == nil {
		return
	}
	h.audit.LogAccess(eventType, "", vpath, r.RemoteAddr, r.UserAgent(), "", err == nil, err, time.Since(start))
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleReady).Methods("GET")
	r.HandleFunc("/live", h.handleLive).Methods("GET")

	files := r.PathPrefix("/files").Subrouter()
	files.HandleFunc("", h.handleListFiles).Methods("GET")
	files.HandleFunc("/{vpath:.*}", h.handleReadFile).Methods("GET")
	files.HandleFunc("/{vpath:.*}", h.handleWriteFile).Methods("PUT")
	files.HandleFunc("/{vpath:.*}", h.handleDeleteFile).Methods("DELETE")

	r.HandleFunc("/chat", h.handleChat).Methods("POST")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.HealthHandler()(w, r)
	h.metrics.RecordHTTPRequest(r.Context(), "GET", "/health", http.StatusOK, time.Since(start), 0)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.ReadinessHandler()(w, r)
	h.metrics.RecordHTTPRequest(r.Context(), "GET", "/ready", http.StatusOK, time.Since(start), 0)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics.LivenessHandler()(w, r)
	h.metrics.RecordHTTPRequest(r.Context(), "GET", "/live", http.StatusOK, time.Since(start), 0)
}

// statusForError maps a corerr sentinel to an HTTP status code.
func statusForError(err error) int {
	switch {
	case errors.Is(err, corerr.ErrFileNotFound), errors.Is(err, corerr.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, corerr.ErrEmptyInput), errors.Is(err, corerr.ErrFileExists):
		return http.StatusBadRequest
	case errors.Is(err, corerr.ErrInvalidPassword):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// handleReadFile handles GET /files/{vpath}, optionally honoring a Range
// header over the decrypted plaintext.
func (h *Handler) handleReadFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vpath := mux.Vars(r)["vpath"]
	ctx := r.Context()

	var data []byte
	var err error
	if rng := r.Header.Get("Range"); rng != "" {
		var lo, hi uint64
		if _, serr := fmtSscanRange(rng, &lo, &hi); serr == nil {
			data, err = h.container.ReadFileRange(vpath, lo, hi)
		} else {
			data, err = h.container.ReadFile(vpath)
		}
	} else {
		data, err = h.container.ReadFile(vpath)
	}

	if err != nil {
		h.logger.WithError(err).WithField("vpath", vpath).Error("read file failed")
		h.metrics.RecordContainerError(ctx, "read_file", vpath, "read_failed")
		status := statusForError(err)
		http.Error(w, err.Error(), status)
		h.metrics.RecordHTTPRequest(ctx, "GET", r.URL.Path, status, time.Since(start), 0)
		h.logAccess(string(audit.EventTypeAccess), vpath, r, start, err)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	n, _ := w.Write(data)
	h.metrics.RecordContainerOperation(ctx, "read_file", vpath, time.Since(start))
	h.metrics.RecordHTTPRequest(ctx, "GET", r.URL.Path, http.StatusOK, time.Since(start), int64(n))
	h.logAccess(string(audit.EventTypeAccess), vpath, r, start, nil)
}

// fmtSscanRange parses "bytes=lo-hi"; a minimal parser since net/http offers
// no public Range parser for arbitrary readers.
func fmtSscanRange(header string, lo, hi *uint64) (int, error) {
	const prefix = "bytes="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return 0, errors.New("unsupported range unit")
	}
	spec := header[len(prefix):]
	dash := -1
	for i := 0; i < len(spec); i++ {
		if spec[i] == '-' {
			dash = i
			break
		}
	}
	if dash < 0 {
		return 0, errors.New("malformed range")
	}
	loV, err := strconv.ParseUint(spec[:dash], 10, 64)
	if err != nil {
		return 0, err
	}
	hiV, err := strconv.ParseUint(spec[dash+1:], 10, 64)
	if err != nil {
		return 0, err
	}
	*lo, *hi = loV, hiV
	return 2, nil
}

// handleWriteFile handles PUT /files/{vpath}.
func (h *Handler) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vpath := mux.Vars(r)["vpath"]
	ctx := r.Context()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest(ctx, "PUT", r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	if err := h.container.WriteFile(vpath, data); err != nil {
		h.logger.WithError(err).WithField("vpath", vpath).Error("write file failed")
		h.metrics.RecordContainerError(ctx, "write_file", vpath, "write_failed")
		status := statusForError(err)
		http.Error(w, err.Error(), status)
		h.metrics.RecordHTTPRequest(ctx, "PUT", r.URL.Path, status, time.Since(start), 0)
		h.logAccess(string(audit.EventTypeAccess), vpath, r, start, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	h.metrics.RecordContainerOperation(ctx, "write_file", vpath, time.Since(start))
	h.metrics.RecordHTTPRequest(ctx, "PUT", r.URL.Path, http.StatusOK, time.Since(start), int64(len(data)))
	h.logAccess(string(audit.EventTypeAccess), vpath, r, start, nil)
}

// handleDeleteFile handles DELETE /files/{vpath}.
func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vpath := mux.Vars(r)["vpath"]
	ctx := r.Context()

	if err := h.container.DeleteFile(vpath); err != nil {
		h.logger.WithError(err).WithField("vpath", vpath).Error("delete file failed")
		h.metrics.RecordContainerError(ctx, "delete_file", vpath, "delete_failed")
		status := statusForError(err)
		http.Error(w, err.Error(), status)
		h.metrics.RecordHTTPRequest(ctx, "DELETE", r.URL.Path, status, time.Since(start), 0)
		h.logAccess(string(audit.EventTypeAccess), vpath, r, start, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.metrics.RecordContainerOperation(ctx, "delete_file", vpath, time.Since(start))
	h.metrics.RecordHTTPRequest(ctx, "DELETE", r.URL.Path, http.StatusNoContent, time.Since(start), 0)
	h.logAccess(string(audit.EventTypeAccess), vpath, r, start, nil)
}

// handleListFiles handles GET /files, optionally filtered by a glob via
// ?glob=....
func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var names []string
	if glob := r.URL.Query().Get("glob"); glob != "" {
		names = h.container.ListFilesGlob(glob)
	} else {
		names = h.container.ListFiles()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(names)

	h.metrics.RecordContainerOperation(ctx, "list_files", "*", time.Since(start))
	h.metrics.RecordHTTPRequest(ctx, "GET", r.URL.Path, http.StatusOK, time.Since(start), 0)
}

// chatRequest is the JSON body for POST /chat.
type chatRequest struct {
	Prompt            string  `json:"prompt"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float32 `json:"temperature"`
	TopK              int     `json:"top_k"`
	TopP              float32 `json:"top_p"`
	RepetitionPenalty float32 `json:"repetition_penalty"`
	MinProb           float32 `json:"min_prob"`
}

// chatChunk is one line of the newline-delimited JSON stream returned by
// POST /chat.
type chatChunk struct {
	Piece string  `json:"piece,omitempty"`
	Final bool    `json:"final,omitempty"`
	TPS   float64 `json:"tokens_per_second,omitempty"`
}

// handleChat handles POST /chat, streaming newline-delimited JSON chunks as
// the engine decodes.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		h.metrics.RecordHTTPRequest(ctx, "POST", r.URL.Path, http.StatusBadRequest, time.Since(start), 0)
		return
	}

	params := sampler.Params{
		Temperature:       req.Temperature,
		TopK:              req.TopK,
		TopP:              req.TopP,
		RepetitionPenalty: req.RepetitionPenalty,
		MinProb:           req.MinProb,
		MaxTokens:         req.MaxTokens,
		DoSample:          req.Temperature > 0,
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	var tokens int
	err := h.engine.Chat(req.Prompt, params, func(ev sampler.Event) {
		tokens++
		_ = enc.Encode(chatChunk{Piece: ev.Piece, Final: ev.Final, TPS: ev.TPS})
		if flusher != nil {
			flusher.Flush()
		}
	}, func() bool { return ctx.Err() != nil })

	if err != nil {
		h.logger.WithError(err).Error("chat failed")
		if tokens == 0 {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		h.metrics.RecordHTTPRequest(ctx, "POST", r.URL.Path, http.StatusInternalServerError, time.Since(start), 0)
		return
	}

	h.metrics.RecordHTTPRequest(ctx, "POST", r.URL.Path, http.StatusOK, time.Since(start), 0)
}
