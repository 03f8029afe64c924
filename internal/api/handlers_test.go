package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cadellanderson/omnicore/internal/container"
	"github.com/cadellanderson/omnicore/internal/engine"
	"github.com/cadellanderson/omnicore/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	path := filepath.Join(t.TempDir(), "c.occ")
	c, err := container.Create(container.NewLocalBackend(path), "pw")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())

	h := NewHandler(c, engine.New(), logger, m, nil)
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestWriteThenReadFile(t *testing.T) {
	r := newTestRouter(t)

	put := httptest.NewRequest(http.MethodPut, "/files/notes/one.txt", strings.NewReader("hello world"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, put)
	require.Equal(t, http.StatusOK, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/files/notes/one.txt", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, get)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
}

func TestReadMissingFileReturns404(t *testing.T) {
	r := newTestRouter(t)

	get := httptest.NewRequest(http.MethodGet, "/files/notes/missing.txt", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, get)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteFile(t *testing.T) {
	r := newTestRouter(t)

	put := httptest.NewRequest(http.MethodPut, "/files/notes/one.txt", strings.NewReader("data"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, put)
	require.Equal(t, http.StatusOK, w.Code)

	del := httptest.NewRequest(http.MethodDelete, "/files/notes/one.txt", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, del)
	require.Equal(t, http.StatusNoContent, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/files/notes/one.txt", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, get)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFiles(t *testing.T) {
	r := newTestRouter(t)

	for _, vpath := range []string{"a.txt", "dir/b.txt"} {
		put := httptest.NewRequest(http.MethodPut, "/files/"+vpath, strings.NewReader("x"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, put)
		require.Equal(t, http.StatusOK, w.Code)
	}

	list := httptest.NewRequest(http.MethodGet, "/files", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "a.txt")
	require.Contains(t, w.Body.String(), "dir/b.txt")
}

func TestReadFileRangeHeader(t *testing.T) {
	r := newTestRouter(t)

	put := httptest.NewRequest(http.MethodPut, "/files/notes/one.txt", strings.NewReader("0123456789"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, put)
	require.Equal(t, http.StatusOK, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/files/notes/one.txt", nil)
	get.Header.Set("Range", "bytes=2-5")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, get)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "234", w.Body.String())
}

func TestChatWithoutLoadedEngineFails(t *testing.T) {
	r := newTestRouter(t)

	chat := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"prompt":"hi","max_tokens":4}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, chat)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/health", "/ready", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, path)
	}
}
