package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/utils"
	"github.com/openmined/docsync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, cfg *Config) (http.Handler, *docstore.Replica) {
	t.Helper()
	replica, err := docstore.OpenReplica(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })

	require.NoError(t, cfg.Validate())
	h, err := SetupRoutes(cfg, replica)
	require.NoError(t, err)
	return h, replica
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) remote.APIError {
	t.Helper()
	var apiErr remote.APIError
	require.NoError(t, utils.JSONUnmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, &Config{})
	w := do(h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestIndexReportsBuild(t *testing.T) {
	h, _ := newTestHandler(t, &Config{})
	w := do(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)

	var info version.Info
	require.NoError(t, utils.JSONUnmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, version.Get(), info)
}

func TestErrorResponses(t *testing.T) {
	h, _ := newTestHandler(t, &Config{})

	tests := []struct {
		name   string
		method string
		target string
		status int
		code   string
	}{
		{"missing path", http.MethodGet, "/api/v1/docs/get", http.StatusBadRequest, remote.CodeInvalidPath},
		{"escaping path", http.MethodGet, "/api/v1/docs/get?path=../x", http.StatusBadRequest, remote.CodeInvalidPath},
		{"not found", http.MethodGet, "/api/v1/docs/get?path=a.txt", http.StatusNotFound, remote.CodeDocNotFound},
		{"content not found", http.MethodGet, "/api/v1/docs/content?path=a.txt", http.StatusNotFound, remote.CodeDocNotFound},
		{"ingest without document", http.MethodPost, "/api/v1/docs/ingest", http.StatusBadRequest, remote.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, tt.method, tt.target)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestContentCarriesDocumentHeader(t *testing.T) {
	h, replica := newTestHandler(t, &Config{})
	alice, err := identity.Generate("alice")
	require.NoError(t, err)

	doc, err := replica.Put(context.Background(), "a.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)

	w := do(h, http.MethodGet, "/api/v1/docs/content?path=a.txt")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())

	got, err := remote.DecodeDocHeader(w.Header().Get(remote.HeaderDoc))
	require.NoError(t, err)
	assert.Equal(t, doc.Signature, got.Signature)
	assert.NoError(t, got.Verify())
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestHandler(t, &Config{RateLimit: "2-M"})

	for range 2 {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/share").Code)
	}
	w := do(h, http.MethodGet, "/api/v1/share")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, remote.CodeRateLimited, decodeError(t, w).Code)

	// health is outside the limited group
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz").Code)
}

func TestInvalidRateLimit(t *testing.T) {
	_, err := SetupRoutes(&Config{RateLimit: "lots"}, nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.False(t, cfg.TLS())

	assert.Error(t, (&Config{CertFile: "cert.pem"}).Validate())
	assert.Error(t, (&Config{MaxUploadBytes: -1}).Validate())
}

func TestStartStopsOnCancel(t *testing.T) {
	replica, err := docstore.OpenReplica(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	defer replica.Close()

	srv, err := New(&Config{Addr: "127.0.0.1:0"}, replica)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
