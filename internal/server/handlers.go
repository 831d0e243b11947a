package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/openmined/docsync/internal/utils"
	"github.com/openmined/docsync/internal/version"
)

// Backend is the store the server exposes. docstore.Replica satisfies it.
type Backend interface {
	ID() string
	ListLatest(ctx context.Context) iter.Seq2[*docstore.Document, error]
	Get(ctx context.Context, path string) (*docstore.Document, error)
	Open(ctx context.Context, path string) (io.ReadCloser, *docstore.Document, error)
	Ingest(ctx context.Context, doc *docstore.Document, content io.Reader) error
}

type DocsHandler struct {
	backend Backend
}

func NewDocsHandler(backend Backend) *DocsHandler {
	return &DocsHandler{backend: backend}
}

func (h *DocsHandler) Share(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, remote.ShareResponse{ID: h.backend.ID()})
}

func (h *DocsHandler) List(ctx *gin.Context) {
	docs := make([]*docstore.Document, 0)
	for doc, err := range h.backend.ListLatest(ctx.Request.Context()) {
		if err != nil {
			abortWithStoreError(ctx, err)
			return
		}
		docs = append(docs, doc)
	}
	ctx.PureJSON(http.StatusOK, remote.ListResponse{Share: h.backend.ID(), Documents: docs})
}

func (h *DocsHandler) Get(ctx *gin.Context) {
	path, ok := queryPath(ctx)
	if !ok {
		return
	}

	doc, err := h.backend.Get(ctx.Request.Context(), path)
	if err != nil {
		abortWithStoreError(ctx, err)
		return
	}
	if doc == nil {
		AbortWithError(ctx, http.StatusNotFound, remote.CodeDocNotFound, fmt.Errorf("no document at %q", path))
		return
	}
	ctx.PureJSON(http.StatusOK, doc)
}

func (h *DocsHandler) Content(ctx *gin.Context) {
	path, ok := queryPath(ctx)
	if !ok {
		return
	}

	body, doc, err := h.backend.Open(ctx.Request.Context(), path)
	if err != nil {
		abortWithStoreError(ctx, err)
		return
	}
	defer body.Close()

	header, err := remote.EncodeDocHeader(doc)
	if err != nil {
		AbortWithError(ctx, http.StatusInternalServerError, remote.CodeInternalError, err)
		return
	}

	ctx.DataFromReader(http.StatusOK, doc.Size, utils.ContentType(doc.Path), body, map[string]string{
		remote.HeaderDoc: header,
		"ETag":           strconv.Quote(doc.ContentHash),
	})
}

func (h *DocsHandler) Ingest(ctx *gin.Context) {
	raw := ctx.PostForm(remote.FormDocument)
	if raw == "" {
		AbortWithError(ctx, http.StatusBadRequest, remote.CodeInvalidRequest, errors.New("missing document field"))
		return
	}

	var doc docstore.Document
	if err := utils.JSONUnmarshal([]byte(raw), &doc); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, remote.CodeInvalidRequest, fmt.Errorf("invalid document: %w", err))
		return
	}

	var content io.Reader
	file, err := ctx.FormFile(remote.FormContent)
	switch {
	case err == nil:
		f, err := file.Open()
		if err != nil {
			AbortWithError(ctx, http.StatusBadRequest, remote.CodeInvalidRequest, err)
			return
		}
		defer f.Close()
		content = f
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		AbortWithError(ctx, http.StatusBadRequest, remote.CodeInvalidRequest, err)
		return
	}

	if err := h.backend.Ingest(ctx.Request.Context(), &doc, content); err != nil {
		abortWithStoreError(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusCreated, &doc)
}

func queryPath(ctx *gin.Context) (string, bool) {
	path := ctx.Query("path")
	if err := docstore.ValidatePath(path); err != nil {
		AbortWithError(ctx, http.StatusBadRequest, remote.CodeInvalidPath, err)
		return "", false
	}
	return path, true
}

func abortWithStoreError(ctx *gin.Context, err error) {
	code := remote.CodeFor(err)
	AbortWithError(ctx, statusFor(code), code, err)
}

func statusFor(code string) int {
	switch code {
	case remote.CodeDocNotFound:
		return http.StatusNotFound
	case remote.CodeInvalidPath, remote.CodeInvalidDocument, remote.CodeInvalidSignature, remote.CodeInvalidRequest:
		return http.StatusBadRequest
	case remote.CodeStaleTimestamp:
		return http.StatusConflict
	case remote.CodeHashMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func IndexHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, version.Get())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
