// Package remote is a document store reached over HTTP. Documents are signed
// locally and ingested by the server, which never sees a secret key.
package remote

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/utils"
)

const (
	PathHealth   = "/healthz"
	PathShare    = "/api/v1/share"
	PathDocs     = "/api/v1/docs"
	PathDocGet   = "/api/v1/docs/get"
	PathContent  = "/api/v1/docs/content"
	PathIngest   = "/api/v1/docs/ingest"
	HeaderDoc    = "X-Docsync-Document"
	FormDocument = "document"
	FormContent  = "content"
)

const (
	CodeInvalidRequest   = "E_INVALID_REQUEST"
	CodeInvalidPath      = "E_INVALID_PATH"
	CodeInvalidDocument  = "E_INVALID_DOCUMENT"
	CodeInvalidSignature = "E_INVALID_SIGNATURE"
	CodeStaleTimestamp   = "E_STALE_TIMESTAMP"
	CodeHashMismatch     = "E_HASH_MISMATCH"
	CodeDocNotFound      = "E_DOC_NOT_FOUND"
	CodeRateLimited      = "E_RATE_LIMITED"
	CodeInternalError    = "E_INTERNAL_ERROR"
)

var codeErrors = map[string]error{
	CodeInvalidPath:      docstore.ErrInvalidPath,
	CodeInvalidDocument:  docstore.ErrInvalidDocument,
	CodeInvalidSignature: docstore.ErrInvalidSignature,
	CodeStaleTimestamp:   docstore.ErrStaleTimestamp,
	CodeHashMismatch:     docstore.ErrHashMismatch,
	CodeDocNotFound:      docstore.ErrNotFound,
	CodeRateLimited:      docstore.ErrStoreUnavailable,
	CodeInternalError:    docstore.ErrStoreUnavailable,
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Unwrap maps the code back onto the docstore sentinel errors.
func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

// CodeFor picks the API code for a docstore error.
func CodeFor(err error) string {
	for code, sentinel := range codeErrors {
		if sentinel != docstore.ErrStoreUnavailable && errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternalError
}

type ShareResponse struct {
	ID string `json:"id"`
}

type ListResponse struct {
	Share     string               `json:"share"`
	Documents []*docstore.Document `json:"documents"`
}

// EncodeDocHeader packs a document into a header value.
func EncodeDocHeader(doc *docstore.Document) (string, error) {
	data, err := utils.JSONMarshal(doc)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeDocHeader(value string) (*docstore.Document, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode document header: %w", err)
	}
	var doc docstore.Document
	if err := utils.JSONUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document header: %w", err)
	}
	return &doc, nil
}
