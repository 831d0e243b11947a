// Package docstore is the narrow capability surface over the signed document
// store: list the latest documents, read one, write one, and hash content the
// same way the store does.
package docstore

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/openmined/docsync/internal/identity"
)

var (
	ErrNotFound         = errors.New("docstore: document not found")
	ErrStoreUnavailable = errors.New("docstore: store unavailable")
	ErrInvalidPath      = errors.New("docstore: invalid path")
	ErrInvalidDocument  = errors.New("docstore: invalid document")
	ErrInvalidSignature = errors.New("docstore: invalid signature")
	ErrStaleTimestamp   = errors.New("docstore: timestamp not newer than existing version")
	ErrHashMismatch     = errors.New("docstore: content does not match hash")
)

// Hasher computes content hashes comparable with the store's own.
type Hasher interface {
	Hash(r io.Reader) (string, error)
}

// Store is what the reconciler needs from a document store.
type Store interface {
	Hasher

	// ID identifies the store so a directory is never synced against two
	// different stores with the same manifest.
	ID() string

	// ListLatest yields the latest version of every path, tombstones included.
	ListLatest(ctx context.Context) iter.Seq2[*Document, error]

	// Get returns the latest version at path, or nil when none exists.
	Get(ctx context.Context, path string) (*Document, error)

	// Open streams the content of the latest version at path.
	Open(ctx context.Context, path string) (io.ReadCloser, *Document, error)

	// Put writes a new version signed by author. Empty content is a tombstone.
	Put(ctx context.Context, path string, content io.Reader, author *identity.Keypair) (*Document, error)
}

// ContentHasher hashes with the store's content hash.
type ContentHasher struct{}

func (ContentHasher) Hash(r io.Reader) (string, error) {
	hash, _, err := HashReader(r)
	return hash, err
}
