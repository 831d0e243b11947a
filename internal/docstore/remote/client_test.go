package remote_test

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	replica *docstore.Replica
	srv     *httptest.Server
	store   *remote.Store
	alice   *identity.Keypair
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	replica, err := docstore.OpenReplica(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { replica.Close() })

	handler, err := server.SetupRoutes(&server.Config{}, replica)
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := remote.Dial(context.Background(), remote.Config{URL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	alice, err := identity.Generate("alice")
	require.NoError(t, err)

	return &fixture{replica: replica, srv: srv, store: store, alice: alice}
}

func readRemote(t *testing.T, s *remote.Store, path string) (string, *docstore.Document) {
	t.Helper()
	body, doc, err := s.Open(context.Background(), path)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data), doc
}

func TestDialUsesServerShare(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.replica.ID(), f.store.ID())
}

func TestDialRequiresURL(t *testing.T) {
	_, err := remote.Dial(context.Background(), remote.Config{})
	assert.Error(t, err)
}

func TestPutGetOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.store.Put(ctx, "notes/a.txt", strings.NewReader("hello"), f.alice)
	require.NoError(t, err)
	assert.Equal(t, f.alice.Address, doc.Author)
	assert.Equal(t, docstore.HashBytes([]byte("hello")), doc.ContentHash)
	assert.NoError(t, doc.Verify())

	got, err := f.store.Get(ctx, "notes/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.Timestamp, got.Timestamp)
	assert.Equal(t, doc.Signature, got.Signature)

	content, opened := readRemote(t, f.store, "notes/a.txt")
	assert.Equal(t, "hello", content)
	assert.Equal(t, doc.ContentHash, opened.ContentHash)

	// the server replica holds the same version
	local, err := f.replica.Get(ctx, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.Signature, local.Signature)
}

func TestPutOverwriteBumpsTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.store.Put(ctx, "a.txt", strings.NewReader("v1"), f.alice)
	require.NoError(t, err)
	second, err := f.store.Put(ctx, "a.txt", strings.NewReader("v2"), f.alice)
	require.NoError(t, err)
	assert.Greater(t, second.Timestamp, first.Timestamp)

	content, _ := readRemote(t, f.store, "a.txt")
	assert.Equal(t, "v2", content)
}

func TestTombstone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Put(ctx, "a.txt", strings.NewReader("data"), f.alice)
	require.NoError(t, err)
	doc, err := f.store.Put(ctx, "a.txt", strings.NewReader(""), f.alice)
	require.NoError(t, err)
	assert.True(t, doc.Deleted)
	assert.Equal(t, docstore.EmptyHash, doc.ContentHash)

	content, opened := readRemote(t, f.store, "a.txt")
	assert.Empty(t, content)
	assert.True(t, opened.Deleted)
}

func TestMissingDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.store.Get(ctx, "missing.txt")
	assert.NoError(t, err)
	assert.Nil(t, doc)

	body, opened, err := f.store.Open(ctx, "missing.txt")
	assert.Nil(t, body)
	assert.Nil(t, opened)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.NotErrorIs(t, err, docstore.ErrStoreUnavailable)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, remote.CodeDocNotFound, apiErr.Code)
}

func TestListLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, p := range []string{"a.txt", "b/c.txt", "~alice/d.txt"} {
		_, err := f.store.Put(ctx, p, strings.NewReader(p), f.alice)
		require.NoError(t, err)
	}

	var paths []string
	for doc, err := range f.store.ListLatest(ctx) {
		require.NoError(t, err)
		paths = append(paths, doc.Path)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b/c.txt", "~alice/d.txt"}, paths)
}

func TestIngestErrorsMapToSentinels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc, err := f.store.Put(ctx, "a.txt", strings.NewReader("hello"), f.alice)
	require.NoError(t, err)

	t.Run("replay", func(t *testing.T) {
		err := f.store.Ingest(ctx, doc, strings.NewReader("hello"))
		assert.ErrorIs(t, err, docstore.ErrStaleTimestamp)
	})

	t.Run("tampered", func(t *testing.T) {
		bad := *doc
		bad.Timestamp++
		err := f.store.Ingest(ctx, &bad, strings.NewReader("hello"))
		assert.ErrorIs(t, err, docstore.ErrInvalidSignature)

		var apiErr *remote.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, remote.CodeInvalidSignature, apiErr.Code)
	})

	t.Run("content mismatch", func(t *testing.T) {
		next := &docstore.Document{
			Path:        "b.txt",
			ContentHash: docstore.HashBytes([]byte("expected")),
			Size:        8,
			Timestamp:   time.Now().UnixMicro(),
		}
		require.NoError(t, next.Sign(f.alice))
		err := f.store.Ingest(ctx, next, strings.NewReader("actually"))
		assert.ErrorIs(t, err, docstore.ErrHashMismatch)
	})
}

func TestInvalidPathRejectedLocally(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(context.Background(), "../escape", strings.NewReader("x"), f.alice)
	assert.ErrorIs(t, err, docstore.ErrInvalidPath)
}

func TestServerGoneIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.srv.Close()

	_, err := f.store.Get(context.Background(), "a.txt")
	assert.ErrorIs(t, err, docstore.ErrStoreUnavailable)

	_, _, err = f.store.Open(context.Background(), "a.txt")
	assert.ErrorIs(t, err, docstore.ErrStoreUnavailable)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.store.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
