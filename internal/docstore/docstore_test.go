package docstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/docsync/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReplica(t *testing.T, opts ...ReplicaOption) *Replica {
	t.Helper()
	r, err := OpenReplica(filepath.Join(t.TempDir(), "replica.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestKeypair(t *testing.T, name string) *identity.Keypair {
	t.Helper()
	k, err := identity.Generate(name)
	require.NoError(t, err)
	return k
}

func readAll(t *testing.T, r *Replica, path string) (string, *Document) {
	t.Helper()
	body, doc, err := r.Open(context.Background(), path)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(data), doc
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"a.txt", true},
		{"dir/sub/a.txt", true},
		{"~alice/notes.md", true},
		{".hidden", true},
		{"", false},
		{"/abs", false},
		{"a//b", false},
		{"a/./b", false},
		{"../escape", false},
		{"trailing/", false},
		{"win\\path", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPath)
			}
		})
	}
}

func TestHash(t *testing.T) {
	h1 := HashBytes([]byte("hello"))
	h2, n, err := HashReader(strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, int64(5), n)
	assert.True(t, strings.HasPrefix(h1, "b"))
	assert.Equal(t, strings.ToLower(h1), h1)
	assert.NotContains(t, h1, "=")
	assert.NotEqual(t, h1, EmptyHash)

	h3, err := ContentHasher{}.Hash(bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	assert.Equal(t, h1, h3)
}

func TestReplicaPutGetOpen(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	alice := newTestKeypair(t, "alic")

	doc, err := r.Put(ctx, "notes/a.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)
	assert.Equal(t, alice.Address, doc.Author)
	assert.Equal(t, HashBytes([]byte("hello")), doc.ContentHash)
	assert.Equal(t, int64(5), doc.Size)
	assert.False(t, doc.Deleted)
	require.NoError(t, doc.Verify())

	got, err := r.Get(ctx, "notes/a.txt")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	content, opened := readAll(t, r, "notes/a.txt")
	assert.Equal(t, "hello", content)
	assert.Equal(t, doc, opened)

	missing, err := r.Get(ctx, "nope.txt")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, _, err = r.Open(ctx, "nope.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.Put(ctx, "/bad", strings.NewReader("x"), alice)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestReplicaTombstone(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	alice := newTestKeypair(t, "alic")

	_, err := r.Put(ctx, "a.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)

	doc, err := r.Put(ctx, "a.txt", strings.NewReader(""), alice)
	require.NoError(t, err)
	assert.True(t, doc.Deleted)
	assert.Equal(t, EmptyHash, doc.ContentHash)

	content, opened := readAll(t, r, "a.txt")
	assert.Empty(t, content)
	assert.True(t, opened.Deleted)
}

func TestReplicaTimestampsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	frozen := time.UnixMicro(1_700_000_000_000_000)
	r := newTestReplica(t, WithClock(func() time.Time { return frozen }))
	alice := newTestKeypair(t, "alic")
	bob := newTestKeypair(t, "bobb")

	d1, err := r.Put(ctx, "a.txt", strings.NewReader("one"), alice)
	require.NoError(t, err)
	d2, err := r.Put(ctx, "a.txt", strings.NewReader("two"), bob)
	require.NoError(t, err)
	d3, err := r.Put(ctx, "a.txt", strings.NewReader("three"), alice)
	require.NoError(t, err)

	assert.Less(t, d1.Timestamp, d2.Timestamp)
	assert.Less(t, d2.Timestamp, d3.Timestamp)

	content, latest := readAll(t, r, "a.txt")
	assert.Equal(t, "three", content)
	assert.Equal(t, alice.Address, latest.Author)
}

func TestReplicaLatestAcrossAuthors(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	alice := newTestKeypair(t, "alic")
	bob := newTestKeypair(t, "bobb")

	_, err := r.Put(ctx, "a.txt", strings.NewReader("alice"), alice)
	require.NoError(t, err)
	_, err = r.Put(ctx, "a.txt", strings.NewReader("bob"), bob)
	require.NoError(t, err)
	_, err = r.Put(ctx, "b.txt", strings.NewReader("b"), alice)
	require.NoError(t, err)

	var paths []string
	for doc, err := range r.ListLatest(ctx) {
		require.NoError(t, err)
		paths = append(paths, doc.Path)
		if doc.Path == "a.txt" {
			assert.Equal(t, bob.Address, doc.Author)
		}
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, paths)
}

func TestReplicaListLatestEarlyBreak(t *testing.T) {
	ctx := context.Background()
	r := newTestReplica(t)
	alice := newTestKeypair(t, "alic")

	for _, p := range []string{"a", "b", "c"} {
		_, err := r.Put(ctx, p, strings.NewReader(p), alice)
		require.NoError(t, err)
	}

	count := 0
	for _, err := range r.ListLatest(ctx) {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)

	// connection must be released after the break
	_, err := r.Put(ctx, "d", strings.NewReader("d"), alice)
	require.NoError(t, err)
}

func TestReplicaIngest(t *testing.T) {
	ctx := context.Background()
	src := newTestReplica(t)
	dst := newTestReplica(t)
	alice := newTestKeypair(t, "alic")

	doc, err := src.Put(ctx, "a.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)

	t.Run("accepts signed document", func(t *testing.T) {
		require.NoError(t, dst.Ingest(ctx, doc, strings.NewReader("hello")))
		content, got := readAll(t, dst, "a.txt")
		assert.Equal(t, "hello", content)
		assert.Equal(t, doc, got)
	})

	t.Run("rejects replay", func(t *testing.T) {
		err := dst.Ingest(ctx, doc, strings.NewReader("hello"))
		assert.ErrorIs(t, err, ErrStaleTimestamp)
	})

	t.Run("rejects tampered document", func(t *testing.T) {
		forged := *doc
		forged.Timestamp++
		err := dst.Ingest(ctx, &forged, strings.NewReader("hello"))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("rejects content mismatch", func(t *testing.T) {
		next, err := src.Put(ctx, "b.txt", strings.NewReader("right"), alice)
		require.NoError(t, err)
		err = dst.Ingest(ctx, next, strings.NewReader("wrong"))
		assert.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("rejects missing content", func(t *testing.T) {
		next, err := src.Put(ctx, "c.txt", strings.NewReader("c"), alice)
		require.NoError(t, err)
		err = dst.Ingest(ctx, next, nil)
		assert.ErrorIs(t, err, ErrInvalidDocument)
	})

	t.Run("accepts tombstone without content", func(t *testing.T) {
		tomb, err := src.Put(ctx, "a.txt", nil, alice)
		require.NoError(t, err)
		require.True(t, tomb.Deleted)
		require.NoError(t, dst.Ingest(ctx, tomb, nil))

		got, err := dst.Get(ctx, "a.txt")
		require.NoError(t, err)
		assert.True(t, got.Deleted)
	})
}

func TestReplicaIDPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")

	r1, err := OpenReplica(path)
	require.NoError(t, err)
	id := r1.ID()
	require.NoError(t, r1.Close())

	r2, err := OpenReplica(path)
	require.NoError(t, err)
	defer r2.Close()

	assert.NotEmpty(t, id)
	assert.Equal(t, id, r2.ID())

	other := newTestReplica(t)
	assert.NotEqual(t, id, other.ID())
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = data
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func TestReplicaWithS3Blobs(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	r := newTestReplica(t, WithBlobs(NewS3Blobs(fake, "bucket", "share/")))
	alice := newTestKeypair(t, "alic")

	doc, err := r.Put(ctx, "a.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "share/blobs/"+doc.ContentHash)

	// same content under another path is stored once
	_, err = r.Put(ctx, "b.txt", strings.NewReader("hello"), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, fake.puts)

	content, _ := readAll(t, r, "b.txt")
	assert.Equal(t, "hello", content)

	_, err = NewS3Blobs(fake, "bucket", "").Get(ctx, "bmissing")
	assert.ErrorIs(t, err, ErrNotFound)
}
