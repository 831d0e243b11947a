package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/docsync/internal/db"
	"github.com/openmined/docsync/internal/identity"
)

const replicaSchema = `
CREATE TABLE IF NOT EXISTS documents (
    path TEXT NOT NULL,
    author TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    size INTEGER NOT NULL,
    timestamp INTEGER NOT NULL, -- microseconds since epoch
    signature TEXT NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (path, author)
);

CREATE INDEX IF NOT EXISTS idx_documents_path_ts ON documents(path, timestamp);

CREATE TABLE IF NOT EXISTS replica_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// latest version per path; ties on timestamp break on signature so every
// replica picks the same winner
const latestQuery = `
SELECT path, author, content_hash, size, timestamp, signature, deleted FROM (
    SELECT *, ROW_NUMBER() OVER (PARTITION BY path ORDER BY timestamp DESC, signature DESC) AS rn
    FROM documents %s
) WHERE rn = 1 ORDER BY path
`

// max clock skew accepted on ingest
const maxFutureSkew = 10 * time.Minute

type dbDocument struct {
	Path        string `db:"path"`
	Author      string `db:"author"`
	ContentHash string `db:"content_hash"`
	Size        int64  `db:"size"`
	Timestamp   int64  `db:"timestamp"`
	Signature   string `db:"signature"`
	Deleted     bool   `db:"deleted"`
}

func (d *dbDocument) toDocument() *Document {
	return &Document{
		Path:        d.Path,
		Author:      d.Author,
		ContentHash: d.ContentHash,
		Size:        d.Size,
		Timestamp:   d.Timestamp,
		Signature:   d.Signature,
		Deleted:     d.Deleted,
	}
}

// Replica is a local SQLite-backed document store.
type Replica struct {
	ContentHasher

	db      *sqlx.DB
	blobs   Blobs
	id      string
	ownsDB  bool
	mu      sync.Mutex // serializes timestamp assignment in Put
	nowFunc func() time.Time
}

type ReplicaOption func(*Replica)

// WithBlobs stores content somewhere other than the replica database.
func WithBlobs(b Blobs) ReplicaOption {
	return func(r *Replica) {
		r.blobs = b
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ReplicaOption {
	return func(r *Replica) {
		r.nowFunc = now
	}
}

// OpenReplica opens (or creates) a replica database at path.
func OpenReplica(path string, opts ...ReplicaOption) (*Replica, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, err
	}
	r, err := NewReplica(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.ownsDB = true
	return r, nil
}

// NewReplica initializes the schema on an existing connection.
func NewReplica(conn *sqlx.DB, opts ...ReplicaOption) (*Replica, error) {
	if _, err := conn.Exec(replicaSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize replica schema: %w", err)
	}

	r := &Replica{db: conn, nowFunc: time.Now}
	for _, opt := range opts {
		opt(r)
	}

	if r.blobs == nil {
		blobs, err := NewSQLiteBlobs(conn)
		if err != nil {
			return nil, err
		}
		r.blobs = blobs
	}

	id, err := r.loadOrCreateID()
	if err != nil {
		return nil, err
	}
	r.id = id

	return r, nil
}

func (r *Replica) loadOrCreateID() (string, error) {
	var id string
	err := r.db.Get(&id, "SELECT value FROM replica_meta WHERE key = 'id'")
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read replica id: %w", err)
	}

	id = "+" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := r.db.Exec("INSERT INTO replica_meta (key, value) VALUES ('id', ?)", id); err != nil {
		return "", fmt.Errorf("failed to store replica id: %w", err)
	}
	slog.Debug("replica created", "id", id)
	return id, nil
}

func (r *Replica) ID() string {
	return r.id
}

func (r *Replica) Close() error {
	if !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

func (r *Replica) ListLatest(ctx context.Context) iter.Seq2[*Document, error] {
	return func(yield func(*Document, error) bool) {
		rows, err := r.db.QueryxContext(ctx, fmt.Sprintf(latestQuery, ""))
		if err != nil {
			yield(nil, fmt.Errorf("failed to list documents: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row dbDocument
			if err := rows.StructScan(&row); err != nil {
				yield(nil, fmt.Errorf("failed to scan document: %w", err))
				return
			}
			if !yield(row.toDocument(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to list documents: %w", err))
		}
	}
}

func (r *Replica) Get(ctx context.Context, path string) (*Document, error) {
	return r.latest(ctx, r.db, path)
}

func (r *Replica) latest(ctx context.Context, q sqlx.QueryerContext, path string) (*Document, error) {
	var row dbDocument
	err := sqlx.GetContext(ctx, q, &row, fmt.Sprintf(latestQuery, "WHERE path = ?"), path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query path %s: %w", path, err)
	}
	return row.toDocument(), nil
}

func (r *Replica) Open(ctx context.Context, path string) (io.ReadCloser, *Document, error) {
	doc, err := r.Get(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if doc.Deleted {
		return io.NopCloser(strings.NewReader("")), doc, nil
	}

	body, err := r.blobs.Get(ctx, doc.ContentHash)
	if err != nil {
		return nil, nil, err
	}
	return body, doc, nil
}

// Put signs and stores a new version of path. The timestamp is the current
// time, bumped past the latest version so the new one always wins.
func (r *Replica) Put(ctx context.Context, path string, content io.Reader, author *identity.Keypair) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	hash, size, err := r.storeContent(ctx, content)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, err := r.latest(ctx, r.db, path)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Path:        path,
		ContentHash: hash,
		Size:        size,
		Timestamp:   NextTimestamp(r.nowFunc(), prev),
		Deleted:     size == 0,
	}
	if err := doc.Sign(author); err != nil {
		return nil, err
	}

	if err := r.insert(ctx, doc); err != nil {
		return nil, err
	}

	slog.Debug("replica put", "path", path, "hash", hash, "size", size, "deleted", doc.Deleted)
	return doc, nil
}

// Ingest accepts a document signed elsewhere. Content is checked against the
// document hash; it may be nil for tombstones.
func (r *Replica) Ingest(ctx context.Context, doc *Document, content io.Reader) error {
	if err := doc.Verify(); err != nil {
		return err
	}
	if time.UnixMicro(doc.Timestamp).After(r.nowFunc().Add(maxFutureSkew)) {
		return fmt.Errorf("%w: timestamp too far in the future", ErrInvalidDocument)
	}

	if !doc.Deleted {
		if content == nil {
			return fmt.Errorf("%w: missing content for %s", ErrInvalidDocument, doc.Path)
		}
		hash, size, err := r.storeContent(ctx, content)
		if err != nil {
			return err
		}
		if hash != doc.ContentHash || size != doc.Size {
			return fmt.Errorf("%w: %s", ErrHashMismatch, doc.Path)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(ctx, doc)
}

func (r *Replica) storeContent(ctx context.Context, content io.Reader) (string, int64, error) {
	if content == nil {
		return EmptyHash, 0, nil
	}

	sp, err := Spool(content)
	if err != nil {
		return "", 0, err
	}
	defer sp.Close()

	if sp.size == 0 {
		return sp.hash, 0, nil
	}
	if err := r.blobs.Put(ctx, sp.hash, sp.size, sp); err != nil {
		return "", 0, err
	}
	return sp.hash, sp.size, nil
}

func (r *Replica) insert(ctx context.Context, doc *Document) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	err = tx.GetContext(ctx, &existing, "SELECT timestamp FROM documents WHERE path = ? AND author = ?", doc.Path, doc.Author)
	switch {
	case err == nil && existing >= doc.Timestamp:
		return fmt.Errorf("%w: %s", ErrStaleTimestamp, doc.Path)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to query path %s: %w", doc.Path, err)
	}

	row := dbDocument{
		Path:        doc.Path,
		Author:      doc.Author,
		ContentHash: doc.ContentHash,
		Size:        doc.Size,
		Timestamp:   doc.Timestamp,
		Signature:   doc.Signature,
		Deleted:     doc.Deleted,
	}
	query := `INSERT OR REPLACE INTO documents (path, author, content_hash, size, timestamp, signature, deleted)
	          VALUES (:path, :author, :content_hash, :size, :timestamp, :signature, :deleted)`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to store document %s: %w", doc.Path, err)
	}

	return tx.Commit()
}
