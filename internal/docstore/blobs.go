package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
)

// Blobs stores content addressed by its hash.
type Blobs interface {
	Put(ctx context.Context, hash string, size int64, r io.Reader) error
	Get(ctx context.Context, hash string) (io.ReadCloser, error)
	Has(ctx context.Context, hash string) (bool, error)
}

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    hash TEXT PRIMARY KEY,
    size INTEGER NOT NULL,
    data BLOB NOT NULL
);
`

// SQLiteBlobs keeps content in the replica database.
type SQLiteBlobs struct {
	db *sqlx.DB
}

func NewSQLiteBlobs(db *sqlx.DB) (*SQLiteBlobs, error) {
	if _, err := db.Exec(blobSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize blob schema: %w", err)
	}
	return &SQLiteBlobs{db: db}, nil
}

func (b *SQLiteBlobs) Put(ctx context.Context, hash string, size int64, r io.Reader) error {
	exists, err := b.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob %s: %w", hash, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("%w: blob %s is %d bytes, expected %d", ErrHashMismatch, hash, len(data), size)
	}

	_, err = b.db.ExecContext(ctx, "INSERT OR IGNORE INTO blobs (hash, size, data) VALUES (?, ?, ?)", hash, size, data)
	if err != nil {
		return fmt.Errorf("failed to store blob %s: %w", hash, err)
	}
	return nil
}

func (b *SQLiteBlobs) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.GetContext(ctx, &data, "SELECT data FROM blobs WHERE hash = ?", hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *SQLiteBlobs) Has(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := b.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM blobs WHERE hash = ?", hash); err != nil {
		return false, fmt.Errorf("failed to query blob %s: %w", hash, err)
	}
	return n > 0, nil
}
