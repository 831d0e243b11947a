package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/scanner"
	"github.com/openmined/docsync/internal/utils"
)

var (
	ErrLocalChanged       = errors.New("local file changed since scan")
	ErrRemoteChanged      = errors.New("store document changed since listing")
	ErrUnresolvedConflict = errors.New("unresolved conflict")
)

// Outcome is the result of applying one action. On success Entry is the
// path's new manifest entry, or nil when the path leaves the manifest.
type Outcome struct {
	Path  string
	Kind  Kind
	Entry *manifest.Entry
	Err   error
}

// Executor applies actions against a directory and a store.
type Executor struct {
	Root   string
	Store  docstore.Store
	Author *identity.Keypair
}

// Apply performs one action. It never overwrites or deletes a local file
// whose content differs from what the plan saw.
func (e *Executor) Apply(ctx context.Context, a Action) Outcome {
	start := time.Now()

	var (
		entry *manifest.Entry
		err   error
	)
	switch a := a.(type) {
	case *Pull:
		entry, err = e.pull(ctx, a)
	case *Push:
		entry, err = e.push(ctx, a)
	case *DeleteLocal:
		err = e.deleteLocal(a)
	case *DeleteRemote:
		err = e.deleteRemote(ctx, a)
	case *Conflict:
		entry, err = a.Manifest, ErrUnresolvedConflict
	case *NoOp:
		entry = a.Entry
	default:
		panic(fmt.Sprintf("reconcile: unhandled action %T", a))
	}

	if err != nil {
		slog.Warn("sync", "op", a.Kind(), "path", a.Target(), "error", err)
	} else if a.Kind() != KindNoOp {
		slog.Debug("sync", "op", a.Kind(), "path", a.Target(), "took", time.Since(start))
	}
	return Outcome{Path: a.Target(), Kind: a.Kind(), Entry: entry, Err: err}
}

func (e *Executor) localPath(p string) string {
	return utils.LocalPath(e.Root, p)
}

func (e *Executor) pull(ctx context.Context, a *Pull) (*manifest.Entry, error) {
	abs := e.localPath(a.Path)
	if err := e.verifyLocal(abs, a.Local); err != nil {
		return nil, err
	}

	body, doc, err := e.Store.Open(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if doc.Deleted {
		return nil, fmt.Errorf("%w: deleted", ErrRemoteChanged)
	}

	err = utils.WriteFileAtomic(abs, 0o644, func(w io.Writer) error {
		hash, err := e.Store.Hash(io.TeeReader(body, w))
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		if hash != doc.ContentHash {
			return fmt.Errorf("%w: got %s want %s", docstore.ErrHashMismatch, hash, doc.ContentHash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	slog.Info("sync", "op", KindPull, "path", a.Path, "size", humanize.Bytes(uint64(doc.Size)))
	return &manifest.Entry{
		Path:        a.Path,
		ContentHash: doc.ContentHash,
		Timestamp:   doc.Timestamp,
		FileModTime: info.ModTime().UnixMilli(),
	}, nil
}

func (e *Executor) push(ctx context.Context, a *Push) (*manifest.Entry, error) {
	if err := e.verifyRemote(ctx, a.Path, a.Remote); err != nil {
		return nil, err
	}

	abs := e.localPath(a.Path)
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		// empty content would publish a tombstone
		return nil, fmt.Errorf("%w: file is empty", ErrLocalChanged)
	}

	doc, err := e.Store.Put(ctx, a.Path, f, e.Author)
	if err != nil {
		return nil, err
	}

	slog.Info("sync", "op", KindPush, "path", a.Path, "size", humanize.Bytes(uint64(doc.Size)))
	return &manifest.Entry{
		Path:        a.Path,
		ContentHash: doc.ContentHash,
		Timestamp:   doc.Timestamp,
		FileModTime: info.ModTime().UnixMilli(),
	}, nil
}

func (e *Executor) deleteLocal(a *DeleteLocal) error {
	abs := e.localPath(a.Path)
	if err := e.verifyLocal(abs, a.Local); err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cleanupEmptyParentDirs(filepath.Dir(abs), e.Root)

	slog.Info("sync", "op", KindDeleteLocal, "path", a.Path)
	return nil
}

func (e *Executor) deleteRemote(ctx context.Context, a *DeleteRemote) error {
	if err := e.verifyRemote(ctx, a.Path, a.Remote); err != nil {
		return err
	}
	if err := e.verifyLocal(e.localPath(a.Path), a.Local); err != nil {
		return err
	}

	if _, err := e.Store.Put(ctx, a.Path, strings.NewReader(""), e.Author); err != nil {
		return err
	}

	slog.Info("sync", "op", KindDeleteRemote, "path", a.Path)
	return nil
}

// verifyLocal checks that the file at abs is still the one the plan saw.
// A nil record means no file was seen.
func (e *Executor) verifyLocal(abs string, seen *scanner.FileRecord) error {
	f, err := os.Open(abs)
	if errors.Is(err, fs.ErrNotExist) {
		if seen == nil {
			return nil
		}
		return fmt.Errorf("%w: removed", ErrLocalChanged)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	switch {
	case info.IsDir():
		return fmt.Errorf("%w: is a directory", ErrLocalChanged)
	case seen == nil:
		return fmt.Errorf("%w: file appeared", ErrLocalChanged)
	case info.Size() != seen.Size:
		return fmt.Errorf("%w: size %d, was %d", ErrLocalChanged, info.Size(), seen.Size)
	}

	hash, err := e.Store.Hash(f)
	if err != nil {
		return err
	}
	if hash != seen.ContentHash {
		return fmt.Errorf("%w: content differs", ErrLocalChanged)
	}
	return nil
}

// verifyRemote checks that the store still holds the version the plan saw.
func (e *Executor) verifyRemote(ctx context.Context, p string, seen *docstore.Document) error {
	cur, err := e.Store.Get(ctx, p)
	if err != nil {
		return err
	}
	switch {
	case seen == nil && (cur == nil || cur.Deleted):
		return nil
	case seen == nil:
		return fmt.Errorf("%w: new version by %s", ErrRemoteChanged, cur.Author)
	case cur == nil:
		return fmt.Errorf("%w: gone", ErrRemoteChanged)
	case cur.Timestamp != seen.Timestamp || cur.ContentHash != seen.ContentHash:
		return fmt.Errorf("%w: new version by %s", ErrRemoteChanged, cur.Author)
	}
	return nil
}

// cleanupEmptyParentDirs removes dir and its parents up to root while they
// are empty. OS metadata files do not keep a directory alive.
func cleanupEmptyParentDirs(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}

		remaining := 0
		for _, entry := range entries {
			if entry.Name() == ".DS_Store" || entry.Name() == "Thumbs.db" {
				_ = os.RemoveAll(filepath.Join(dir, entry.Name()))
			} else {
				remaining++
			}
		}
		if remaining > 0 {
			return
		}

		if err := os.Remove(dir); err != nil {
			slog.Warn("sync", "op", KindDeleteLocal, "path", dir, "error", err)
			return
		}
	}
}
