// Package scanner walks a synchronized directory and hashes its regular files.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/utils"
)

const defaultCacheSize = 16384

var (
	ErrSymlinkCycle = errors.New("symlink cycle")
	ErrNotDirectory = errors.New("root is not a directory")
)

// ScanError is a per-path failure. It never aborts a scan; the path and
// everything under it is reported instead of listed.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %q: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Entry is a regular file found by Walk, not yet hashed.
type Entry struct {
	RelPath string
	AbsPath string
	Info    fs.FileInfo
}

// FileRecord is a hashed file.
type FileRecord struct {
	RelPath     string
	AbsPath     string
	Size        int64
	ModTime     time.Time
	ContentHash string
}

// SkipFunc reports whether a path (and, for directories, its subtree) is left out.
type SkipFunc func(relPath string, isDir bool) bool

type Scanner struct {
	root   string
	hasher docstore.Hasher
	skip   SkipFunc
	ignore map[string]struct{}
	cache  *lru.Cache[string, FileRecord]
}

type Option func(*Scanner)

// WithHasher sets the content hash. It must match the store's.
func WithHasher(h docstore.Hasher) Option {
	return func(s *Scanner) {
		s.hasher = h
	}
}

func WithSkip(fn SkipFunc) Option {
	return func(s *Scanner) {
		s.skip = fn
	}
}

// WithIgnore leaves out exact relative paths, such as the manifest file.
func WithIgnore(relPaths ...string) Option {
	return func(s *Scanner) {
		for _, p := range relPaths {
			s.ignore[p] = struct{}{}
		}
	}
}

// WithCacheSize bounds the number of hashed files remembered between scans.
func WithCacheSize(n int) Option {
	return func(s *Scanner) {
		s.cache, _ = lru.New[string, FileRecord](n)
	}
}

func New(root string, opts ...Option) (*Scanner, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	s := &Scanner{
		root:   root,
		hasher: docstore.ContentHasher{},
		ignore: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache, _ = lru.New[string, FileRecord](defaultCacheSize)
	}
	return s, nil
}

func (s *Scanner) skipped(rel string, isDir bool) bool {
	if _, ok := s.ignore[rel]; ok {
		return true
	}
	if strings.HasPrefix(path.Base(rel), utils.TempPrefix) {
		return true
	}
	return s.skip != nil && s.skip(rel, isDir)
}

// Walk lazily yields every regular file under the root, following symlinks.
// Per-path problems are yielded as *ScanError and the walk goes on; any other
// error ends the sequence. Each call walks the tree afresh.
func (s *Scanner) Walk(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		info, err := os.Stat(s.root)
		if err != nil {
			yield(Entry{}, fmt.Errorf("stat root: %w", err))
			return
		}
		s.walkDir(ctx, s.root, "", info, make(map[string]struct{}), yield)
	}
}

// walkDir descends into abs. ancestors holds the directories on the current
// path from the root, so reaching one of them again is a cycle while the same
// directory reached through two sibling links is not.
func (s *Scanner) walkDir(ctx context.Context, abs, rel string, info fs.FileInfo, ancestors map[string]struct{}, yield func(Entry, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(Entry{}, err)
		return false
	}

	if key, ok := fileKey(abs, info); ok {
		if _, seen := ancestors[key]; seen {
			slog.Warn("scan", "path", rel, "error", ErrSymlinkCycle)
			return yield(Entry{}, &ScanError{Path: rel, Err: ErrSymlinkCycle})
		}
		ancestors[key] = struct{}{}
		defer delete(ancestors, key)
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return yield(Entry{}, &ScanError{Path: rel, Err: err})
	}

	for _, de := range entries {
		childAbs := filepath.Join(abs, de.Name())
		childRel := de.Name()
		if rel != "" {
			childRel = rel + "/" + de.Name()
		}

		// os.Stat follows symlinks
		childInfo, err := os.Stat(childAbs)
		if err != nil {
			if s.skipped(childRel, false) {
				continue
			}
			if !yield(Entry{}, &ScanError{Path: childRel, Err: err}) {
				return false
			}
			continue
		}

		switch {
		case childInfo.IsDir():
			if s.skipped(childRel, true) {
				continue
			}
			if !s.walkDir(ctx, childAbs, childRel, childInfo, ancestors, yield) {
				return false
			}
		case childInfo.Mode().IsRegular():
			if s.skipped(childRel, false) {
				continue
			}
			if !yield(Entry{RelPath: childRel, AbsPath: childAbs, Info: childInfo}, nil) {
				return false
			}
		default:
			slog.Debug("scan skip special file", "path", childRel, "mode", childInfo.Mode().String())
		}
	}
	return true
}

// Hash returns the record for a walked file, reusing the cached hash when the
// size and modification time are unchanged since it was last hashed.
func (s *Scanner) Hash(ctx context.Context, e Entry) (*FileRecord, error) {
	if cached, ok := s.cache.Get(e.RelPath); ok &&
		cached.Size == e.Info.Size() && cached.ModTime.Equal(e.Info.ModTime()) {
		rec := cached
		rec.AbsPath = e.AbsPath
		return &rec, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(e.AbsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hash, err := s.hasher.Hash(f)
	if err != nil {
		return nil, fmt.Errorf("hash: %w", err)
	}

	rec := FileRecord{
		RelPath:     e.RelPath,
		AbsPath:     e.AbsPath,
		Size:        e.Info.Size(),
		ModTime:     e.Info.ModTime(),
		ContentHash: hash,
	}
	s.cache.Add(e.RelPath, rec)
	return &rec, nil
}
