package scanner

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

// Snapshot is the result of one full scan.
type Snapshot struct {
	Files  map[string]*FileRecord
	Errors []*ScanError

	blocked mapset.Set[string]
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Files:   make(map[string]*FileRecord),
		blocked: mapset.NewThreadUnsafeSet[string](),
	}
}

func (s *Snapshot) addError(se *ScanError) {
	s.Errors = append(s.Errors, se)
	s.blocked.Add(se.Path)
}

// Blocked reports whether p is at or below a path that failed to scan. Such
// paths have unknown local state and must not be reconciled.
func (s *Snapshot) Blocked(p string) bool {
	if s.blocked.Cardinality() == 0 {
		return false
	}
	if s.blocked.Contains("") {
		return true
	}
	for p != "." && p != "/" && p != "" {
		if s.blocked.Contains(p) {
			return true
		}
		p = path.Dir(p)
	}
	return false
}

// Scan walks the tree and hashes files with at most workers in flight.
// Per-path failures land in Snapshot.Errors; only cancellation or losing the
// root fails the scan.
func (s *Scanner) Scan(ctx context.Context, workers int) (*Snapshot, error) {
	if workers < 1 {
		workers = 1
	}

	start := time.Now()
	snap := newSnapshot()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var walkErr error
	for entry, err := range s.Walk(gctx) {
		if err != nil {
			var se *ScanError
			if errors.As(err, &se) {
				mu.Lock()
				snap.addError(se)
				mu.Unlock()
				continue
			}
			walkErr = err
			break
		}

		g.Go(func() error {
			rec, err := s.Hash(gctx, entry)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("scan hash", "path", entry.RelPath, "error", err)
				snap.addError(&ScanError{Path: entry.RelPath, Err: err})
				return nil
			}
			snap.Files[rec.RelPath] = rec
			return nil
		})
	}

	if err := g.Wait(); err != nil && walkErr == nil {
		walkErr = err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Debug("scan", "files", len(snap.Files), "errors", len(snap.Errors), "took", time.Since(start))
	return snap, nil
}
