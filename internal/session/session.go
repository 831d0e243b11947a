// Package session runs one end-to-end synchronization of a directory.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/policy"
	"github.com/openmined/docsync/internal/reconcile"
	"github.com/openmined/docsync/internal/scanner"
	"github.com/openmined/docsync/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency   = 4
	defaultActionTimeout = 5 * time.Minute
)

var (
	ErrDirectoryLocked  = errors.New("session: directory is being synchronized by another process")
	ErrRootNotDirectory = errors.New("session: root is not a directory")
)

type Options struct {
	Root     string
	Manifest *manifest.File // defaults to the manifest at Root
	Store    docstore.Store
	Identity *identity.Keypair
	// Policy defaults to the rules file at Root, reloaded every run.
	Policy *policy.Policy
	// ExtraRules are merged into the rules file when Policy is nil.
	ExtraRules *policy.Rules

	Concurrency   int
	ActionTimeout time.Duration
	// HashCacheSize bounds the scanner's hash cache. Zero keeps its default.
	HashCacheSize int
	// LockDir holds the run lock of Root. Defaults to DefaultLockDir.
	LockDir string

	// AllowUnsyncedDirWithFiles lets a first run push every file in a
	// directory that has no manifest yet.
	AllowUnsyncedDirWithFiles bool
	// OverwriteFilesAtOwnedPaths resolves conflicts in favour of the store
	// on paths the identity may write.
	OverwriteFilesAtOwnedPaths bool
	DryRun                     bool

	// Events receives one event per executed path. Sends block until
	// received or the run is cancelled.
	Events chan<- Event
}

type Session struct {
	opts    Options
	scanner *scanner.Scanner
	policy  *policy.Policy
}

func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if opts.Identity == nil {
		return nil, errors.New("session: identity is required")
	}

	root, err := utils.ResolvePath(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("session: root: %w", err)
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, root)
	}
	opts.Root = root

	if opts.Manifest == nil {
		opts.Manifest = manifest.At(root)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = defaultActionTimeout
	}

	if opts.LockDir == "" {
		opts.LockDir = DefaultLockDir()
	}

	s := &Session{opts: opts}

	var ignore []string
	if rel, err := filepath.Rel(root, opts.Manifest.Path()); err == nil && !strings.HasPrefix(rel, "..") {
		ignore = append(ignore, utils.NormPath(rel))
	}

	scanOpts := []scanner.Option{
		scanner.WithHasher(opts.Store),
		scanner.WithIgnore(ignore...),
		scanner.WithSkip(func(rel string, isDir bool) bool {
			return s.policy.Excluded(rel, isDir)
		}),
	}
	if opts.HashCacheSize > 0 {
		scanOpts = append(scanOpts, scanner.WithCacheSize(opts.HashCacheSize))
	}
	s.scanner, err = scanner.New(root, scanOpts...)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// DefaultLockDir is the user cache directory for run locks, or the system
// temp directory when there is none.
func DefaultLockDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "docsync", "locks")
}

// LockPath is the lock file guarding root, outside the synchronized tree.
func LockPath(lockDir, root string) string {
	return filepath.Join(lockDir, docstore.HashBytes([]byte(root))+".lock")
}

func (s *Session) loadPolicy() error {
	if s.opts.Policy != nil {
		s.policy = s.opts.Policy
		return nil
	}
	rules, err := policy.LoadRules(s.opts.Root)
	if err != nil {
		return fmt.Errorf("load %s: %w", policy.RulesFileName, err)
	}
	s.policy = policy.New(rules.Merge(s.opts.ExtraRules))
	return nil
}

// Run synchronizes the directory once. Per-path failures are collected in
// the report; an error is returned only for run-fatal conditions, or with the
// report when ctx was cancelled.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), DryRun: s.opts.DryRun}
	log := slog.With("run", report.RunID)
	defer func() {
		report.Duration = time.Since(start)
	}()

	if !utils.DirExists(s.opts.Root) {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDirectory, s.opts.Root)
	}

	if err := os.MkdirAll(s.opts.LockDir, 0o755); err != nil {
		return nil, fmt.Errorf("lock directory: %w", err)
	}
	lock := flock.New(LockPath(s.opts.LockDir, s.opts.Root))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock directory: %w", err)
	}
	if !locked {
		return nil, ErrDirectoryLocked
	}
	defer lock.Unlock()

	if err := s.loadPolicy(); err != nil {
		return nil, err
	}

	mf := s.opts.Manifest
	hadManifest, err := mf.Exists()
	if err != nil {
		return nil, err
	}
	prior, err := mf.Load()
	if err != nil {
		return nil, err
	}
	unbound := prior.Share == ""
	if err := prior.Bind(s.opts.Store.ID()); err != nil {
		return nil, err
	}

	log.Info("sync start", "root", s.opts.Root, "store", s.opts.Store.ID(), "entries", len(prior.Entries))

	snap, remote, err := s.collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		return nil, err
	}

	for _, se := range snap.Errors {
		report.Failed = append(report.Failed, Failure{Path: se.Path, Reason: se.Err.Error()})
	}

	if !hadManifest && len(snap.Files)+len(snap.Errors) > 0 && !s.opts.AllowUnsyncedDirWithFiles {
		report.Refused = true
		report.RefusalReason = fmt.Sprintf(
			"%s has %d files but was never synchronized; rerun with the allow-unsynced-dir-with-files option to push them",
			s.opts.Root, len(snap.Files)+len(snap.Errors))
		log.Warn("sync refused", "reason", report.RefusalReason)
		report.sort()
		return report, nil
	}

	plan := reconcile.BuildPlan(reconcile.Inputs{
		Manifest: prior.Entries,
		Local:    snap.Files,
		Remote:   remote,
		Blocked:  snap.Blocked,
		Excluded: s.policy.Rules().Covered,
	})
	plan = reconcile.Authorize(plan, s.policy, s.opts.Identity.Address, reconcile.AuthorizeOptions{
		OverwriteOwned: s.opts.OverwriteFilesAtOwnedPaths,
	})

	for _, c := range plan.Conflicts() {
		report.Conflicts = append(report.Conflicts, c.Path)
	}
	for _, sk := range plan.Skipped {
		report.SkippedUnauthorized = append(report.SkippedUnauthorized, sk.Path)
	}
	pending := plan.Pending()
	for _, a := range pending {
		report.Planned = append(report.Planned, PlannedAction{Path: a.Target(), Kind: a.Kind()})
	}

	if s.opts.DryRun {
		log.Info("sync dry run", "planned", len(pending), "conflicts", len(report.Conflicts))
		report.sort()
		return report, nil
	}

	outcomes := s.execute(ctx, pending)

	entries := nextEntries(plan, outcomes)
	for _, out := range outcomes {
		if out.Err != nil {
			report.Failed = append(report.Failed, Failure{Path: out.Path, Reason: out.Err.Error()})
		} else {
			report.Succeeded = append(report.Succeeded, out.Path)
		}
	}

	if !hadManifest || unbound || !entries.Equal(prior.Entries) {
		next := manifest.New()
		next.Share = prior.Share
		next.Entries = entries
		if err := mf.Commit(next); err != nil {
			report.sort()
			return report, err
		}
		report.ManifestCommitted = true
	}

	report.sort()
	log.Info("sync done",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"conflicts", len(report.Conflicts),
		"skipped", len(report.SkippedUnauthorized),
		"took", time.Since(start),
	)
	return report, ctx.Err()
}

// collect scans the directory and lists the store concurrently.
func (s *Session) collect(ctx context.Context) (*scanner.Snapshot, map[string]*docstore.Document, error) {
	var (
		snap   *scanner.Snapshot
		remote = make(map[string]*docstore.Document)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.scanner.Scan(gctx, s.opts.Concurrency)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for doc, err := range s.opts.Store.ListLatest(gctx) {
			if err != nil {
				return fmt.Errorf("list store: %w", err)
			}
			if docstore.ValidatePath(doc.Path) != nil {
				slog.Warn("sync skip store document", "path", doc.Path, "reason", "invalid path")
				continue
			}
			remote[doc.Path] = doc
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snap, remote, nil
}

// execute applies actions with bounded concurrency. Once ctx is done no new
// action starts; running ones finish under their own timeout.
func (s *Session) execute(ctx context.Context, actions []reconcile.Action) []reconcile.Outcome {
	exec := &reconcile.Executor{
		Root:   s.opts.Root,
		Store:  s.opts.Store,
		Author: s.opts.Identity,
	}

	var (
		mu       sync.Mutex
		outcomes = make([]reconcile.Outcome, 0, len(actions))
	)
	record := func(out reconcile.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, out)
		mu.Unlock()
		s.emit(ctx, Event{Path: out.Path, Kind: out.Kind, Err: out.Err})
	}
	cancelled := func(a reconcile.Action) reconcile.Outcome {
		return reconcile.Outcome{
			Path: a.Target(),
			Kind: a.Kind(),
			Err:  fmt.Errorf("not started: %w", context.Cause(ctx)),
		}
	}

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i, a := range actions {
		if ctx.Err() != nil {
			for _, rest := range actions[i:] {
				record(cancelled(rest))
			}
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				record(cancelled(a))
				return nil
			}
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ActionTimeout)
			defer cancel()
			record(exec.Apply(actx, a))
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func (s *Session) emit(ctx context.Context, ev Event) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- ev:
	case <-ctx.Done():
	}
}

// nextEntries is the manifest after a run: settled paths from the plan,
// successful outcomes applied on top, and the prior entry kept for anything
// that failed, conflicted, or never ran.
func nextEntries(plan *reconcile.Plan, outcomes []reconcile.Outcome) manifest.Entries {
	entries := make(manifest.Entries, len(plan.Prior))
	for _, a := range plan.Actions {
		if noop, ok := a.(*reconcile.NoOp); ok {
			if noop.Entry != nil {
				entries[noop.Path] = *noop.Entry
			}
			continue
		}
		if prior, ok := plan.Prior[a.Target()]; ok {
			entries[a.Target()] = prior
		}
	}

	for _, out := range outcomes {
		if out.Err != nil {
			continue
		}
		if out.Entry == nil {
			delete(entries, out.Path)
		} else {
			entries[out.Path] = *out.Entry
		}
	}
	return entries
}
