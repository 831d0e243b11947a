// Package watch reruns a sync whenever the synchronized directory changes.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultInterval = 5 * time.Minute
	eventBufferSize = 64
)

// FilterFunc returns true for root-relative paths whose changes are ignored.
type FilterFunc func(rel string) bool

// RunFunc performs one sync. A returned error is logged; watching goes on
// unless the error is from the watch context itself.
type RunFunc func(ctx context.Context) error

type Watcher struct {
	root     string
	debounce time.Duration
	interval time.Duration
	filter   FilterFunc

	rawEvents chan notify.EventInfo
	trigger   chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithInterval sets the period of full runs done without any event.
// Zero disables them.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

func WithFilter(f FilterFunc) Option {
	return func(w *Watcher) { w.filter = f }
}

func New(root string, opts ...Option) *Watcher {
	w := &Watcher{
		root:     root,
		debounce: DefaultDebounce,
		interval: DefaultInterval,
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run calls fn once, then again after each quiet period following a change
// and on every interval tick, until ctx is done. Runs never overlap; changes
// seen during a run collapse into one follow-up run.
func (w *Watcher) Run(ctx context.Context, fn RunFunc) error {
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(filepath.Join(w.root, "..."), w.rawEvents, notify.All); err != nil {
		return err
	}
	defer notify.Stop(w.rawEvents)

	slog.Info("file watcher start", "dir", w.root)
	defer slog.Info("file watcher stop", "dir", w.root)

	go w.filterEvents(ctx)
	defer w.stopTimer()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.trigger:
		case <-tick:
			slog.Debug("file watcher full run")
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			slog.Error("file watcher run", "error", err)
		}
	}
}

// Trigger schedules a run without waiting for a filesystem event.
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *Watcher) filterEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, event.Path())
			if err != nil || w.ignored(filepath.ToSlash(rel)) {
				continue
			}
			slog.Debug("file watcher", "event", event.Event(), "path", rel)
			w.debounceEvent()
		}
	}
}

func (w *Watcher) ignored(rel string) bool {
	base := filepath.Base(rel)
	switch {
	case rel == "." || rel == "":
		return true
	case base == manifest.FileName:
		return true
	case strings.HasPrefix(base, utils.TempPrefix):
		return true
	case w.filter != nil && w.filter(rel):
		return true
	}
	return false
}

// debounceEvent restarts the quiet-period timer. On linux a single write
// produces a burst of events until the file is complete.
func (w *Watcher) debounceEvent() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Trigger)
}

func (w *Watcher) stopTimer() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
