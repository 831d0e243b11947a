// Package manifest persists the last synchronized state of a directory.
//
// The manifest is a hidden file at the root of the synchronized directory. It
// maps each path to the content hash and store timestamp seen the last time
// the path was successfully synchronized. A path is in the manifest iff it has
// been synchronized at least once.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/openmined/docsync/internal/utils"
)

// FileName is the default manifest location relative to the root.
const FileName = ".docsync-manifest"

const currentVersion = 1

var (
	ErrCorrupt       = errors.New("manifest: corrupt")
	ErrShareMismatch = errors.New("manifest: directory is synchronized with a different store")
	ErrNoManifest    = errors.New("manifest: none found")
)

// Entry is the last synchronized state of one path.
type Entry struct {
	Path        string `json:"-"`
	ContentHash string `json:"contentHash"`
	Timestamp   int64  `json:"timestamp"`   // store version timestamp, microseconds
	FileModTime int64  `json:"fileModTime"` // unix milliseconds of the local file after sync
}

type Entries map[string]Entry

// Equal compares two entry sets.
func (e Entries) Equal(other Entries) bool {
	return maps.Equal(e, other)
}

func (e Entries) Clone() Entries {
	return maps.Clone(e)
}

// Manifest is the on-disk document.
type Manifest struct {
	Version int     `json:"version"`
	Share   string  `json:"share,omitempty"`
	Entries Entries `json:"entries"`
}

func New() *Manifest {
	return &Manifest{Version: currentVersion, Entries: make(Entries)}
}

// Bind records the store the directory is synchronized with, refusing a
// manifest that already belongs to another store.
func (m *Manifest) Bind(share string) error {
	if m.Share != "" && share != "" && m.Share != share {
		return fmt.Errorf("%w: manifest has %s, store is %s", ErrShareMismatch, m.Share, share)
	}
	if share != "" {
		m.Share = share
	}
	return nil
}

// File is a manifest at a fixed location.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// At returns the default manifest file for root.
func At(root string) *File {
	return NewFile(filepath.Join(root, FileName))
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Exists() (bool, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%w: %s is a directory", ErrCorrupt, f.path)
	}
	return true, nil
}

// Load reads the manifest. A missing file yields an empty manifest, not an
// error; anything unreadable as a manifest is ErrCorrupt.
func (f *File) Load() (*Manifest, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := utils.JSONUnmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if m.Version != currentVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, f.path, m.Version)
	}
	if m.Entries == nil {
		m.Entries = make(Entries)
	}
	for p, e := range m.Entries {
		if p == "" || e.ContentHash == "" {
			return nil, fmt.Errorf("%w: %s: bad entry %q", ErrCorrupt, f.path, p)
		}
		e.Path = p
		m.Entries[p] = e
	}

	return &m, nil
}

// Commit atomically replaces the manifest. Either the whole manifest lands
// or the previous one is left as it was.
func (f *File) Commit(m *Manifest) error {
	m.Version = currentVersion
	if m.Entries == nil {
		m.Entries = make(Entries)
	}

	data, err := utils.JSONMarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	err = utils.WriteFileAtomic(f.path, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
	if err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}

	slog.Debug("manifest commit", "path", f.path, "entries", len(m.Entries))
	return nil
}

// FindRoot walks upward from dir to the nearest directory holding a manifest.
func FindRoot(dir string) (string, error) {
	dir, err := utils.ResolvePath(dir)
	if err != nil {
		return "", err
	}

	for {
		if utils.FileExists(filepath.Join(dir, FileName)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoManifest
		}
		dir = parent
	}
}
