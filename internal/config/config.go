// Package config holds the settings of a sync run.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/docsync/internal/docstore"
	"github.com/openmined/docsync/internal/docstore/remote"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/utils"
)

const (
	StoreSQLite = "sqlite"
	StoreRemote = "remote"

	BlobSQLite = "sqlite"
	BlobS3     = "s3"

	DefaultConcurrency   = 4
	DefaultActionTimeout = 5 * time.Minute
	DefaultHashCacheSize = 16384
)

var (
	home, _             = os.UserHomeDir()
	DefaultConfigPath   = filepath.Join(home, ".docsync", "config.yaml")
	DefaultIdentityPath = filepath.Join(home, ".docsync", "identity.json")
	DefaultDBPath       = filepath.Join(home, ".docsync", "store.db")
	DefaultLogPath      = filepath.Join(home, ".docsync", "logs", "docsync.log")
	DefaultLockDir      = filepath.Join(home, ".docsync", "locks")
)

type Config struct {
	Root         string      `mapstructure:"dir" json:"dir"`
	ManifestPath string      `mapstructure:"manifest" json:"manifest,omitempty"`
	IdentityPath string      `mapstructure:"identity" json:"identity"`
	Store        StoreConfig `mapstructure:"store" json:"store"`

	Concurrency   int           `mapstructure:"concurrency" json:"concurrency"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" json:"action_timeout"`
	// HashCacheSize bounds the number of file hashes kept between runs.
	HashCacheSize int `mapstructure:"hash_cache_size" json:"hash_cache_size,omitempty"`
	// LockDir holds the per-directory run locks, outside the synchronized tree.
	LockDir string `mapstructure:"lock_dir" json:"lock_dir,omitempty"`

	AllowUnsyncedDirWithFiles  bool `mapstructure:"allow_unsynced_dir_with_files" json:"allow_unsynced_dir_with_files,omitempty"`
	OverwriteFilesAtOwnedPaths bool `mapstructure:"overwrite_files_at_owned_paths" json:"overwrite_files_at_owned_paths,omitempty"`
	DryRun                     bool `mapstructure:"dry_run" json:"-"`

	// Exclude globs are merged with the rules file in the root.
	Exclude []string `mapstructure:"exclude" json:"exclude,omitempty"`

	LogPath string `mapstructure:"log_path" json:"log_path,omitempty"`
	Path    string `mapstructure:"-" json:"-"`
}

type StoreConfig struct {
	Kind      string             `mapstructure:"kind" json:"kind"`
	DBPath    string             `mapstructure:"db" json:"db,omitempty"`
	URL       string             `mapstructure:"url" json:"url,omitempty"`
	Timeout   time.Duration      `mapstructure:"timeout" json:"timeout,omitempty"`
	RateLimit float64            `mapstructure:"rate_limit" json:"rate_limit,omitempty"`
	Blob      string             `mapstructure:"blob" json:"blob,omitempty"`
	S3        *docstore.S3Config `mapstructure:"s3" json:"s3,omitempty"`
}

// Remote returns the client settings for a remote store.
func (s *StoreConfig) Remote() remote.Config {
	return remote.Config{URL: s.URL, Timeout: s.Timeout, RateLimit: s.RateLimit}
}

// Validate resolves paths, fills defaults and rejects bad input.
func (c *Config) Validate() error {
	var err error

	if c.Root == "" {
		return errors.New("dir is required")
	}
	if c.Root, err = utils.ResolvePath(c.Root); err != nil {
		return fmt.Errorf("dir: %w", err)
	}

	if c.ManifestPath == "" {
		c.ManifestPath = filepath.Join(c.Root, manifest.FileName)
	} else if c.ManifestPath, err = utils.ResolvePath(c.ManifestPath); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	if c.IdentityPath == "" {
		c.IdentityPath = DefaultIdentityPath
	}
	if c.IdentityPath, err = utils.ResolvePath(c.IdentityPath); err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	if c.LogPath == "" {
		c.LogPath = DefaultLogPath
	}
	if c.LogPath, err = utils.ResolvePath(c.LogPath); err != nil {
		return fmt.Errorf("log path: %w", err)
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.HashCacheSize <= 0 {
		c.HashCacheSize = DefaultHashCacheSize
	}

	if c.LockDir == "" {
		c.LockDir = DefaultLockDir
	}
	if c.LockDir, err = utils.ResolvePath(c.LockDir); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	return nil
}

// Validate fills store defaults and checks the backend settings.
func (s *StoreConfig) Validate() error {
	var err error

	if s.Kind == "" {
		s.Kind = StoreSQLite
	}

	switch s.Kind {
	case StoreSQLite:
		if s.DBPath == "" {
			s.DBPath = DefaultDBPath
		}
		if s.DBPath, err = utils.ResolvePath(s.DBPath); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if s.Blob == "" {
			s.Blob = BlobSQLite
		}
		switch s.Blob {
		case BlobSQLite:
		case BlobS3:
			if s.S3 == nil || s.S3.Bucket == "" {
				return errors.New("s3 blob backend needs a bucket")
			}
		default:
			return fmt.Errorf("unknown blob backend %q", s.Blob)
		}

	case StoreRemote:
		if s.URL == "" {
			return errors.New("remote store needs a url")
		}
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid server url %q", s.URL)
		}
		if s.RateLimit < 0 {
			return errors.New("rate_limit must not be negative")
		}

	default:
		return fmt.Errorf("unknown store kind %q", s.Kind)
	}

	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := utils.JSONMarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
