package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flag name -> config key
var syncFlagKeys = map[string]string{
	"dir":                            "dir",
	"manifest":                       "manifest",
	"identity":                       "identity",
	"store":                          "store.kind",
	"db":                             "store.db",
	"url":                            "store.url",
	"timeout":                        "store.timeout",
	"rate-limit":                     "store.rate_limit",
	"blob":                           "store.blob",
	"concurrency":                    "concurrency",
	"action-timeout":                 "action_timeout",
	"hash-cache-size":                "hash_cache_size",
	"lock-dir":                       "lock_dir",
	"allow-unsynced-dir-with-files":  "allow_unsynced_dir_with_files",
	"overwrite-files-at-owned-paths": "overwrite_files_at_owned_paths",
	"dry-run":                        "dry_run",
	"exclude":                        "exclude",
	"log-file":                       "log_path",
}

func addSyncFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringP("dir", "d", ".", "directory to synchronize")
	flags.String("manifest", "", "manifest file (default <dir>/"+manifest.FileName+")")
	flags.StringP("identity", "i", config.DefaultIdentityPath, "identity key file")
	flags.String("store", config.StoreSQLite, "store kind: sqlite or remote")
	flags.String("db", config.DefaultDBPath, "sqlite store database")
	flags.String("url", "", "remote store url")
	flags.Duration("timeout", 0, "remote request timeout")
	flags.Float64("rate-limit", 0, "remote requests per second")
	flags.String("blob", config.BlobSQLite, "sqlite store blob backend: sqlite or s3")
	flags.IntP("concurrency", "j", config.DefaultConcurrency, "parallel actions")
	flags.Duration("action-timeout", config.DefaultActionTimeout, "timeout of a single action")
	flags.Int("hash-cache-size", config.DefaultHashCacheSize, "file hashes remembered between runs")
	flags.String("lock-dir", config.DefaultLockDir, "directory of run locks")
	flags.Bool("allow-unsynced-dir-with-files", false, "allow the first sync of a directory that already has files")
	flags.Bool("overwrite-files-at-owned-paths", false, "resolve conflicts with the store version on writable paths")
	flags.BoolP("dry-run", "n", false, "report the plan without changing anything")
	flags.StringSlice("exclude", nil, "glob of paths to leave alone (repeatable)")
	flags.Bool("json", false, "print the report as json")
}

// loadConfig merges the config file, DOCSYNC_* env vars and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(config.DefaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if configPath != "" || (!enoent && !ok) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	for name, key := range syncFlagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix("DOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// s3 settings only come from the file or env
	for _, key := range []string{"bucket", "region", "access_key", "secret_key", "endpoint", "prefix"} {
		v.BindEnv("store.s3." + key)
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
