package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/identity"
	"github.com/openmined/docsync/internal/manifest"
	"github.com/openmined/docsync/internal/policy"
	"github.com/openmined/docsync/internal/session"
	"github.com/spf13/cobra"
)

var errUnclean = errors.New("sync finished with pending paths")

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the directory once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			asJSON, _ := cmd.Flags().GetBool("json")

			sess, closer, err := newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			report, runErr := sess.Run(cmd.Context())
			if report != nil {
				if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if !report.Clean() {
				return errUnclean
			}
			return nil
		},
	}
	addSyncFlags(cmd.Flags())
	return cmd
}

// newSession wires a session from cfg. The closer releases the store.
func newSession(ctx context.Context, cfg *config.Config) (*session.Session, io.Closer, error) {
	kp, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return nil, nil, err
	}

	store, closer, err := openStore(ctx, &cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	sess, err := session.New(session.Options{
		Root:                       cfg.Root,
		Manifest:                   manifest.NewFile(cfg.ManifestPath),
		Store:                      store,
		Identity:                   kp,
		ExtraRules:                 &policy.Rules{Exclude: cfg.Exclude},
		Concurrency:                cfg.Concurrency,
		ActionTimeout:              cfg.ActionTimeout,
		HashCacheSize:              cfg.HashCacheSize,
		LockDir:                    cfg.LockDir,
		AllowUnsyncedDirWithFiles:  cfg.AllowUnsyncedDirWithFiles,
		OverwriteFilesAtOwnedPaths: cfg.OverwriteFilesAtOwnedPaths,
		DryRun:                     cfg.DryRun,
	})
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	slog.Debug("sync setup", "dir", cfg.Root, "store", cfg.Store.Kind, "identity", kp.Address, "share", store.ID())
	return sess, closer, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUnclean):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
