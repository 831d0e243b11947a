package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/docsync/internal/policy"
	"github.com/openmined/docsync/internal/session"
	"github.com/openmined/docsync/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Synchronize the directory on every change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			asJSON, _ := cmd.Flags().GetBool("json")
			debounce, _ := cmd.Flags().GetDuration("debounce")
			interval, _ := cmd.Flags().GetDuration("interval")

			sess, closer, err := newSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			rules := &policy.Rules{Exclude: cfg.Exclude}
			w := watch.New(cfg.Root,
				watch.WithDebounce(debounce),
				watch.WithInterval(interval),
				watch.WithFilter(func(rel string) bool { return rules.Excluded(rel, false) }),
			)

			return w.Run(cmd.Context(), func(ctx context.Context) error {
				report, err := sess.Run(ctx)
				if report != nil && (!report.Clean() || len(report.Succeeded) > 0 || asJSON) {
					if perr := printReport(cmd.OutOrStdout(), report, asJSON); perr != nil {
						return perr
					}
				}
				if errors.Is(err, session.ErrDirectoryLocked) {
					slog.Warn("watch skipped run", "reason", err)
					return nil
				}
				return err
			})
		},
	}
	addSyncFlags(cmd.Flags())
	cmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period after a change before syncing")
	cmd.Flags().Duration("interval", watch.DefaultInterval, "full sync period, 0 to disable")
	return cmd
}
