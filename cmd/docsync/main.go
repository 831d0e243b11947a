package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/docsync/internal/config"
	"github.com/openmined/docsync/internal/utils"
	"github.com/openmined/docsync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logCloser io.Closer

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "docsync",
		Short:         "Synchronize a directory with a signed document store",
		Version:       version.Version,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (json, yaml or toml)")
	flags.String("log-file", config.DefaultLogPath, "rotating log file, empty to disable")
	flags.BoolP("verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		newSyncCmd(),
		newWatchCmd(),
		newServeCmd(),
		newIdentityCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(exitCode(err))
	}
}

func setupLogging(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		}),
	}

	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		path, err := utils.ResolvePath(logFile)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		if err := utils.EnsureParent(path); err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MiB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		logCloser = rotator
		handlers = append(handlers, slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
	return nil
}
