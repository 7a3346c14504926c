// Command parley is the voice assistant worker. It joins LiveKit rooms (or
// Discord voice channels) on request and holds a spoken conversation in each.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds telemetry flushing after the worker stops.
const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Voice assistant worker",
		Long:          "parley joins rooms on request and answers the people in them: speech recognition, a language model and speech synthesis in one loop.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			slog.Debug("parley: exiting")
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "path to the YAML configuration file; built-in defaults are used when it does not exist")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "environment file loaded before the configuration; variables already set win")

	root.AddCommand(
		newStartCmd(g, "start", "Run the worker: job API, health probes and metrics", false),
		newStartCmd(g, "dev", "Run the worker with debug logging", true),
		newConnectCmd(g),
		newCheckCmd(g),
		newVersionCmd(),
	)
	root.SetErrPrefix("parley:")
	return root
}

func newStartCmd(g *globalFlags, use, short string, debug bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(g, debug)
			if err != nil {
				return report(cmd, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return report(cmd, runWorker(ctx, cfg))
		},
	}
}

func newConnectCmd(g *globalFlags) *cobra.Command {
	var roomName string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run one job against a room in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(g, false)
			if err != nil {
				return report(cmd, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return report(cmd, runConnect(ctx, cfg, roomName))
		},
	}
	cmd.Flags().StringVar(&roomName, "room", "", "room (or Discord voice channel ID) to join")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the provider summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(g, false)
			if err != nil {
				return report(cmd, err)
			}
			return report(cmd, runCheck(cmd.OutOrStdout(), cfg))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "parley", version)
		},
	}
}

// setup loads the environment file and the configuration and installs the
// default logger.
func setup(g *globalFlags, debug bool) (*config.Config, error) {
	if err := loadEnv(g.envFile); err != nil {
		return nil, err
	}
	cfg, fromFile, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Server.LogLevel
	if debug {
		level = config.LogDebug
	}
	slog.SetDefault(newLogger(level))
	if !fromFile {
		slog.Info("parley: config file not found, using built-in defaults", "path", g.configPath)
	}
	return cfg, nil
}

// loadEnv loads path into the process environment. A missing file is not
// an error; variables that are already set are kept.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// report prints err on the command's error stream. Cancellation by signal
// is a clean exit.
func report(cmd *cobra.Command, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	cmd.PrintErrln(cmd.ErrPrefix(), err)
	return err
}
