package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	audithook "github.com/getshortzy/clipqueue/audit_hook"
	"github.com/getshortzy/clipqueue/config"
	"github.com/getshortzy/clipqueue/engine"
)

// app is the state shared by every subcommand.
type app struct {
	envFile  string
	settings config.Settings
	logger   *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "clipqueue",
		Short:         "Job queue and batch orchestration for video processing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading CLIPQUEUE_* variables")

	cmd.AddCommand(
		serveCmd(a),
		cleanupCmd(a),
		statsCmd(a),
		healthCmd(a),
	)
	return cmd
}

func (a *app) load() error {
	s, err := config.Load(a.envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := s.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.settings = s
	a.logger = logger
	return nil
}

// open connects the configured backend and builds an engine on it. The
// returned cleanup stops the engine and closes the backend.
func (a *app) open(ctx context.Context) (*engine.Engine, func(), error) {
	b, err := config.Open(ctx, a.settings, a.logger)
	if err != nil {
		return nil, nil, err
	}
	opts := append([]engine.Option{
		engine.WithConfig(a.settings.Config),
		engine.WithLogger(a.logger),
	}, b.EngineOptions()...)
	if a.settings.AuditLog {
		opts = append(opts, engine.WithExtension(
			audithook.New(audithook.LogRecorder(a.logger), audithook.WithLogger(a.logger)),
		))
	}

	eng, err := engine.Build(b.Store, opts...)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.settings.ShutdownTimeout)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			a.logger.Error("engine stop failed", slog.String("error", err.Error()))
		}
		if err := b.Close(); err != nil {
			a.logger.Error("backend close failed", slog.String("error", err.Error()))
		}
	}
	return eng, cleanup, nil
}
