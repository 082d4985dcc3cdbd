package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getshortzy/clipqueue/api"
)

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, maintenance scheduler, and optional workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng, cleanup, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.Start(ctx); err != nil {
				return err
			}

			if addr == "" {
				addr = a.settings.ListenAddr
			}
			e := api.New(eng, api.WithLogger(a.logger)).Handler()
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", slog.String("addr", addr))
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.settings.ShutdownTimeout)
			defer cancel()
			return api.Shutdown(shutdownCtx, e)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default CLIPQUEUE_LISTEN_ADDR)")
	return cmd
}
