package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"keypilot/internal/bootstrap"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for hotkeys and serve the local control API",
		Long:  "Install the input hook, fire jobs from hotkeys and, when an address is set, serve the HTTP API.\nExample:\n  keypilot serve --http 127.0.0.1:7777",
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if addr, _ := cmd.Flags().GetString("http"); addr != "" {
				core.Settings.HTTPAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if core.Settings.HTTPAddr != "" {
				api := bootstrap.NewAPIServer(core)
				if _, err := api.Start(ctx); err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := api.Shutdown(shutdownCtx); err != nil {
						slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
					}
				}()
			}

			hookErr := make(chan error, 1)
			go func() { hookErr <- core.RunHook(ctx) }()

			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "shutting down...")
				return nil
			case err := <-hookErr:
				return err
			}
		},
	}
	cmd.Flags().String("http", "", "serve the control API on this address")
	return cmd
}
