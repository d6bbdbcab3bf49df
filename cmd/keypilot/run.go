package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"keypilot/internal/domain"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job in the foreground",
		Long:  "Run a job once (or until interrupted, for repeating jobs) and report its outcome.\nExample:\n  keypilot run farm --timeout 5m",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			name := args[0]
			if err := core.Orchestrator.Start(name); err != nil {
				return err
			}
			if err := core.Orchestrator.Wait(ctx, name); err != nil {
				waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := core.Orchestrator.StopAndWait(waitCtx, name); err != nil {
					return fmt.Errorf("stop %s: %w", name, err)
				}
			}

			for _, rec := range core.Orchestrator.Recent() {
				if rec.Job != name {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", rec.Job, rec.Status, rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
				if rec.Status == domain.RunStatusFailed {
					return errors.New(rec.Error)
				}
				return nil
			}
			return fmt.Errorf("no run recorded for %s", name)
		},
	}
	cmd.Flags().Duration("timeout", 0, "stop the job after this long")
	return cmd
}
