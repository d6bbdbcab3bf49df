package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keypilot/internal/bootstrap"
	"keypilot/internal/config"
	"keypilot/internal/desktop"
	"keypilot/internal/telemetry"
)

// newDesktop builds the automation surface; tests swap it.
var newDesktop = func() bootstrap.Desktop { return desktop.NewRobot() }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "keypilot",
		Short:        "keypilot runs scripted desktop jobs from global hotkeys",
		Long:         "keypilot binds global hotkeys to jobs: ordered pipelines of screen, mouse, keyboard and process steps.",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "settings file (default ~/.keypilot/settings.json)")
	root.PersistentFlags().String("data-dir", "", "override the data directory")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newJobsCmd(),
		newHotkeysCmd(),
		newDoctorCmd(),
	)
	return root
}

// openCore loads settings honouring the persistent flags and builds the core.
// The returned close func shuts the core and telemetry down.
func openCore(cmd *cobra.Command) (*bootstrap.Core, func(), error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve settings path: %w", err)
		}
		path = p
	}

	ctx := cmd.Context()
	settings, tel, err := bootstrap.LoadSettings(ctx, config.NewJSONStore(path))
	if err != nil {
		return nil, nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		settings.DataDir = dir
	}

	core, err := bootstrap.NewCore(ctx, settings, newDesktop())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, err
	}
	return core, func() { closeCore(core, tel) }, nil
}

func closeCore(core *bootstrap.Core, tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = core.Close(ctx)
	_ = tel.Shutdown(ctx)
}
