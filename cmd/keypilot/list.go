package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"keypilot/internal/input/hookdev"
)

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List stored jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTEPS\tREPEAT")
			for _, job := range core.Catalog.Jobs() {
				fmt.Fprintf(w, "%s\t%d\t%t\n", job.Name, len(job.Steps), job.Repeat)
			}
			return w.Flush()
		},
	}
}

func newHotkeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hotkeys",
		Short: "List registered hotkeys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKEYS\tCOMMAND\tJOB\tACTIVE")
			for _, def := range core.Hotkeys.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
					def.Name, hookdev.FormatCombo(def.Combo()), def.Action.Command, def.Action.Target(), def.Active)
			}
			return w.Flush()
		},
	}
}
