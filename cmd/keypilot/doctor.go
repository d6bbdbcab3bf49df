package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"keypilot/internal/domain"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory and stored definitions",
		Long:  "Report orphaned hotkeys, nested job loops, missing macros, templates and executables.\nExample:\n  keypilot doctor --fix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			core, closeFn, err := openCore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			report := core.Diagnose(cmd.Context())
			if fix, _ := cmd.Flags().GetBool("fix"); fix {
				for _, item := range report.Items {
					if !item.Fixable {
						continue
					}
					if _, err := core.FixDiagnostic(cmd.Context(), item.ID); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "fix %s: %v\n", item.ID, err)
					}
				}
				report = core.Diagnose(cmd.Context())
			}

			out := cmd.OutOrStdout()
			for _, item := range report.Items {
				fmt.Fprintf(out, "[%s] %s: %s\n", item.Status, item.Name, item.Message)
				if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
					fmt.Fprintf(out, "       %s\n", item.Hint)
				}
			}
			if report.HasFailures {
				return errors.New("diagnostics found failures")
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "apply fixes for fixable items")
	return cmd
}
