package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"treehouse/internal/app"
)

var undoCmd = &cobra.Command{
	Use:   "undo <run-id>",
	Short: "Restore the blocks a run replaced",
	Long: `Reads the audit log of a run and puts back the block each position held
before the run first wrote it. Positions whose previous block was not recorded
are left alone. The undo is a run too, so it can itself be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			res, err := a.Undo(cmd.Context(), args[0])
			if res.RunID == "" {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if perr := printJSON(out, res); perr != nil {
					return perr
				}
				return err
			}
			printRun(out, res.RunResult)
			fmt.Fprintf(out, "  undo:    %s, %d restored, %d skipped\n", res.Target, res.Restored, res.Skipped)
			return err
		})
	},
}
