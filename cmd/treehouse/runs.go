package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"treehouse/internal/app"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			runs, err := a.Runs(cmd.Context(), runsLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOP\tSTATUS\tSTARTED\tPLACED\tCHANGED\tFAILED\tAREA")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					r.ID, r.Op, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Stats.Placed, r.Stats.Changed, r.Stats.Failed, r.Area)
			}
			return tw.Flush()
		})
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list")
}
