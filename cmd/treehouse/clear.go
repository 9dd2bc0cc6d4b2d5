package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"treehouse/internal/app"
)

var clearMinY int

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove trees and everything above the ground in the build area",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("min-y") {
			cfg.Clear.MinY = clearMinY
		}
		return withApp(func(a *app.App) error {
			res, err := a.Clear(cmd.Context())
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
			c := res.Clear
			fmt.Fprintf(out, "  columns: %d, cleared %d, descended %d, dirt removed %d\n",
				c.Columns, c.Cleared, c.Descended, c.DirtRemoved)
			return err
		})
	},
}

func init() {
	clearCmd.Flags().IntVar(&clearMinY, "min-y", 0, "Lowest Y the descent through tree remains may reach")
}
