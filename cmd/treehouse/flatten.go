package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"treehouse/internal/app"
)

var flattenBlock string

var flattenCmd = &cobra.Command{
	Use:   "flatten",
	Short: "Lay a block layer just below the build area",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("block") {
			cfg.Flatten.Block = flattenBlock
		}
		return withApp(func(a *app.App) error {
			res, err := a.Flatten(cmd.Context())
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
			fmt.Fprintf(out, "  layer:   y=%d over %d columns (area top %d)\n",
				res.Flatten.MinY, res.Flatten.Columns, res.Flatten.MaxY)
			return err
		})
	},
}

func init() {
	flattenCmd.Flags().StringVar(&flattenBlock, "block", "grass_block", "Block to lay")
}
