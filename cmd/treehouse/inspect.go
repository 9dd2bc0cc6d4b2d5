package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"treehouse/internal/app"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the build area, the blocks at its center and its heightmaps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			rep, err := a.Inspect(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, rep)
			}
			fmt.Fprintf(out, "Interface %s (version %s)\n", rep.Host, rep.Version)
			fmt.Fprintf(out, "Build area: %s\n", rep.Area)
			fmt.Fprintf(out, "Block at %s: %s\n", rep.Center, rep.Ground)
			fmt.Fprintf(out, "Surface at y=%d: %s\n", rep.SurfaceY, rep.Surface)
			fmt.Fprintf(out, "Heightmap shape: (%d, %d)\n", rep.HeightmapShape[0], rep.HeightmapShape[1])
			names := make([]string, 0, len(rep.Heightmaps))
			for name := range rep.Heightmaps {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				r := rep.Heightmaps[name]
				fmt.Fprintf(out, "  %-26s %d..%d\n", name, r.Min, r.Max)
			}
			return nil
		})
	},
}
