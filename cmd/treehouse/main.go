// Command treehouse builds a tree house in a Minecraft world through the GDMC
// HTTP interface, and clears, flattens or undoes work in the build area.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"treehouse/internal/app"
	"treehouse/internal/config"
	"treehouse/internal/gdmc"
	"treehouse/internal/logging"
)

var (
	// Global flags
	cfgPath string
	host    string
	dataDir string
	verbose bool
	jsonOut bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "treehouse",
	Short: "Build a tree house through the GDMC HTTP interface",
	Long: `treehouse talks to a Minecraft world running the GDMC HTTP interface mod.

Set a build area in-game first, for example:
  /setbuildarea ~0 0 ~0 ~64 200 ~64

Every editing command is recorded as a run with an audit log, so it can be
listed with "treehouse runs" and reverted with "treehouse undo <run-id>".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("host") {
			cfg.Interface.Host = host
		}
		if cmd.Flags().Changed("data") {
			cfg.Data.Dir = dataDir
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("TREEHOUSE_CONFIG"), "YAML config file (or set TREEHOUSE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&host, "host", gdmc.DefaultHost, "GDMC HTTP interface address")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./data", "Directory for audit logs and the run index")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(buildCmd, clearCmd, flattenCmd, inspectCmd, undoCmd, runsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, explain(err))
		os.Exit(1)
	}
}

// explain turns the errors a user can fix into instructions.
func explain(err error) string {
	switch {
	case errors.Is(err, gdmc.ErrInterfaceConnection):
		return fmt.Sprintf("Error: Could not connect to the GDMC HTTP interface at %s!\n"+
			"To use treehouse, you need a backend that provides the GDMC HTTP interface.\n"+
			"For example, by running Minecraft with the GDMC HTTP mod installed.\n"+
			"(%v)", cfg.Interface.Host, err)
	case errors.Is(err, gdmc.ErrBuildAreaNotSet):
		return "Error: failed to get the build area!\n" +
			"Make sure to set the build area with the /setbuildarea command in-game.\n" +
			"For example: /setbuildarea ~0 0 ~0 ~64 200 ~64"
	case errors.Is(err, context.Canceled):
		return "Interrupted."
	}
	return "Error: " + err.Error()
}

// withApp opens the app for one command and closes it afterwards.
func withApp(fn func(*app.App) error) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close", zap.Error(cerr))
		}
	}()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, r app.RunResult) {
	fmt.Fprintf(w, "Run %s (%s) in %s\n", r.RunID, r.Op, r.Elapsed)
	fmt.Fprintf(w, "  area:    %s\n", r.Area)
	fmt.Fprintf(w, "  blocks:  %d placed, %d changed, %d unchanged, %d failed in %d batches\n",
		r.Stats.Placed, r.Stats.Changed, r.Stats.Unchanged, r.Stats.Failed, r.Stats.Batches)
	fmt.Fprintf(w, "  audit:   %s\n", r.AuditDir)
}
