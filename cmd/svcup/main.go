package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags holds persistent flags shared by every subcommand.
type globalFlags struct {
	ConfigPath string
	LogLevel   string
	NoColor    bool
}

func buildRoot() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "svcup",
		Short: "Start, stop and inspect local services tracked by PID files",
		Long: `svcup supervises a fixed set of local services declared in a TOML
config file. Starting verifies the service actually came up; stopping
escalates from SIGTERM to SIGKILL after a bounded graceful window.

Examples:
  svcup start                  # start every configured service, in order
  svcup start api              # start one service
  svcup stop                   # stop every service, best effort
  svcup status
  svcup serve                  # expose the HTTP API and metrics`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "svcup.toml", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().BoolVar(&flags.NoColor, "no-color", false, "disable ANSI colors in log output")

	root.AddCommand(
		newStartCommand(flags),
		newStopCommand(flags),
		newStatusCommand(flags),
		newServeCommand(flags),
	)
	return root
}
