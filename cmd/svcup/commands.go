package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkwon/svcup"
)

// buildSupervisor loads the config and assembles a supervisor with the
// configured env, store and history sinks. The caller owns the cleanup
// function.
func buildSupervisor(flags *globalFlags) (*svcup.Supervisor, []svcup.Entry, *svcup.Config, func(), error) {
	fc, err := svcup.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config %s: %w", flags.ConfigPath, err)
	}
	if err := fc.Validate(); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("config %s: %w", flags.ConfigPath, err)
	}
	entries, err := svcup.LoadEntries(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	global, err := svcup.LoadGlobalEnv(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	st, err := svcup.NewStore(fc)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	sinks, err := svcup.NewSinks(fc)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, nil, nil, nil, fmt.Errorf("open history sinks: %w", err)
	}

	sup := svcup.NewWithOptions(svcup.Options{
		Logger: svcup.NewLogger(flags.LogLevel, !flags.NoColor),
		Env:    svcup.NewEnv(global),
		Store:  st,
		Sinks:  sinks,
	})
	cleanup := func() {
		if st != nil {
			_ = st.Close()
		}
	}
	return sup, entries, fc, cleanup, nil
}

// selectEntries filters the configured services down to the named args,
// preserving config order. No args selects everything.
func selectEntries(entries []svcup.Entry, args []string) ([]svcup.Entry, error) {
	if len(args) == 0 {
		return entries, nil
	}
	want := make(map[string]bool, len(args))
	for _, a := range args {
		want[a] = true
	}
	out := make([]svcup.Entry, 0, len(args))
	for _, e := range entries {
		if want[e.Name] {
			out = append(out, e)
			delete(want, e.Name)
		}
	}
	for name := range want {
		return nil, fmt.Errorf("unknown service %q", name)
	}
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func summaryErr(sum svcup.Summary) error {
	if sum.OK() {
		return nil
	}
	return fmt.Errorf("%d of %d operations failed", sum.Failed, len(sum.Results))
}

func newStartCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start [service...]",
		Short: "Start configured services in order, aborting on the first failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, entries, _, cleanup, err := buildSupervisor(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			sel, err := selectEntries(entries, args)
			if err != nil {
				return err
			}
			sum := sup.StartAll(sel)
			printJSON(sum)
			return summaryErr(sum)
		},
	}
}

func newStopCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [service...]",
		Short: "Stop configured services, best effort across the whole list",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, entries, _, cleanup, err := buildSupervisor(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			sel, err := selectEntries(entries, args)
			if err != nil {
				return err
			}
			sum := sup.StopAll(sel)
			printJSON(sum)
			return summaryErr(sum)
		},
	}
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [service...]",
		Short: "Report whether each configured service is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, entries, _, cleanup, err := buildSupervisor(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			sel, err := selectEntries(entries, args)
			if err != nil {
				return err
			}
			printJSON(sup.StatusAll(sel))
			return nil
		},
	}
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Expose the supervisor over HTTP (status, start, stop, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sup, entries, fc, cleanup, err := buildSupervisor(flags)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := svcup.RegisterMetricsDefault(); err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			listen := "127.0.0.1:8099"
			basePath := ""
			if fc.Server != nil {
				if fc.Server.Listen != "" {
					listen = fc.Server.Listen
				}
				basePath = fc.Server.BasePath
			}
			srv := svcup.NewHTTPServer(listen, basePath, sup, entries)
			fmt.Fprintf(os.Stderr, "svcup API listening on %s\n", listen)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return srv.Close()
		},
	}
}
