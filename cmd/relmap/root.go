package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

const defaultConfig = "relmap.yaml"

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:          "relmap",
		Short:        "Entity mapping tool",
		Long:         "Inspect a database through the entities of a relmap domain.",
		Version:      fmt.Sprintf("%s (commit %s, %s)", Version, GitCommit, runtime.Version()),
		SilenceUsage: true,
	}
	if env := os.Getenv("RELMAP_CONFIG"); env != "" {
		configFile = env
	} else {
		configFile = defaultConfig
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "Path to the configuration file")

	// run opens the application for the duration of fn.
	run := func(fn func(context.Context, *cobra.Command, *app, []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			a, err := openApp(ctx, configFile, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()
			return fn(ctx, cmd, a, args)
		}
	}
	root.AddCommand(
		newPingCmd(run),
		newValidateCmd(run),
		newSelectCmd(run),
		newCountCmd(run),
		newFunctionCmd(run),
		newStatsCmd(run),
		newMonitorCmd(run, &configFile),
	)
	return root
}

type runner func(fn func(context.Context, *cobra.Command, *app, []string) error) func(*cobra.Command, []string) error
