package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/picktune/internal/config"
	"github.com/banshee-data/picktune/internal/monitoring"
	"github.com/banshee-data/picktune/internal/picks"
)

type rootOptions struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string
	LogFormat  string
}

func newRootCommand() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:           "picktune",
		Short:         "Tune scautopick parameters against manual picks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			monitoring.Init(monitoring.Options{Level: o.LogLevel, Format: o.LogFormat, Component: "picktune"})
		},
	}
	root.PersistentFlags().StringVarP(&o.ConfigPath, "config", "c", "picktune.json", "Run configuration file.")
	root.PersistentFlags().StringVar(&o.EnvFile, "env-file", ".env", "Optional file of environment overrides.")
	root.PersistentFlags().StringVar(&o.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn or error.")
	root.PersistentFlags().StringVar(&o.LogFormat, "log-format", "console", "Log format: console or json.")

	root.AddCommand(newTuneCommand(o))
	root.AddCommand(newCurateCommand(o))
	root.AddCommand(newEvaluateCommand(o))
	root.AddCommand(newCompareCommand(o))
	root.AddCommand(newMigrateCommand(o))
	root.AddCommand(newVersionCommand())

	// Errors are logged rather than printed by cobra.
	for _, cmd := range root.Commands() {
		wrapRunE(cmd)
	}
	return root
}

func wrapRunE(cmd *cobra.Command) {
	for _, sub := range cmd.Commands() {
		wrapRunE(sub)
	}
	if cmd.RunE == nil {
		return
	}
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil {
			monitoring.Get().Error().Err(err).Str("command", cmd.CommandPath()).Msg("command failed")
		}
		return err
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// load reads the run configuration and narrows its stations to args when
// any are given.
func (o *rootOptions) load(args []string) (*config.RunConfig, []picks.StationRef, error) {
	cfg, err := config.Load(o.ConfigPath, o.EnvFile)
	if err != nil {
		return nil, nil, err
	}
	if len(args) > 0 {
		cfg.Stations = args
	}
	stations, err := cfg.GetStations()
	if err != nil {
		return nil, nil, fmt.Errorf("stations: %w", err)
	}
	return cfg, stations, nil
}
