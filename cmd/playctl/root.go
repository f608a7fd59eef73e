// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/xplay/internal/config"
	xplaylog "github.com/ManuGH/xplay/internal/log"
	"github.com/ManuGH/xplay/internal/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	console    bool

	loader *config.Loader
	cfg    config.Config
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "playctl",
		Short:         "Drive the xplay playback engine",
		Long:          "Run playback sessions of HLS media playlists against simulated renderers and inspect the engine state.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides config and LOG_LEVEL")
	root.PersistentFlags().BoolVar(&opts.console, "console", false, "human readable log output")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts), newVersionCmd())
	return root
}

// load resolves the configuration (ENV > file > defaults) and configures
// logging from it.
func (o *globalOptions) load(cmd *cobra.Command) error {
	o.loader = config.NewLoader(o.configPath)
	cfg, err := o.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.console {
		cfg.Log.Console = true
	}
	o.cfg = cfg

	xplaylog.Replace(xplaylog.Config{
		Level:   cfg.Log.Level,
		Output:  cmd.ErrOrStderr(),
		Service: "playctl",
		Console: cfg.Log.Console,
	})
	logger := xplaylog.WithComponent("playctl")
	if o.configPath != "" {
		logger.Info().
			Str("event", "config.loaded").
			Str(xplaylog.FieldPath, o.configPath).
			Msg("loaded configuration from file")
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.String())
		},
	}
}
