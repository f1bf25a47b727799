package main

import (
	"os/signal"
	"syscall"

	"github.com/opd-ai/patchfield/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	configPath  string
	passthrough bool
	lowpass     float64
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.ConfigureLogging(logrus.StandardLogger(), cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().BoolVar(&opts.passthrough, "passthrough", false, "attach a module routing system input to system output")
	cmd.Flags().Float64Var(&opts.lowpass, "lowpass", 0, "filter coefficient in (0, 1] for the passthrough module; 0 copies unfiltered")
	return cmd
}
