package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FrancoCalan/simulink-models/internal/config"
	"github.com/FrancoCalan/simulink-models/internal/logging"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	mock       bool
}

// env is what every subcommand gets after the root command has loaded the
// configuration.
type env struct {
	opts   *globalOptions
	cfg    config.Config
	logger logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	e := &env{opts: opts}

	root := &cobra.Command{
		Use:           "calan",
		Short:         "Calibrate ROACH two-input spectrometer designs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "experiment config file (default calan.{toml,yaml,json} in /etc/calan or .)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides log.level")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format (text|json), overrides log.format")
	pf.BoolVar(&opts.mock, "mock", false, "run against a simulated board and generator")

	root.AddCommand(
		newCalibrateCmd(e),
		newLoadConstsCmd(e),
		newSyncCmd(e),
		newSRRCmd(e),
		newDiscoverCmd(e),
	)
	return root
}

func (e *env) load(cmd *cobra.Command) error {
	cfg, err := config.Load(e.opts.configPath)
	if err != nil {
		return err
	}
	if e.opts.logLevel != "" {
		cfg.Log.Level = e.opts.logLevel
	}
	if e.opts.logFormat != "" {
		cfg.Log.Format = e.opts.logFormat
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = logging.New(level, format, cmd.ErrOrStderr())
	logging.SetDefault(e.logger)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM so that a run stops
// between sweep steps and still switches the instruments off.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
