package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Akwatiro/beach-monitor-spain/internal/config"
)

// options is shared by every subcommand once the root has loaded the config.
type options struct {
	envFile string
	cfg     *config.Config
	logger  zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "beachmonitor",
		Short:        "Beach, weather and alert monitor for Spanish coastal provinces.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = newLogger(cfg, cmd.ErrOrStderr())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "The env file to read.")

	root.AddCommand(
		newServeCmd(opts),
		newWatchCmd(opts),
		newFindBeachCmd(opts),
		newWeatherCmd(opts),
	)

	return root
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(cfg.Level()).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}
