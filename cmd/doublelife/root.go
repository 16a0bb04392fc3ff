package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/logger"
)

type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
	noColor    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "doublelife",
		Short:         "Time-boxed alternate identity sessions with snapshot restore",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Optional .env file with DOUBLELIFE_* overrides")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "Disable colored log output")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newSessionsCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// load reads the configuration and builds the process logger from it.
func (f *globalFlags) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(f.configFile, f.envFile)
	if err != nil {
		return nil, logger.New(logger.Options{Level: f.logLevel, NoColor: f.noColor}), err
	}
	level := cfg.LogLevel
	if f.logLevel != "" {
		level = f.logLevel
	}
	return cfg, logger.New(logger.Options{Level: level, NoColor: f.noColor}), nil
}
