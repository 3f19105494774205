package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/bootstrap-orchestrator/internal/config"
)

// runtime is the state every subcommand starts from.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	var dbPath string

	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Bootstrap multi-agent projects from repositories and a goal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			rt.cfg = cfg

			// Only serve logs to stdout; the other commands own it for output.
			var out io.Writer = os.Stderr
			if cmd.Name() == "serve" {
				out = os.Stdout
			}
			rt.logger = newLogger(cfg, out)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "database", "", "SQLite database path (overrides DATABASE_PATH)")

	root.AddCommand(
		newServeCmd(rt),
		newMCPCmd(rt),
		newAnalyzeCmd(rt),
		newContextPackCmd(rt),
		newMigrateCmd(rt),
	)
	return root
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Logger = logger
	return logger
}
