package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/colearn-server/internal/app"
	"github.com/vovakirdan/colearn-server/internal/config"
	"github.com/vovakirdan/colearn-server/internal/log"
)

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions holds the values bound to the root command's flags.
type rootOptions struct {
	configPath string
	overrides  config.Config
}

// apply copies the flag overrides onto cfg. Flags given explicitly win even
// when zero, so --eviction-grace 0 selects immediate eviction and --db ""
// turns session history off.
func (o *rootOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	cfg.UpdateFrom(o.overrides)

	flags := cmd.Flags()
	if flags.Changed("eviction-grace") {
		cfg.EvictionGrace = o.overrides.EvictionGrace
	}
	if flags.Changed("db") {
		cfg.DatabasePath = o.overrides.DatabasePath
	}
	if flags.Changed("redis") {
		cfg.RedisAddr = o.overrides.RedisAddr
	}
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "colearn-server",
		Short:         "Collaborative code editing rooms over websockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is fine; the environment may be set directly.
			_ = godotenv.Load()

			bootLogger := log.New("info", "console")
			cfg, resolved, err := config.Load(bootLogger, opts.configPath)
			if err != nil {
				bootLogger.Error().Err(err).Msg("failed to load config")
				return err
			}
			opts.apply(cmd, &cfg)

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", resolved).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize application")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting colearn server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return fmt.Errorf("run: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to config.yaml")
	flags.StringVar(&opts.overrides.Addr, "addr", "", "HTTP listen address")
	flags.StringVar(&opts.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.overrides.DatabasePath, "db", "", "sqlite session history path")
	flags.StringVar(&opts.overrides.RedisAddr, "redis", "", "redis address for the run-output bus")
	flags.DurationVar(&opts.overrides.EvictionGrace, "eviction-grace", 0, "how long an empty room survives")

	return cmd, opts
}
