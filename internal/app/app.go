package app

import (
	"context"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/config"
	"github.com/vovakirdan/colearn-server/internal/core"
	"github.com/vovakirdan/colearn-server/internal/metrics"
	"github.com/vovakirdan/colearn-server/internal/outputbus"
	"github.com/vovakirdan/colearn-server/internal/store"
	"github.com/vovakirdan/colearn-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/colearn-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	router          *core.Router
	history         store.History
	bus             *outputbus.Bus
	log             *zerolog.Logger
}

// New constructs the application with provided configuration. The session
// history and the output bus are optional and only set up when configured.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		a.history = st
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("session history initialized")
	}

	if cfg.RedisAddr != "" {
		bus, err := outputbus.New(ctx, outputbus.Options{
			Addr:   cfg.RedisAddr,
			DB:     cfg.RedisDB,
			Prefix: cfg.OutputChannelPrefix,
		}, logger)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init output bus: %w", err)
		}
		a.bus = bus
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("output bus connected")
	}

	m := metrics.New()
	a.registry = core.NewRegistry(core.RegistryOptions{
		RoomIDDigits:    cfg.RoomIDDigits,
		RoomIDAttempts:  cfg.RoomIDAttempts,
		EvictionGrace:   cfg.EvictionGrace,
		JanitorInterval: cfg.JanitorInterval,
		History:         a.history,
		Metrics:         m,
	}, logger)
	a.router = core.NewRouter(a.registry, m, logger)
	a.server = transporthttp.NewServer(a.registry, a.router, a.history, m, cfg, logger)
	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopBackground()
		wg.Wait()
		a.cleanup()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.registry.Run(bgCtx)
	}()

	if a.bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.bus.Run(bgCtx, a.router); err != nil {
				a.log.Error().Err(err).Msg("output bus stopped")
			}
		}()
	}

	// Websocket connections are hijacked and outlive Shutdown; tie their
	// request contexts to ours so they release their members.
	a.server.BaseContext = func(net.Listener) context.Context { return bgCtx }

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close output bus")
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
