package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"ranked-coordinator/internal/config"
	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/feed"
	fxmodules "ranked-coordinator/internal/fx"
	"ranked-coordinator/internal/middleware"
	"ranked-coordinator/internal/repository"
	"ranked-coordinator/internal/server"
	"ranked-coordinator/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runFeed),
		fx.Invoke(runServer),
	).Run()
}

// runFeed wires the change feed into the state machine and keeps the expiry
// timers alive across restarts.
func runFeed(
	lc fx.Lifecycle,
	watcher *feed.Watcher,
	readyCheckSvc *service.ReadyCheckService,
	resolutionSvc *service.ResolutionService,
	logger zerolog.Logger,
) {
	watcher.Subscribe(repository.CollectionPendingMatches, readyCheckSvc.HandlePendingEvent)
	watcher.Subscribe(repository.CollectionHistoryMatches, resolutionSvc.HandleHistoryEvent)

	feedCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := readyCheckSvc.RestoreTimers(ctx); err != nil {
				return fmt.Errorf("failed to restore ready-check timers: %w", err)
			}
			go watcher.Run(feedCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			readyCheckSvc.StopTimers()
			logger.Info().Msg("feed watcher stopped")
			return nil
		},
	})
}

func runServer(
	lc fx.Lifecycle,
	coordinator *server.CoordinatorServer,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := middleware.RequestID(logger)(c.Handler(coordinator.Routes()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
