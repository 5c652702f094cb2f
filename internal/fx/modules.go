package fx

import (
	"database/sql"

	"ranked-coordinator/internal/analytics"
	"ranked-coordinator/internal/config"
	"ranked-coordinator/internal/database"
	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/feed"
	"ranked-coordinator/internal/logger"
	"ranked-coordinator/internal/repository"
	"ranked-coordinator/internal/server"
	"ranked-coordinator/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideDirectory(profiles *repository.ProfileRepository, cfg *config.Config, log zerolog.Logger) *dispatch.Directory {
	return dispatch.NewDirectory(profiles, cfg.PrefsCacheTTL, log)
}

func ProvideWatcher(sqlDB *sql.DB, cfg *config.Config, log zerolog.Logger) *feed.Watcher {
	return feed.NewWatcher(sqlDB, cfg.FeedInterval, log)
}

func ProvideEventTracker(t *analytics.Tracker) service.EventTracker {
	return t
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewQueueRepository),
	fx.Provide(repository.NewProfileRepository),
	fx.Provide(repository.NewPendingMatchRepository),
	fx.Provide(repository.NewHistoryRepository),
	fx.Provide(repository.NewLedgerRepository),
	fx.Provide(repository.NewPromoter),
	fx.Provide(repository.NewResultWriter),
	// outbound
	fx.Provide(dispatch.NewWebhookSender),
	fx.Provide(ProvideDirectory),
	fx.Provide(analytics.NewTracker),
	fx.Provide(ProvideEventTracker),
	// feed
	fx.Provide(ProvideWatcher),
	// svc
	fx.Provide(service.NewQueueService),
	fx.Provide(service.NewReadyCheckService),
	fx.Provide(service.NewResolutionService),
	fx.Provide(service.NewPlayerService),
	// server
	fx.Provide(server.NewCoordinatorServer),
)
