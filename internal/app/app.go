package app

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/fx"

	"github.com/casaway/stories-service/internal/api"
	"github.com/casaway/stories-service/internal/api/apiimpl"
	"github.com/casaway/stories-service/internal/events"
	"github.com/casaway/stories-service/internal/feed"
	"github.com/casaway/stories-service/internal/feed/feedimpl"
	"github.com/casaway/stories-service/internal/playback"
	"github.com/casaway/stories-service/internal/prefetch"
	"github.com/casaway/stories-service/internal/repositories/viewrecord"
	"github.com/casaway/stories-service/internal/scheduler"
	"github.com/casaway/stories-service/internal/scheduler/schedulerimpl"
	"github.com/casaway/stories-service/internal/server"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/internal/views"
	"github.com/casaway/stories-service/internal/views/viewsimpl"
	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/casaway/stories-service/pkg/pgx"
)

var Module = fx.Options(
	fx.Provide(
		config.New,
		logger.FxOption,
		pgx.New,
		events.New,
	),
	fx.Provide(
		fx.Annotate(
			session.NewFileStore,
			fx.As(new(session.Store)),
		),
		fx.Annotate(
			apiimpl.New,
			fx.As(new(api.Client)),
		),
		fx.Annotate(
			feedimpl.New,
			fx.As(new(feed.Assembler)),
		),
		fx.Annotate(
			feedimpl.NewLoader,
			fx.As(new(feed.Loader)),
		),
		fx.Annotate(
			viewsimpl.New,
			fx.As(new(views.Sink)),
		),
		fx.Annotate(
			prefetch.New,
			fx.As(new(playback.Prefetcher)),
		),
		fx.Annotate(
			schedulerimpl.New,
			fx.As(new(scheduler.Client)),
		),
	),
	viewrecord.Module,
	fx.Invoke(migrate),
	fx.Invoke(server.New),
	fx.Invoke(run),
)

func migrate(cfg *config.Config, log logger.Logger) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	if err := goose.Up(db, filepath.Join(wd, "migrations")); err != nil {
		return err
	}

	log.Info("Database migrations applied")
	return nil
}

func run(lc fx.Lifecycle, log logger.Logger, store session.Store, schedClient scheduler.Client) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx := context.Background()

			if _, err := store.Load(); err != nil {
				if errors.Is(err, session.ErrNoSession) {
					log.Warn("No stored platform session; playback requires authentication")
				} else {
					return err
				}
			}

			if err := schedClient.ScheduleFeedRefresh(ctx); err != nil {
				return err
			}
			if err := schedClient.ScheduleViewCleanup(ctx); err != nil {
				return err
			}

			return nil
		},
	})
}
