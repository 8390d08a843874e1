package schedulerimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/casaway/stories-service/internal/feed"
	"github.com/casaway/stories-service/internal/playback"
	"github.com/casaway/stories-service/internal/repositories/viewrecord"
	"github.com/casaway/stories-service/internal/scheduler"
	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Loader     feed.Loader
	Prefetcher playback.Prefetcher
	ViewRecord viewrecord.Repository
	Logger     logger.Logger
	Config     *config.Config
}

type SchedulerImpl struct {
	Loader     feed.Loader
	Prefetcher playback.Prefetcher
	ViewRecord viewrecord.Repository
	Logger     logger.Logger
	Config     *config.Config
}

func New(opts Opts) *SchedulerImpl {
	return &SchedulerImpl{
		Loader:     opts.Loader,
		Prefetcher: opts.Prefetcher,
		ViewRecord: opts.ViewRecord,
		Logger:     opts.Logger,
		Config:     opts.Config,
	}
}

var _ scheduler.Client = (*SchedulerImpl)(nil)

// ScheduleFeedRefresh periodically reloads the feed snapshot and warms the
// first story of each group, so a session opened between refreshes starts
// with a hot media cache.
func (s *SchedulerImpl) ScheduleFeedRefresh(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create refresh scheduler: %w", err)
	}

	interval := time.Duration(s.Config.Scheduler.FeedRefreshMinutes) * time.Minute

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				s.Logger.Info("Context cancelled, stopping feed refresh job")
				return
			}

			taskCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()

			groups, err := s.Loader.Load(taskCtx)
			if err != nil {
				s.Logger.Error("Feed refresh failed", "error", err)
				return
			}

			for _, g := range groups {
				if len(g.Stories) > 0 {
					s.Prefetcher.Prefetch(g.Stories[0].MediaURL)
				}
			}

			s.Logger.Info("Feed refreshed", "groups", len(groups))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule feed refresh: %w", err)
	}

	sched.Start()

	go func() {
		<-ctx.Done()
		s.Logger.Info("Stopping feed refresh scheduler")
		if err := sched.Shutdown(); err != nil {
			s.Logger.Error("Failed to shut down refresh scheduler", "error", err)
		}
	}()

	return nil
}

// ScheduleViewCleanup sets up a daily job that prunes view records older than
// the retention window. Stories expire after a day; the records only need to
// outlive any stale feed snapshot.
func (s *SchedulerImpl) ScheduleViewCleanup(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create cleanup scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DailyJob(
			1,
			gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0)),
		),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				s.Logger.Info("Context cancelled, stopping view cleanup job")
				return
			}

			s.Logger.Info("Starting scheduled view record cleanup")

			cleanupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			rowsDeleted, err := s.ViewRecord.CleanupOldRecords(cleanupCtx, s.Config.Scheduler.ViewRetention)
			if err != nil {
				s.Logger.Error("Failed to clean up view records", "error", err)
				return
			}

			s.Logger.Info("View record cleanup completed", "rows_deleted", rowsDeleted)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule view cleanup: %w", err)
	}

	sched.Start()

	go func() {
		<-ctx.Done()
		s.Logger.Info("Stopping view cleanup scheduler")
		if err := sched.Shutdown(); err != nil {
			s.Logger.Error("Failed to shut down cleanup scheduler", "error", err)
		}
	}()

	return nil
}
