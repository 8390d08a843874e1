package viewsimpl

import (
	"context"
	"time"

	"github.com/casaway/stories-service/internal/api"
	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/events"
	"github.com/casaway/stories-service/internal/observability"
	"github.com/casaway/stories-service/internal/repositories/viewrecord"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/internal/views"
	"github.com/casaway/stories-service/pkg/logger"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	API        api.Client
	Publisher  events.Publisher
	ViewRecord viewrecord.Repository
	Session    session.Store
	Logger     logger.Logger
}

// FanoutImpl delivers a view event to the platform API, publishes it for
// notification fan-out and keeps a local record. Each leg is independently
// best-effort: one failing does not stop the others, and nothing is retried.
type FanoutImpl struct {
	API        api.Client
	Publisher  events.Publisher
	ViewRecord viewrecord.Repository
	Session    session.Store
	Logger     logger.Logger
}

func New(opts Opts) *FanoutImpl {
	return &FanoutImpl{
		API:        opts.API,
		Publisher:  opts.Publisher,
		ViewRecord: opts.ViewRecord,
		Session:    opts.Session,
		Logger:     opts.Logger,
	}
}

var _ views.Sink = (*FanoutImpl)(nil)

func (f *FanoutImpl) MarkViewed(ctx context.Context, storyID string) error {
	viewerID := f.Session.CurrentUserID()
	now := time.Now()

	var firstErr error
	if err := f.API.MarkStoryViewed(ctx, storyID); err != nil {
		f.Logger.Warn("Failed to post view event to platform", "story_id", storyID, "error", err)
		observability.IncViewEvent("api_error")
		firstErr = err
	} else {
		observability.IncViewEvent("ok")
	}

	event := events.StoryViewedEvent{StoryID: storyID, ViewerID: viewerID, ViewedAt: now}
	if err := f.Publisher.Publish(ctx, events.RoutingKeyStoryViewed, event); err != nil {
		f.Logger.Warn("Failed to publish view event", "story_id", storyID, "error", err)
		observability.IncViewEvent("publish_error")
	}

	record := domain.ViewRecord{StoryID: storyID, ViewerID: viewerID, ViewedAt: now}
	if err := f.ViewRecord.Create(ctx, record); err != nil {
		f.Logger.Warn("Failed to save view record", "story_id", storyID, "error", err)
		observability.IncViewEvent("record_error")
	}

	return firstErr
}
