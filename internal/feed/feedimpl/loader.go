package feedimpl

import (
	"context"
	"fmt"
	"time"

	"github.com/casaway/stories-service/internal/api"
	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/feed"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/pkg/logger"
	"go.uber.org/fx"
)

type LoaderOpts struct {
	fx.In

	API       api.Client
	Assembler feed.Assembler
	Session   session.Store
	Logger    logger.Logger
}

type LoaderImpl struct {
	API       api.Client
	Assembler feed.Assembler
	Session   session.Store
	Logger    logger.Logger
}

func NewLoader(opts LoaderOpts) *LoaderImpl {
	return &LoaderImpl{
		API:       opts.API,
		Assembler: opts.Assembler,
		Session:   opts.Session,
		Logger:    opts.Logger,
	}
}

var _ feed.Loader = (*LoaderImpl)(nil)

// Load fetches the session user's own stories and the rest of the feed, then
// assembles the grouped collection against a single point in time.
func (l *LoaderImpl) Load(ctx context.Context) ([]domain.StoryGroup, error) {
	userID := l.Session.CurrentUserID()
	if userID == "" {
		return nil, fmt.Errorf("cannot load feed: %w", session.ErrNoSession)
	}

	own, err := l.API.GetUserStories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load own stories: %w", err)
	}

	others, err := l.API.GetFeedStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed stories: %w", err)
	}

	groups := l.Assembler.Assemble(userID, own, others, time.Now())
	l.Logger.Info("Assembled story feed", "groups", len(groups))
	return groups, nil
}
