package api

import (
	"context"

	"github.com/casaway/stories-service/internal/domain"
)

// Client is the thin wrapper over the Casaway platform REST API. Payloads are
// plain JSON over HTTPS with bearer-token auth; the engine treats them as
// opaque.
type Client interface {
	// GetFeedStories returns every active story visible to the session user.
	GetFeedStories(ctx context.Context) ([]domain.Story, error)
	// GetUserStories returns the given user's own active stories.
	GetUserStories(ctx context.Context, userID string) ([]domain.Story, error)
	// MarkStoryViewed records that the session user has seen the story.
	// Fire-and-forget on the caller's side: failures are logged, never retried.
	MarkStoryViewed(ctx context.Context, storyID string) error
}
