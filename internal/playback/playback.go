package playback

import (
	"context"

	"github.com/casaway/stories-service/internal/domain"
)

// ViewSink receives the view event fired when the session user advances away
// from a story they had not seen. Calls are fire-and-forget: the engine logs
// failures and never retries or blocks on them.
type ViewSink interface {
	MarkViewed(ctx context.Context, storyID string) error
}

// Prefetcher warms the media of the story a forward advance would land on.
// Best-effort and non-blocking; failures are invisible to playback.
type Prefetcher interface {
	Prefetch(url string)
}

// Frame is the render-facing state published to the host UI on every tick and
// on every position change.
type Frame struct {
	GroupIndex int               `json:"groupIndex"`
	StoryIndex int               `json:"storyIndex"`
	Group      domain.StoryGroup `json:"group"`
	Story      domain.Story      `json:"story"`
	Ratio      float64           `json:"ratio"`
	Closed     bool              `json:"closed"`
}
