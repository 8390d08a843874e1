package feed

import (
	"context"
	"time"

	"github.com/casaway/stories-service/internal/domain"
)

// Assembler turns raw story lists into the grouped, ordered collection a
// playback session consumes.
type Assembler interface {
	Assemble(currentUserID string, own []domain.Story, others []domain.Story, now time.Time) []domain.StoryGroup
}

// Loader fetches the raw story lists from the platform API and assembles them.
type Loader interface {
	Load(ctx context.Context) ([]domain.StoryGroup, error)
}
