package feedimpl

import (
	"sort"
	"time"

	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/feed"
	"github.com/casaway/stories-service/pkg/logger"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In

	Logger logger.Logger
}

type AssemblerImpl struct {
	Logger logger.Logger
}

func New(opts Opts) *AssemblerImpl {
	return &AssemblerImpl{
		Logger: opts.Logger,
	}
}

var _ feed.Assembler = (*AssemblerImpl)(nil)

// Assemble filters expired stories, puts the current user's group first and
// partitions everyone else's stories by author in first-encounter order. Each
// group is sorted newest-first. Authors with no active story contribute no
// group.
//
// The first-encounter ordering of other users' groups mirrors the order the
// platform API returns stories in; it is a placeholder policy, not a ranking.
func (a *AssemblerImpl) Assemble(currentUserID string, own []domain.Story, others []domain.Story, now time.Time) []domain.StoryGroup {
	var groups []domain.StoryGroup

	ownActive := activeOnly(own, now)
	if len(ownActive) > 0 {
		first := ownActive[0]
		groups = append(groups, domain.StoryGroup{
			UserID:     currentUserID,
			Username:   first.Username,
			ProfilePic: first.ProfilePic,
			Stories:    sortNewestFirst(ownActive),
		})
	}

	byAuthor := make(map[string][]domain.Story)
	var order []string
	for _, st := range activeOnly(others, now) {
		if st.UserID == "" || st.UserID == currentUserID {
			continue
		}
		if _, seen := byAuthor[st.UserID]; !seen {
			order = append(order, st.UserID)
		}
		byAuthor[st.UserID] = append(byAuthor[st.UserID], st)
	}

	for _, userID := range order {
		stories := byAuthor[userID]
		first := stories[0]
		groups = append(groups, domain.StoryGroup{
			UserID:     userID,
			Username:   first.Username,
			ProfilePic: first.ProfilePic,
			Stories:    sortNewestFirst(stories),
		})
	}

	return groups
}

func activeOnly(stories []domain.Story, now time.Time) []domain.Story {
	var active []domain.Story
	for _, st := range stories {
		if st.Active(now) {
			active = append(active, st)
		}
	}
	return active
}

func sortNewestFirst(stories []domain.Story) []domain.Story {
	sorted := make([]domain.Story, len(stories))
	copy(sorted, stories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}
