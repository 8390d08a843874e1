package viewsimpl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/events"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAPI struct {
	viewed []string
	err    error
}

func (s *stubAPI) GetFeedStories(context.Context) ([]domain.Story, error) { return nil, nil }
func (s *stubAPI) GetUserStories(context.Context, string) ([]domain.Story, error) {
	return nil, nil
}
func (s *stubAPI) MarkStoryViewed(_ context.Context, storyID string) error {
	s.viewed = append(s.viewed, storyID)
	return s.err
}

type stubPublisher struct {
	published []events.StoryViewedEvent
	err       error
}

func (s *stubPublisher) Publish(_ context.Context, _ string, event any) error {
	if e, ok := event.(events.StoryViewedEvent); ok {
		s.published = append(s.published, e)
	}
	return s.err
}
func (s *stubPublisher) Close() error { return nil }

type stubRepo struct {
	created []domain.ViewRecord
	err     error
}

func (s *stubRepo) GetByStoryAndViewer(context.Context, string, string) (*domain.ViewRecord, error) {
	return nil, nil
}
func (s *stubRepo) ListByViewer(context.Context, string) ([]*domain.ViewRecord, error) {
	return nil, nil
}
func (s *stubRepo) Create(_ context.Context, record domain.ViewRecord) error {
	s.created = append(s.created, record)
	return s.err
}
func (s *stubRepo) CleanupOldRecords(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

type stubStore struct{ userID string }

func (s *stubStore) Load() (*session.Session, error) { return nil, session.ErrNoSession }
func (s *stubStore) Save(*session.Session) error     { return nil }
func (s *stubStore) Clear() error                    { return nil }
func (s *stubStore) Token() string                   { return "" }
func (s *stubStore) CurrentUserID() string           { return s.userID }

func newFanout(api *stubAPI, pub *stubPublisher, repo *stubRepo) *FanoutImpl {
	return New(Opts{
		API:        api,
		Publisher:  pub,
		ViewRecord: repo,
		Session:    &stubStore{userID: "viewer-1"},
		Logger:     logger.New(logger.Opts{}),
	})
}

func TestMarkViewedFansOutToAllLegs(t *testing.T) {
	api := &stubAPI{}
	pub := &stubPublisher{}
	repo := &stubRepo{}

	err := newFanout(api, pub, repo).MarkViewed(context.Background(), "s1")
	require.NoError(t, err)

	assert.Equal(t, []string{"s1"}, api.viewed)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "s1", pub.published[0].StoryID)
	assert.Equal(t, "viewer-1", pub.published[0].ViewerID)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "s1", repo.created[0].StoryID)
	assert.Equal(t, "viewer-1", repo.created[0].ViewerID)
}

func TestMarkViewedAPIFailureDoesNotStopOtherLegs(t *testing.T) {
	api := &stubAPI{err: errors.New("platform down")}
	pub := &stubPublisher{}
	repo := &stubRepo{}

	err := newFanout(api, pub, repo).MarkViewed(context.Background(), "s1")
	assert.Error(t, err, "the platform leg's failure is reported")

	assert.Len(t, pub.published, 1)
	assert.Len(t, repo.created, 1)
}

func TestMarkViewedSecondaryFailuresAreSwallowed(t *testing.T) {
	api := &stubAPI{}
	pub := &stubPublisher{err: errors.New("broker gone")}
	repo := &stubRepo{err: errors.New("db gone")}

	err := newFanout(api, pub, repo).MarkViewed(context.Background(), "s1")
	assert.NoError(t, err, "publish and record legs are best-effort")
}
