package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/internal/playback"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

type stubLoader struct {
	groups []domain.StoryGroup
	err    error
}

func (s *stubLoader) Load(context.Context) ([]domain.StoryGroup, error) {
	return s.groups, s.err
}

type stubStore struct{ userID string }

func (s *stubStore) Load() (*session.Session, error) { return nil, session.ErrNoSession }
func (s *stubStore) Save(*session.Session) error     { return nil }
func (s *stubStore) Clear() error                    { return nil }
func (s *stubStore) Token() string                   { return "" }
func (s *stubStore) CurrentUserID() string           { return s.userID }

type stubSink struct{}

func (stubSink) MarkViewed(context.Context, string) error { return nil }

type stubPrefetcher struct{}

func (stubPrefetcher) Prefetch(string) {}

func testGroups() []domain.StoryGroup {
	now := time.Now()
	return []domain.StoryGroup{
		{
			UserID:   "host-1",
			Username: "anna",
			Stories: []domain.Story{
				{ID: "s1", UserID: "host-1", MediaURL: "https://cdn.casaway.test/s1.jpg", ExpiresAt: now.Add(time.Hour)},
				{ID: "s2", UserID: "host-1", MediaURL: "https://cdn.casaway.test/s2.jpg", ExpiresAt: now.Add(time.Hour)},
			},
		},
	}
}

func newTestServer(t *testing.T, loader *stubLoader) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Playback.StoryDuration = 5 * time.Second
	cfg.Playback.TickInterval = 50 * time.Millisecond

	return New(Opts{
		LC:         fxtest.NewLifecycle(t),
		Config:     cfg,
		Logger:     logger.New(logger.Opts{}),
		Loader:     loader,
		Session:    &stubStore{userID: "viewer-1"},
		Sink:       stubSink{},
		Prefetcher: stubPrefetcher{},
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestOpenSessionAndNavigate(t *testing.T) {
	s := newTestServer(t, &stubLoader{groups: testGroups()})
	h := s.Router()

	w := do(t, h, http.MethodPost, "/api/playback/sessions", openSessionRequest{})
	require.Equal(t, http.StatusCreated, w.Code)

	var opened openSessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opened))
	require.NotEmpty(t, opened.SessionID)
	assert.Equal(t, 1, opened.GroupCount)

	base := "/api/playback/sessions/" + opened.SessionID

	// The engine publishes its first frame asynchronously after Start.
	require.Eventually(t, func() bool {
		w := do(t, h, http.MethodGet, base, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var f playback.Frame
		if err := json.Unmarshal(w.Body.Bytes(), &f); err != nil {
			return false
		}
		return f.GroupIndex == 0 && f.Story.ID == "s1"
	}, 2*time.Second, 25*time.Millisecond)

	w = do(t, h, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		w := do(t, h, http.MethodGet, base, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var f playback.Frame
		if err := json.Unmarshal(w.Body.Bytes(), &f); err != nil {
			return false
		}
		return f.Story.ID == "s2"
	}, 2*time.Second, 25*time.Millisecond)

	w = do(t, h, http.MethodPost, base+"/close", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	// The engine tears the session down asynchronously.
	require.Eventually(t, func() bool {
		return do(t, h, http.MethodGet, base, nil).Code == http.StatusNotFound
	}, 2*time.Second, 25*time.Millisecond)
}

func TestOpenSessionRejectsBadBody(t *testing.T) {
	s := newTestServer(t, &stubLoader{groups: testGroups()})

	req := httptest.NewRequest(http.MethodPost, "/api/playback/sessions", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOpenSessionFeedUnavailable(t *testing.T) {
	s := newTestServer(t, &stubLoader{err: errors.New("platform down")})

	w := do(t, s.Router(), http.MethodPost, "/api/playback/sessions", openSessionRequest{})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestOpenSessionEmptyFeed(t *testing.T) {
	s := newTestServer(t, &stubLoader{})

	w := do(t, s.Router(), http.MethodPost, "/api/playback/sessions", openSessionRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommandsOnUnknownSession(t *testing.T) {
	s := newTestServer(t, &stubLoader{groups: testGroups()})
	h := s.Router()

	for _, path := range []string{"/next", "/previous", "/media-ended", "/close"} {
		w := do(t, h, http.MethodPost, "/api/playback/sessions/nope"+path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := do(t, h, http.MethodGet, "/api/playback/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &stubLoader{groups: testGroups()})

	w := do(t, s.Router(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
