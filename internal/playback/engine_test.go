package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/casaway/stories-service/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDuration = 5 * time.Second
	testTick     = 50 * time.Millisecond
	viewerID     = "viewer-1"
)

type sinkRecorder struct {
	mu    sync.Mutex
	calls []string
	fired chan string
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{fired: make(chan string, 16)}
}

func (s *sinkRecorder) MarkViewed(_ context.Context, storyID string) error {
	s.mu.Lock()
	s.calls = append(s.calls, storyID)
	s.mu.Unlock()
	s.fired <- storyID
	return nil
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type prefetchRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (p *prefetchRecorder) Prefetch(url string) {
	p.mu.Lock()
	p.urls = append(p.urls, url)
	p.mu.Unlock()
}

func (p *prefetchRecorder) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

func story(id string, viewers ...string) domain.Story {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Story{
		ID:        id,
		MediaURL:  "https://cdn.casaway.app/media/" + id + ".jpg",
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
		Viewers:   viewers,
	}
}

func twoGroups() []domain.StoryGroup {
	return []domain.StoryGroup{
		{UserID: "u1", Username: "ana", Stories: []domain.Story{story("s1"), story("s2")}},
		{UserID: "u2", Username: "ben", Stories: []domain.Story{story("s3")}},
	}
}

type harness struct {
	engine   *Engine
	clock    *clockwork.FakeClock
	frames   chan Frame
	sink     *sinkRecorder
	prefetch *prefetchRecorder
	closed   chan struct{}
}

func startEngine(t *testing.T, groups []domain.StoryGroup, gi, si int) *harness {
	t.Helper()

	h := &harness{
		clock:    clockwork.NewFakeClock(),
		frames:   make(chan Frame),
		sink:     newSinkRecorder(),
		prefetch: &prefetchRecorder{},
		closed:   make(chan struct{}),
	}

	h.engine = New(Options{
		Groups:        groups,
		InitialGroup:  gi,
		InitialStory:  si,
		CurrentUserID: viewerID,
		Sink:          h.sink,
		Prefetcher:    h.prefetch,
		OnFrame:       func(f Frame) { h.frames <- f },
		OnClose:       func() { close(h.closed) },
		Clock:         h.clock,
		StoryDuration: testDuration,
		TickInterval:  testTick,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h.engine.Start(ctx)
	return h
}

func (h *harness) nextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-h.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

// tick advances the fake clock by one poll interval and returns the frame the
// engine published for it.
func (h *harness) tick(t *testing.T) Frame {
	t.Helper()
	h.clock.Advance(testTick)
	return h.nextFrame(t)
}

func (h *harness) requireViewed(t *testing.T, storyID string) {
	t.Helper()
	select {
	case got := <-h.sink.fired:
		require.Equal(t, storyID, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for view event %s", storyID)
	}
}

func (h *harness) requireClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close signal")
	}
}

func TestTimerAdvancesExactlyOnce(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)

	f := h.nextFrame(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
	require.Zero(t, f.Ratio)

	for i := 1; i < 100; i++ {
		f = h.tick(t)
		require.Equal(t, 0, f.StoryIndex, "no advance before the countdown expires")
		assert.InDelta(t, float64(i)*0.01, f.Ratio, 1e-9)
	}

	// The 100th poll observes the countdown complete and advances.
	f = h.tick(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 1, f.StoryIndex)
	require.Zero(t, f.Ratio)
	h.requireViewed(t, "s1")

	// The next poll belongs to the new story; no second advance.
	f = h.tick(t)
	require.Equal(t, 1, f.StoryIndex)
	assert.InDelta(t, 0.01, f.Ratio, 1e-9)
	require.Equal(t, 1, h.sink.count())
}

func TestFullAutoPlaythrough(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	playStory := func() Frame {
		var f Frame
		for i := 0; i < 100; i++ {
			f = h.tick(t)
		}
		return f
	}

	f := playStory()
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 1, f.StoryIndex)
	h.requireViewed(t, "s1")

	f = playStory()
	require.Equal(t, 1, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
	h.requireViewed(t, "s2")

	f = playStory()
	require.True(t, f.Closed)
	h.requireViewed(t, "s3")
	h.requireClosed(t)
}

func TestManualNextRestartsCountdown(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	f := h.nextFrame(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 1, f.StoryIndex)
	require.Zero(t, f.Ratio)
	h.requireViewed(t, "s1")

	f = h.tick(t)
	require.Equal(t, 1, f.StoryIndex)
	assert.InDelta(t, 0.01, f.Ratio, 1e-9, "countdown restarted from zero")
}

func TestViewGuardSkipsAlreadyViewed(t *testing.T) {
	groups := []domain.StoryGroup{
		{UserID: "u1", Stories: []domain.Story{story("s1", viewerID), story("s2")}},
	}
	h := startEngine(t, groups, 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.sink.count(), "story already in the viewers snapshot must not re-fire")
}

func TestViewGuardFiresOncePerSession(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)
	h.requireViewed(t, "s1")

	h.engine.RequestPrevious()
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, h.sink.count(), "revisiting a story must not duplicate its view event")
}

func TestSelfViewsNeverTracked(t *testing.T) {
	groups := []domain.StoryGroup{
		{UserID: viewerID, Username: "me", Stories: []domain.Story{story("own1"), story("own2")}},
	}
	h := startEngine(t, groups, 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.sink.count())
}

func TestAdvancePastEndCloses(t *testing.T) {
	h := startEngine(t, twoGroups(), 1, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	f := h.nextFrame(t)
	require.True(t, f.Closed)
	h.requireViewed(t, "s3")
	h.requireClosed(t)
}

func TestRetreatAtStartIsNoop(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	for i := 0; i < 10; i++ {
		h.tick(t)
	}

	h.engine.RequestPrevious()
	f := h.nextFrame(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
	assert.InDelta(t, 0.1, f.Ratio, 1e-9, "no-op retreat must not reset the countdown")
	require.False(t, f.Closed)

	select {
	case <-h.closed:
		t.Fatal("retreat at the very first story must not close the session")
	default:
	}
}

func TestForwardWrapAcrossGroups(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 1)
	h.nextFrame(t)

	h.engine.RequestNext()
	f := h.nextFrame(t)
	require.Equal(t, 1, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
	require.Zero(t, f.Ratio)
	h.requireViewed(t, "s2")
}

func TestBackwardWrapAcrossGroups(t *testing.T) {
	h := startEngine(t, twoGroups(), 1, 0)
	h.nextFrame(t)

	h.engine.RequestPrevious()
	f := h.nextFrame(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 1, f.StoryIndex, "retreat lands on the previous group's last story")
	require.Zero(t, f.Ratio)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.sink.count(), "retreat never fires view events")
}

func TestManualCloseFiresNoSideEffects(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	for i := 0; i < 10; i++ {
		h.tick(t)
	}

	h.engine.RequestClose()
	f := h.nextFrame(t)
	require.True(t, f.Closed)
	h.requireClosed(t)

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, h.sink.count(), "manual close must not fire a view event for the interrupted story")
}

func TestMediaEndedSharesAdvancePath(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	h.engine.NotifyMediaEnded()
	f := h.nextFrame(t)
	require.Equal(t, 1, f.StoryIndex)
	h.requireViewed(t, "s1")
}

func TestPrefetchesOneStoryAhead(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)

	h.engine.RequestNext()
	h.nextFrame(t)

	urls := h.prefetch.all()
	require.Equal(t, []string{
		"https://cdn.casaway.app/media/s2.jpg",
		"https://cdn.casaway.app/media/s3.jpg",
	}, urls, "last story has no successor and must not prefetch")
}

func TestEmptyGroupBehavesAsAbsent(t *testing.T) {
	groups := []domain.StoryGroup{
		{UserID: "u1", Stories: []domain.Story{story("s1")}},
		{UserID: "u2"},
		{UserID: "u3", Stories: []domain.Story{story("s2")}},
	}
	h := startEngine(t, groups, 0, 0)
	h.nextFrame(t)

	h.engine.RequestNext()
	f := h.nextFrame(t)
	require.Equal(t, 2, f.GroupIndex, "empty group is skipped, not rendered")
	require.Equal(t, 0, f.StoryIndex)

	h.engine.RequestPrevious()
	f = h.nextFrame(t)
	require.Equal(t, 0, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
}

func TestStartOnEmptyGroupSkipsForward(t *testing.T) {
	groups := []domain.StoryGroup{
		{UserID: "u1"},
		{UserID: "u2", Stories: []domain.Story{story("s1")}},
	}
	h := startEngine(t, groups, 0, 0)

	f := h.nextFrame(t)
	require.Equal(t, 1, f.GroupIndex)
	require.Equal(t, 0, f.StoryIndex)
	require.False(t, f.Closed)
}

func TestInvalidStartClosesImmediately(t *testing.T) {
	cases := []struct {
		name   string
		groups []domain.StoryGroup
		gi, si int
	}{
		{"group index out of range", twoGroups(), 5, 0},
		{"story index out of range", twoGroups(), 0, 9},
		{"negative indices", twoGroups(), -1, 0},
		{"no groups at all", nil, 0, 0},
		{"only empty groups", []domain.StoryGroup{{UserID: "u1"}}, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := startEngine(t, tc.groups, tc.gi, tc.si)
			f := h.nextFrame(t)
			require.True(t, f.Closed)
			h.requireClosed(t)
			require.Zero(t, h.sink.count())
		})
	}
}

func TestSnapshotTracksPublishedFrames(t *testing.T) {
	h := startEngine(t, twoGroups(), 0, 0)
	h.nextFrame(t)

	f := h.tick(t)
	snap := h.engine.Snapshot()
	require.Equal(t, f.StoryIndex, snap.StoryIndex)
	require.Equal(t, f.Ratio, snap.Ratio)
}
