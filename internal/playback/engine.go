package playback

import (
	"context"
	"sync"
	"time"

	"github.com/casaway/stories-service/internal/domain"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultStoryDuration = 5 * time.Second
	DefaultTickInterval  = 50 * time.Millisecond
)

type cmdKind int

const (
	cmdNext cmdKind = iota
	cmdPrevious
	cmdClose
)

// Options configures a playback engine for one session. The groups slice is a
// read-only snapshot; the engine owns position state only.
type Options struct {
	Groups        []domain.StoryGroup
	InitialGroup  int
	InitialStory  int
	CurrentUserID string

	Sink       ViewSink
	Prefetcher Prefetcher
	OnClose    func()
	// OnFrame, when set, is called synchronously from the engine loop for
	// every published frame. Slow consumers stall playback; transports must
	// hand frames off promptly.
	OnFrame func(Frame)

	Clock         clockwork.Clock
	StoryDuration time.Duration
	TickInterval  time.Duration
	Logger        logger.Logger
}

// Engine drives auto-advancing story playback for a single session: a fixed
// countdown per story, manual navigation crossing group boundaries, one
// lookahead prefetch and a view event on every first advance away from an
// unseen story. All state lives on one goroutine; navigation requests are
// serialized through a command channel, so a stale tick can never race a
// manual move into a double advance.
type Engine struct {
	groups        []domain.StoryGroup
	currentUserID string
	sink          ViewSink
	prefetcher    Prefetcher
	onClose       func()
	onFrame       func(Frame)
	clock         clockwork.Clock
	duration      time.Duration
	tick          time.Duration
	logger        logger.Logger

	// loop-owned state
	gi, si    int
	startedAt time.Time
	ticker    clockwork.Ticker
	viewed    map[string]bool
	ctx       context.Context

	cmds      chan cmdKind
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.RWMutex
	last Frame
}

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.StoryDuration <= 0 {
		opts.StoryDuration = DefaultStoryDuration
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	e := &Engine{
		groups:        opts.Groups,
		currentUserID: opts.CurrentUserID,
		sink:          opts.Sink,
		prefetcher:    opts.Prefetcher,
		onClose:       opts.OnClose,
		onFrame:       opts.OnFrame,
		clock:         opts.Clock,
		duration:      opts.StoryDuration,
		tick:          opts.TickInterval,
		logger:        opts.Logger,
		gi:            opts.InitialGroup,
		si:            opts.InitialStory,
		viewed:        make(map[string]bool),
		cmds:          make(chan cmdKind),
		done:          make(chan struct{}),
	}

	// Seed the viewed-set from the snapshot so the guard never re-fires for a
	// story the feed already knows is seen.
	for _, g := range e.groups {
		for _, st := range g.Stories {
			if st.ViewedBy(e.currentUserID) {
				e.viewed[st.ID] = true
			}
		}
	}

	return e
}

// Start runs the engine loop until the session closes or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.run(ctx)
}

// RequestNext advances one story, crossing into the next group or closing the
// session when nothing remains.
func (e *Engine) RequestNext() { e.send(cmdNext) }

// RequestPrevious retreats one story; a retreat at the very first story of the
// very first group is a no-op.
func (e *Engine) RequestPrevious() { e.send(cmdPrevious) }

// RequestClose tears the session down without a final advance or view event.
func (e *Engine) RequestClose() { e.send(cmdClose) }

// NotifyMediaEnded reports a video's natural end. It races the countdown into
// the same advance path; whichever fires first wins.
func (e *Engine) NotifyMediaEnded() { e.send(cmdNext) }

// Snapshot returns the most recently published frame.
func (e *Engine) Snapshot() Frame {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// Done is closed once the session has reached its terminal state.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) send(c cmdKind) {
	select {
	case e.cmds <- c:
	case <-e.done:
	}
}

func (e *Engine) run(ctx context.Context) {
	e.ctx = ctx
	defer e.finish()

	if !e.normalizeStart() {
		return
	}

	e.ticker = e.clock.NewTicker(e.tick)
	defer e.ticker.Stop()

	e.enterStory()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ticker.Chan():
			ratio := e.ratio()
			if ratio < 1 {
				e.publish(e.frame(ratio))
				continue
			}
			if !e.advance() {
				return
			}
			e.enterStory()
		case cmd := <-e.cmds:
			switch cmd {
			case cmdNext:
				if !e.advance() {
					return
				}
				e.enterStory()
			case cmdPrevious:
				if e.retreat() {
					e.enterStory()
				} else {
					e.publish(e.frame(e.ratio()))
				}
			case cmdClose:
				return
			}
		}
	}
}

// normalizeStart validates the initial position. Groups that slipped through
// the assembler empty are treated as absent; an out-of-range index closes the
// session immediately rather than rendering an undefined story.
func (e *Engine) normalizeStart() bool {
	if e.gi < 0 || e.gi >= len(e.groups) || e.si < 0 {
		return false
	}
	if len(e.groups[e.gi].Stories) == 0 {
		if e.si != 0 {
			return false
		}
		ngi, ok := e.nextNonEmptyGroup(e.gi + 1)
		if !ok {
			return false
		}
		e.gi = ngi
		return true
	}
	return e.si < len(e.groups[e.gi].Stories)
}

// enterStory begins the fixed countdown for the current story, restarting the
// sampling ticker so no tick from the previous story survives, prefetches the
// next story's media and publishes a zero-ratio frame.
func (e *Engine) enterStory() {
	e.startedAt = e.clock.Now()
	e.ticker.Reset(e.tick)

	if next, ok := e.peekNext(); ok && e.prefetcher != nil {
		e.prefetcher.Prefetch(next.MediaURL)
	}

	e.publish(e.frame(0))
}

func (e *Engine) ratio() float64 {
	elapsed := e.clock.Since(e.startedAt)
	r := float64(elapsed) / float64(e.duration)
	if r > 1 {
		return 1
	}
	return r
}

// advance fires the view event for the story being left, then moves forward.
// Returns false when nothing remains and the session must close.
func (e *Engine) advance() bool {
	e.fireViewEvent()

	gi, si, ok := e.forwardPosition()
	if !ok {
		return false
	}
	e.gi, e.si = gi, si
	return true
}

func (e *Engine) retreat() bool {
	if e.si > 0 {
		e.si--
		return true
	}
	for gi := e.gi - 1; gi >= 0; gi-- {
		if n := len(e.groups[gi].Stories); n > 0 {
			e.gi = gi
			e.si = n - 1
			return true
		}
	}
	return false
}

// forwardPosition resolves where an advance would land without mutating state.
func (e *Engine) forwardPosition() (int, int, bool) {
	if e.si+1 < len(e.groups[e.gi].Stories) {
		return e.gi, e.si + 1, true
	}
	if gi, ok := e.nextNonEmptyGroup(e.gi + 1); ok {
		return gi, 0, true
	}
	return 0, 0, false
}

func (e *Engine) nextNonEmptyGroup(from int) (int, bool) {
	for gi := from; gi < len(e.groups); gi++ {
		if len(e.groups[gi].Stories) > 0 {
			return gi, true
		}
	}
	return 0, false
}

func (e *Engine) peekNext() (domain.Story, bool) {
	gi, si, ok := e.forwardPosition()
	if !ok {
		return domain.Story{}, false
	}
	return e.groups[gi].Stories[si], true
}

// fireViewEvent dispatches the view event for the current story at most once
// per session. Self-views are never tracked. The local viewed-set is updated
// immediately so a slow or failed call cannot cause a duplicate fire.
func (e *Engine) fireViewEvent() {
	group := e.groups[e.gi]
	story := group.Stories[e.si]

	if group.UserID == e.currentUserID {
		return
	}
	if e.viewed[story.ID] {
		return
	}
	e.viewed[story.ID] = true

	if e.sink == nil {
		return
	}
	go func(storyID string) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(e.ctx), 10*time.Second)
		defer cancel()
		if err := e.sink.MarkViewed(ctx, storyID); err != nil && e.logger != nil {
			e.logger.Warn("View event failed", "story_id", storyID, "error", err)
		}
	}(story.ID)
}

func (e *Engine) frame(ratio float64) Frame {
	group := e.groups[e.gi]
	return Frame{
		GroupIndex: e.gi,
		StoryIndex: e.si,
		Group:      group,
		Story:      group.Stories[e.si],
		Ratio:      ratio,
	}
}

func (e *Engine) publish(f Frame) {
	e.mu.Lock()
	e.last = f
	e.mu.Unlock()
	if e.onFrame != nil {
		e.onFrame(f)
	}
}

// finish performs the one-way transition to the terminal state.
func (e *Engine) finish() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.last.Closed = true
		closed := e.last
		e.mu.Unlock()

		if e.onFrame != nil {
			e.onFrame(closed)
		}
		if e.onClose != nil {
			e.onClose()
		}
		close(e.done)
	})
}
