package server

import (
	"sync"

	"github.com/casaway/stories-service/internal/playback"
)

// sessionEntry pairs an engine with its frame broadcaster and cancellation.
type sessionEntry struct {
	engine *playback.Engine
	frames *broadcaster
	cancel func()
}

// Registry holds the open playback sessions keyed by session ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*sessionEntry)}
}

func (r *Registry) Add(id string, entry *sessionEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = entry
}

func (r *Registry) Get(id string) (*sessionEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[id]
	return entry, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// broadcaster fans engine frames out to websocket streams. Each subscriber
// holds a one-frame buffer; when a stream falls behind, the stale frame is
// replaced so the subscriber always sees the latest state.
type broadcaster struct {
	mu   sync.Mutex
	subs map[chan playback.Frame]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan playback.Frame]struct{})}
}

func (b *broadcaster) subscribe() chan playback.Frame {
	ch := make(chan playback.Frame, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan playback.Frame) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

func (b *broadcaster) publish(f playback.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- f:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- f:
			default:
			}
		}
	}
}
