package prefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/casaway/stories-service/internal/observability"
	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/fx"
	"golang.org/x/time/rate"
)

// warmBytes is how much of a media resource gets pulled through the CDN on a
// prefetch. Enough to cover an image or a video's moov atom.
const warmBytes = 256 * 1024

type Opts struct {
	fx.In
	LC fx.Lifecycle

	Config *config.Config
	Logger logger.Logger
}

// Impl warms upcoming story media so the next story renders without a visible
// load delay. Fetches run on a bounded worker pool, are rate limited per host
// and deduplicated for a TTL. Failures are dropped silently; the primary
// render path loads the media normally either way.
type Impl struct {
	pool   *ants.Pool
	client *http.Client
	logger logger.Logger

	perHostRPS int
	burst      int
	ttl        time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	seen     map[string]time.Time
}

func New(opts Opts) (*Impl, error) {
	pool, err := ants.NewPool(opts.Config.Prefetch.Workers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	p := &Impl{
		pool:       pool,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     opts.Logger,
		perHostRPS: opts.Config.Prefetch.PerHostRPS,
		burst:      opts.Config.Prefetch.Burst,
		ttl:        opts.Config.Prefetch.TTL,
		limiters:   make(map[string]*rate.Limiter),
		seen:       make(map[string]time.Time),
	}

	opts.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			pool.Release()
			return nil
		},
	})

	return p, nil
}

// Prefetch queues a best-effort warm-up of the given media URL. Never blocks
// the caller.
func (p *Impl) Prefetch(mediaURL string) {
	if mediaURL == "" {
		return
	}
	if !p.markPending(mediaURL) {
		observability.IncPrefetch("deduped")
		return
	}

	err := p.pool.Submit(func() {
		p.fetch(mediaURL)
	})
	if err != nil {
		// Pool saturated or released; the next render loads the media anyway.
		observability.IncPrefetch("dropped")
	}
}

// markPending records the URL and reports whether it was due for a fetch.
func (p *Impl) markPending(mediaURL string) bool {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if at, ok := p.seen[mediaURL]; ok && now.Sub(at) < p.ttl {
		return false
	}
	p.seen[mediaURL] = now

	// Opportunistic sweep so the set does not grow without bound.
	if len(p.seen) > 4096 {
		for u, at := range p.seen {
			if now.Sub(at) >= p.ttl {
				delete(p.seen, u)
			}
		}
	}
	return true
}

func (p *Impl) limiterFor(host string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.perHostRPS), p.burst)
		p.limiters[host] = limiter
	}
	return limiter
}

func (p *Impl) fetch(mediaURL string) {
	parsed, err := url.Parse(mediaURL)
	if err != nil {
		observability.IncPrefetch("bad_url")
		return
	}

	if !p.limiterFor(parsed.Host).Allow() {
		observability.IncPrefetch("throttled")
		return
	}

	req, err := http.NewRequest(http.MethodGet, mediaURL, nil)
	if err != nil {
		observability.IncPrefetch("bad_url")
		return
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", warmBytes-1))

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Prefetch failed", "url", mediaURL, "error", err)
		observability.IncPrefetch("error")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, warmBytes))

	observability.IncPrefetch("ok")
}
