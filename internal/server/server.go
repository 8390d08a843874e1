package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/casaway/stories-service/internal/feed"
	"github.com/casaway/stories-service/internal/observability"
	"github.com/casaway/stories-service/internal/playback"
	"github.com/casaway/stories-service/internal/ratelimit"
	"github.com/casaway/stories-service/internal/session"
	"github.com/casaway/stories-service/internal/views"
	"github.com/casaway/stories-service/pkg/config"
	"github.com/casaway/stories-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type Opts struct {
	fx.In
	LC fx.Lifecycle

	Config     *config.Config
	Logger     logger.Logger
	Loader     feed.Loader
	Session    session.Store
	Sink       views.Sink
	Prefetcher playback.Prefetcher
}

// Server exposes playback sessions to host UIs over HTTP and streams
// render-facing frames over websockets.
type Server struct {
	cfg        *config.Config
	logger     logger.Logger
	loader     feed.Loader
	session    session.Store
	sink       views.Sink
	prefetcher playback.Prefetcher
	registry   *Registry
	limiter    ratelimit.Limiter
	router     *gin.Engine
}

func New(opts Opts) *Server {
	if opts.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        opts.Config,
		logger:     opts.Logger,
		loader:     opts.Loader,
		session:    opts.Session,
		sink:       opts.Sink,
		prefetcher: opts.Prefetcher,
		registry:   NewRegistry(),
		limiter:    ratelimit.NewInMemoryLimiter(20, time.Second, 40),
	}
	s.router = s.buildRouter()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Config.App.Port),
		Handler: s.router,
	}

	opts.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				s.logger.Info("Starting HTTP server", "port", opts.Config.App.Port)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.logger.Error("HTTP server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpServer.Shutdown(ctx)
		},
	})

	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPMetricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/playback")
	api.POST("/sessions", s.openSession)

	commands := api.Group("/sessions/:id", s.rateLimited())
	commands.GET("", s.getSession)
	commands.POST("/next", s.commandHandler(func(e *playback.Engine) { e.RequestNext() }))
	commands.POST("/previous", s.commandHandler(func(e *playback.Engine) { e.RequestPrevious() }))
	commands.POST("/media-ended", s.commandHandler(func(e *playback.Engine) { e.NotifyMediaEnded() }))
	commands.POST("/close", s.commandHandler(func(e *playback.Engine) { e.RequestClose() }))
	commands.GET("/stream", s.streamSession)

	return r
}

func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
