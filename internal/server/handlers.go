package server

import (
	"context"
	"net/http"

	"github.com/casaway/stories-service/internal/observability"
	"github.com/casaway/stories-service/internal/playback"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type openSessionRequest struct {
	GroupIndex int `json:"groupIndex"`
	StoryIndex int `json:"storyIndex"`
}

type openSessionResponse struct {
	SessionID  string `json:"sessionId"`
	GroupCount int    `json:"groupCount"`
}

// openSession loads a fresh feed snapshot and starts a playback engine at the
// requested position. The snapshot is owned by the session until it closes.
func (s *Server) openSession(c *gin.Context) {
	var req openSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	groups, err := s.loader.Load(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to load story feed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load story feed"})
		return
	}
	if len(groups) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stories"})
		return
	}

	id := uuid.NewString()
	frames := newBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	engine := playback.New(playback.Options{
		Groups:        groups,
		InitialGroup:  req.GroupIndex,
		InitialStory:  req.StoryIndex,
		CurrentUserID: s.session.CurrentUserID(),
		Sink:          s.sink,
		Prefetcher:    s.prefetcher,
		OnFrame:       frames.publish,
		OnClose: func() {
			s.registry.Remove(id)
			cancel()
			observability.DecSessionsActive()
			s.logger.Info("Playback session closed", "session_id", id)
		},
		StoryDuration: s.cfg.Playback.StoryDuration,
		TickInterval:  s.cfg.Playback.TickInterval,
		Logger:        s.logger,
	})

	s.registry.Add(id, &sessionEntry{engine: engine, frames: frames, cancel: cancel})
	observability.IncSessionsActive()
	engine.Start(ctx)

	s.logger.Info("Playback session opened", "session_id", id, "groups", len(groups))
	c.JSON(http.StatusCreated, openSessionResponse{SessionID: id, GroupCount: len(groups)})
}

func (s *Server) getSession(c *gin.Context) {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, entry.engine.Snapshot())
}

// commandHandler runs a navigation entry point against the session's engine.
// Commands are acknowledged, not awaited; the resulting state arrives on the
// frame stream.
func (s *Server) commandHandler(command func(*playback.Engine)) gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := s.registry.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		command(entry.engine)
		c.Status(http.StatusAccepted)
	}
}
