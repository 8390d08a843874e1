package server

import (
	"net/http"
	"time"

	"github.com/casaway/stories-service/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// streamSession upgrades to a websocket and forwards playback frames until the
// session closes or the client goes away. Frames are latest-wins: a slow
// client skips intermediate ratios, never stalls the engine.
func (s *Server) streamSession(c *gin.Context) {
	entry, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	observability.IncWSStreams()
	defer observability.DecWSStreams()

	frames := entry.frames.subscribe()
	defer entry.frames.unsubscribe(frames)

	// Reader goroutine: we expect no client messages, but reading is how the
	// websocket surfaces a closed peer.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current state immediately so the client renders without
	// waiting for the next tick.
	first := entry.engine.Snapshot()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(first); err != nil {
		return
	}

	for {
		select {
		case frame := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
			if frame.Closed {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait),
				)
				return
			}
		case <-entry.engine.Done():
			final := entry.engine.Snapshot()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(final)
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait),
			)
			return
		case <-clientGone:
			return
		}
	}
}
