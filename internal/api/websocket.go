package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ari-apc-lab/croupier-backend/internal/auth"
	"github.com/ari-apc-lab/croupier-backend/internal/events"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the portal frontend runs on a different origin
	},
}

// socketPollInterval paces the reconcile-and-push loop of one stream.
const socketPollInterval = 5 * time.Second

// executionSocket streams reconcile results for one execution until it
// settles or the client goes away.
func (s *Server) executionSocket(c *gin.Context) {
	id := c.Param("id")
	user := auth.Username(c)

	exec, err := s.execs.Get(id)
	if err != nil {
		status := http.StatusInternalServerError
		if err == store.ErrNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if exec.Owner != user {
		c.Status(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	ticker := time.NewTicker(socketPollInterval)
	defer ticker.Stop()

	for {
		result, err := s.rec.ReconcileOne(ctx, id)

		view := executionView{CurrentOperation: events.TaskNone}
		if err != nil {
			stored, loadErr := s.execs.Get(id)
			if loadErr != nil {
				return
			}
			view.Execution = *stored
			view.ReconcileError = err.Error()
		} else {
			view.Execution = result.Execution
			view.CurrentOperation = result.CurrentOperation
		}

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(view); err != nil {
			return
		}

		if view.Execution.Settled() {
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "execution settled"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
