package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/opencodetree/codetree/pkg/events"
	"github.com/opencodetree/codetree/pkg/session"
)

// HandleWebSocket handles GET /ws/:id: upgrades the connection and hands it
// to the shared events.ConnectionManager, which owns subscribe/catchup/
// broadcast for the session's channel.
func (s *Server) HandleWebSocket(c *gin.Context) {
	if s.connMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		patterns := make([]string, 0, len(s.allowedOrigins))
		for o := range s.allowedOrigins {
			patterns = append(patterns, o)
		}
		opts.OriginPatterns = patterns
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Blocks until the connection closes; ConnectionManager owns the
	// subscribe/catchup/broadcast lifecycle from here. The bearer token
	// checked by sessionAuth is scoped to one session, so the connection
	// may only subscribe to that session's channel (plus the session-list
	// channel).
	sess := c.MustGet("session").(*session.Session)
	s.connMgr.HandleConnection(c.Request.Context(), conn,
		events.SessionChannel(sess.ID), events.GlobalSessionsChannel)
}
