// Package api exposes the session service over HTTP and WebSocket:
// create/inspect/cancel a session, and stream its UI events to a connected
// client. The Server holds service handles and answers with gin.H JSON
// responses; request bodies are parsed with ShouldBindJSON.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencodetree/codetree/pkg/events"
	"github.com/opencodetree/codetree/pkg/session"
)

// Server wires the session store, worker pool, event publisher, and event
// connection manager into a gin router.
type Server struct {
	store     *session.Store
	pool      *session.WorkerPool
	connMgr   *events.ConnectionManager
	publisher *events.EventPublisher
	logger    *slog.Logger

	allowedOrigins map[string]bool
}

// NewServer constructs a Server. allowedWSOrigins restricts which Origin
// headers the WebSocket upgrade accepts; an empty slice allows any origin
// (matching coder/websocket's default, used for local/dev setups).
func NewServer(store *session.Store, pool *session.WorkerPool, connMgr *events.ConnectionManager, publisher *events.EventPublisher, allowedWSOrigins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	origins := make(map[string]bool, len(allowedWSOrigins))
	for _, o := range allowedWSOrigins {
		origins[o] = true
	}
	return &Server{store: store, pool: pool, connMgr: connMgr, publisher: publisher, allowedOrigins: origins, logger: logger}
}

// RegisterRoutes attaches every route this server handles to router.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", s.Health)

	sessions := router.Group("/sessions")
	sessions.POST("", s.CreateSession)
	sessions.GET("/:id", s.sessionAuth(), s.GetSession)
	sessions.POST("/:id/cancel", s.sessionAuth(), s.CancelSession)

	router.GET("/ws/:id", s.sessionAuth(), s.HandleWebSocket)
}

// Health reports liveness only — this package has no *sql.DB handle to
// check readiness with. cmd/codetree-server registers a separate /healthz
// route alongside this one that also reports database and worker-pool
// health, since it owns those handles directly.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

const requestTimeout = 10 * time.Second
