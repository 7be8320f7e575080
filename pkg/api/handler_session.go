package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opencodetree/codetree/pkg/session"
)

// defaultMaxDepth/defaultMaxExpansions backstop a CreateSessionRequest that
// omits them, matching cmd/codetree-agent's --max-depth default (30) and
// the scheduler's single-expansion-per-node default.
const (
	defaultMaxDepth      = 30
	defaultMaxExpansions = 1
)

// CreateSession handles POST /sessions: enqueues a new session row for the
// worker pool to claim, and mints the bearer token the caller must present
// on every subsequent request for this session (GetSession, CancelSession,
// the WebSocket event stream).
func (s *Server) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	maxExpansions := req.MaxExpansions
	if maxExpansions <= 0 {
		maxExpansions = defaultMaxExpansions
	}

	accessToken := uuid.New().String()
	sess := &session.Session{
		RunID:         req.RunID,
		RepoName:      req.RepoName,
		Instruction:   req.Instruction,
		EditorURL:     req.EditorURL,
		MaxDepth:      maxDepth,
		MaxExpansions: maxExpansions,
		SingleTraj:    req.SingleTraj,
		ModelName:     req.ModelName,
		AccessToken:   &accessToken,
	}
	if req.BaseCommit != "" {
		sess.BaseCommit = &req.BaseCommit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id, err := s.store.Create(ctx, sess)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		SessionID:   id,
		Status:      string(session.StatusQueued),
		AccessToken: accessToken,
	})
}

// GetSession handles GET /sessions/:id, returning current status and (once
// the search has started) the winning node index.
func (s *Server) GetSession(c *gin.Context) {
	sess := c.MustGet("session").(*session.Session)
	c.JSON(http.StatusOK, SessionResponse{
		ID:            sess.ID,
		RunID:         sess.RunID,
		RepoName:      sess.RepoName,
		Status:        string(sess.Status),
		Instruction:   sess.Instruction,
		RootNodeIndex: sess.RootNodeIndex,
		ModelName:     sess.ModelName,
		ErrorMessage:  sess.ErrorMessage,
	})
}

// CancelSession handles POST /sessions/:id/cancel. It trips the session's
// cancellation token locally (pool.CancelSession only finds a match on the
// pod that claimed the session) and broadcasts a cancel request on the
// cross-pod control channel so the holding replica reacts even when the
// request landed elsewhere. Always reports success once the session is
// non-terminal: the cancel takes effect asynchronously on whichever
// replica holds it.
func (s *Server) CancelSession(c *gin.Context) {
	sess := c.MustGet("session").(*session.Session)

	if sess.Status.IsTerminal() {
		c.JSON(http.StatusOK, CancelResponse{SessionID: sess.ID, Message: "session already finished"})
		return
	}

	s.pool.CancelSession(sess.ID)
	if s.publisher != nil {
		if err := s.publisher.PublishCancelRequest(c.Request.Context(), sess.ID); err != nil {
			s.logger.Warn("broadcasting cancel request failed", "session_id", sess.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, CancelResponse{SessionID: sess.ID, Message: "cancellation requested"})
}
