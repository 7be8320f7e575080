package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// sessionAuth enforces the per-session bearer token issued at session
// creation (Session.AccessToken), gating GET/cancel/WS routes. The token
// is generated by this service itself rather than delegated to a reverse
// proxy: a codetree session has no notion of a logged-in human operator,
// only a caller holding the token handed back by CreateSession.
func (s *Server) sessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		sess, err := s.store.Get(c.Request.Context(), id)
		if err != nil {
			writeStoreError(c, err)
			c.Abort()
			return
		}

		if sess.AccessToken != nil && *sess.AccessToken != "" {
			token := bearerToken(c.GetHeader("Authorization"))
			if token == "" || token != *sess.AccessToken {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid bearer token"})
				c.Abort()
				return
			}
		}

		c.Set("session", sess)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
