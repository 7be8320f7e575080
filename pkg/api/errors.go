package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// writeStoreError maps a pkg/session.Store error to an HTTP response:
// sql.ErrNoRows -> 404, anything else -> 500 with the error logged
// server-side but not echoed to the client.
func writeStoreError(c *gin.Context, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	slog.Error("unexpected session store error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
