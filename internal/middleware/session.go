package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prefeitura-rio/app-medrec/internal/sessions"
)

const (
	// SessionHeader carries the client session identifier
	SessionHeader = "X-Session-ID"
	// SessionIDKey is the gin context key holding the session ID
	SessionIDKey = "session_id"
)

// RequireSession rejects requests without a usable X-Session-ID header and
// stores the session ID in the context.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(SessionHeader)
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": SessionHeader + " header is required"})
			return
		}
		if !sessions.ValidSessionID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + SessionHeader + " header"})
			return
		}
		c.Set(SessionIDKey, id)
		c.Next()
	}
}

// SessionID returns the session ID stored by RequireSession
func SessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
