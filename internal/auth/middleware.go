package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stream-queue-system/pkg/jwt"
)

// Middleware resolves the caller's identity from the session cookie, or
// from a token query parameter for websocket dials where cookies may not
// travel. Requests without a resolvable identity are aborted before any
// mutation runs.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("auth_token")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.ValidateToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}
