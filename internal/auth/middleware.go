package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// Middleware rejects requests without a valid bearer token and stores the
// caller's user ID in the gin context.
func Middleware(v *JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No token provided"})
			return
		}

		p, err := v.UserFromRequest(c.Request)
		if err != nil {
			logrus.WithError(err).Debug("Rejected bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(userIDKey, p.UserID)
		c.Next()
	}
}

// UserID returns the authenticated caller set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
