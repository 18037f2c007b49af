package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/ai-mail-reader/internal/auth"
	"github.com/Martian-dev/ai-mail-reader/internal/mailerr"
)

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// fail writes the response for err. Gmail error kinds get their own status;
// anything else is a 500 with msg as the error and err as details.
func (s *Server) fail(c *gin.Context, err error, msg string) {
	log := s.Log.WithField("user_id", auth.UserID(c)).WithField("path", c.FullPath()).WithError(err)

	switch {
	case errors.Is(err, mailerr.ErrGmailNotConnected):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Gmail account not connected"})
	case errors.Is(err, mailerr.ErrReauthRequired):
		log.Info("Gmail reauthorization required")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":  "Gmail authorization expired, please reconnect",
			"reauth": true,
		})
	case errors.Is(err, mailerr.ErrRateLimited):
		log.Warn("Gmail rate limit hit")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Gmail rate limit exceeded, please try again later"})
	case errors.Is(err, mailerr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		log.Error(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "details": err.Error()})
	}
}
