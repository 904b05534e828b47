package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	participantKey    = "participantID"
	participantHeader = "X-Participant-Id"
)

// TokenValidator resolves a bearer token to a participant id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Participant resolves the calling participant. A bearer token wins and must
// validate; without one the X-Participant-Id header is trusted, then fallbackID.
func Participant(validator TokenValidator, fallbackID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
				return
			}
			if validator == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token validation unavailable"})
				return
			}
			participantID, err := validator.ValidateToken(c.Request.Context(), parts[1])
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			c.Set(participantKey, participantID)
			c.Next()
			return
		}

		participantID := c.GetHeader(participantHeader)
		if participantID == "" {
			participantID = fallbackID
		}
		if participantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		c.Set(participantKey, participantID)
		c.Next()
	}
}

// ParticipantID returns the id resolved by Participant.
func ParticipantID(c *gin.Context) string {
	return c.GetString(participantKey)
}
