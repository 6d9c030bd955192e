package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/bilirag-backend/internal/platform/logger"
	"github.com/yungbote/bilirag-backend/internal/services"
	"github.com/yungbote/bilirag-backend/internal/types"
)

const sessionContextKey = "user_session"

type SessionMiddleware struct {
	log            *logger.Logger
	sessionService services.SessionService
}

func NewSessionMiddleware(log *logger.Logger, sessionService services.SessionService) *SessionMiddleware {
	middlewareLogger := log.With("Middleware", "SessionMiddleware")
	return &SessionMiddleware{log: middlewareLogger, sessionService: sessionService}
}

// RequireSession resolves the caller's session ID and aborts with 401 when
// it is missing, unknown or deactivated.
func (sm *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := extractSessionID(c)
		if sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session id"})
			return
		}
		session, err := sm.sessionService.GetActiveSession(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, services.ErrSessionNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
				return
			}
			sm.log.Error("Session lookup failed", "error", err.Error())
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// SessionFromContext returns the session stored by RequireSession, nil when
// the route was not guarded.
func SessionFromContext(c *gin.Context) *types.UserSession {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	session, ok := value.(*types.UserSession)
	if !ok {
		return nil
	}
	return session
}

func extractSessionID(c *gin.Context) string {
	if header := c.GetHeader("X-Session-Id"); header != "" {
		return header
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return c.Query("session_id")
}
