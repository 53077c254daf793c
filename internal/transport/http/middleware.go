package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/colearn-server/internal/auth"
)

// ContextKeyCallbackRoom is the context key for the room a validated callback
// request may post output to.
const ContextKeyCallbackRoom = "callback_room"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CallbackAuth validates the bearer token the execution worker presents when it
// posts run output for the room in the :id path parameter.
func CallbackAuth(cfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled() {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "output callback is disabled"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Debug().Msg("missing authorization header")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			logger.Debug().Msg("invalid authorization header format")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid authorization header format"})
			c.Abort()
			return
		}

		roomID := c.Param("id")
		if _, err := auth.ValidateToken(cfg, parts[1], roomID); err != nil {
			logger.Debug().Err(err).Str("room_id", roomID).Msg("invalid callback token")
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrRoomMismatch) {
				status = http.StatusForbidden
			}
			c.JSON(status, ErrorResponse{Error: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyCallbackRoom, roomID)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
