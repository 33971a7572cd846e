package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
)

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.Error("panic recovered",
			"request_id", c.GetString(ctxRequestID),
			"path", c.Request.URL.Path,
			"panic", recovered,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error:   "INTERNAL_ERROR",
			Message: "internal_error",
		})
	})
}

// requestID tags every request with a fresh id, echoed in X-Request-Id.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request completed",
			"request_id", c.GetString(ctxRequestID),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"remote_ip", c.RemoteIP(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

// localNetworkOnly rejects peers outside the local network. It looks at the
// TCP peer address only; forwarding headers are ignored.
func localNetworkOnly(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.RemoteIP()
		if !IsLocalPeer(ip) {
			logger.Warn("rejected non-local peer", "remote_ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Error:   "FORBIDDEN",
				Message: "local_network_only",
			})
			return
		}
		c.Next()
	}
}
