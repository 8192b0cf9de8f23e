// file: internal/server/error_handler.go
// version: 2.0.0
// guid: 5d6e7f8a-9b0c-1d2e-3f4a-5b6c7d8e9f0a
// last-edited: 2026-10-17

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/api"
	"github.com/jdfalk/erpcache/internal/resources"
	"github.com/jdfalk/erpcache/internal/session"
	"go.uber.org/zap"
)

const loggerKey = "erpcache_logger"

// ErrorResponse provides a consistent error response format
type ErrorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Status int    `json:"status"`
}

// RespondWithError sends a standardized error response and logs the error
func RespondWithError(c *gin.Context, statusCode int, message string, code string) {
	logErrorWithContext(c, statusCode, message)

	c.JSON(statusCode, ErrorResponse{
		Error:  message,
		Code:   code,
		Status: statusCode,
	})
}

// RespondWithBadRequest sends a 400 Bad Request error response
func RespondWithBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, message, "BAD_REQUEST")
}

// RespondWithNotFound sends a 404 Not Found error response
func RespondWithNotFound(c *gin.Context, resourceType string, id string) {
	message := resourceType + " not found"
	if id != "" {
		message = message + ": " + id
	}
	RespondWithError(c, http.StatusNotFound, message, "NOT_FOUND")
}

// RespondWithUnauthorized sends a 401 Unauthorized error response
func RespondWithUnauthorized(c *gin.Context, message string) {
	RespondWithError(c, http.StatusUnauthorized, message, "UNAUTHORIZED")
}

// RespondWithBadGateway sends a 502 when the ERP backend could not serve a
// fetch.
func RespondWithBadGateway(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadGateway, message, "UPSTREAM_ERROR")
}

// RespondWithResolveError maps a resolve failure onto a response. A 401 from
// the backend has already ended the session by the time it gets here.
func RespondWithResolveError(c *gin.Context, name string, err error) {
	var httpErr *api.HTTPError
	switch {
	case errors.Is(err, resources.ErrUnknownResource):
		RespondWithNotFound(c, "resource", name)
	case errors.Is(err, resources.ErrInvalidParams):
		RespondWithBadRequest(c, err.Error())
	case errors.Is(err, session.ErrUnauthorized):
		RespondWithUnauthorized(c, "session ended: credential rejected")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		RespondWithError(c, http.StatusGatewayTimeout, err.Error(), "TIMEOUT")
	case errors.As(err, &httpErr):
		RespondWithBadGateway(c, "backend returned HTTP "+strconv.Itoa(httpErr.StatusCode))
	default:
		RespondWithBadGateway(c, err.Error())
	}
}

// logErrorWithContext logs an error with request context for debugging
func logErrorWithContext(c *gin.Context, statusCode int, message string) {
	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", statusCode),
		zap.String("client", c.ClientIP()),
	}
	logger := loggerFrom(c)
	if statusCode >= 500 {
		logger.Error(message, fields...)
		return
	}
	logger.Warn(message, fields...)
}

// requestLogger stores logger on the context and logs every request once it
// completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(loggerKey, logger)
		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func loggerFrom(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return zap.NewNop()
}
