package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediadrop/internal"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestIDFrom returns the id assigned by requestIDMiddleware
func requestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.New().String()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// loggingMiddleware logs the path only; delivery tokens live in the query
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		internal.LogInfo("%s %s %d %s request_id=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), requestIDFrom(c))
	}
}

// recoveryMiddleware answers a panic with the generic 500 body. gin writes
// the stack to gin.DefaultErrorWriter, which serve routes into the logger.
func recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		internal.LogError("panic serving %s %s request_id=%s: %v",
			c.Request.Method, c.Request.URL.Path, requestIDFrom(c), err)
		if c.Writer.Written() {
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
			Code:    500,
			Data:    nil,
			Message: internal.MsgInternalError,
		})
	})
}

// bodyLimitMiddleware caps request bodies at limit bytes. Declared lengths
// are rejected up front; chunked bodies fail when the reader hits the cap.
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			respondTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func respondTooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, Response{
		Code:    413,
		Data:    nil,
		Message: "request body too large",
	})
}

func isTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}
