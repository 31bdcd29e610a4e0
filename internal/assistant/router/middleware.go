package router

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
	"github.com/kart-io/helix-assistant/pkg/utils/response"
)

// HeaderXRequestID carries the request ID in both directions.
const HeaderXRequestID = "X-Request-ID"

// skipLogPaths are polled frequently and not access-logged.
var skipLogPaths = map[string]bool{
	"/v1/assistant/health":  true,
	"/v1/assistant/metrics": true,
}

// generateRequestID returns a random 16-byte hex string.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(b)
}

// RequestID reuses the caller's X-Request-ID or generates one.
// The ID is echoed in the response header and envelope.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestID)
		if id == "" {
			id = generateRequestID()
			c.Request.Header.Set(HeaderXRequestID, id)
		}
		c.Header(HeaderXRequestID, id)
		c.Next()
	}
}

// Logger writes one structured line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skipLogPaths[path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetHeader(HeaderXRequestID),
		}
		if tenant := c.GetHeader("X-Tenant-ID"); tenant != "" {
			fields = append(fields, "tenant_id", tenant)
		}
		status := c.Writer.Status()
		switch {
		case status >= 500:
			logger.Errorw("HTTP request", fields...)
		case status >= 400:
			logger.Warnw("HTTP request", fields...)
		default:
			logger.Infow("HTTP request", fields...)
		}
	}
}

// Recovery converts panics into an ErrInternal envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered", "panic", r, "path", c.Request.URL.Path, "stack", string(debug.Stack()))
				response.Fail(c, apierrors.ErrInternal.WithMessage(fmt.Sprintf("panic: %v", r)), "")
				c.Abort()
			}
		}()
		c.Next()
	}
}
