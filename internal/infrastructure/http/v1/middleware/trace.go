package middleware

import (
	"github.com/gin-gonic/gin"

	"conteo/internal/core/appctx"
)

// Trace middleware ensures every request carries a trace context.
// An incoming X-Request-ID is honored; otherwise a new one is generated.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		trace := appctx.NewTraceContext()
		if rid := c.GetHeader("X-Request-ID"); rid != "" {
			trace.RequestID = rid
		}

		ctx := appctx.WithTrace(c.Request.Context(), trace)
		c.Request = c.Request.WithContext(ctx)
		c.Set("request_id", trace.RequestID)
		c.Header("X-Request-ID", trace.RequestID)

		c.Next()
	}
}
