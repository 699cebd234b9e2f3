package middleware

import (
	"context"
	"strings"

	"evalhub/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	principalHeader = "X-Principal-Id"

	traceIDContextKey   = "trace_id"
	principalContextKey = "principal_id"
)

// TraceContextMiddleware ensures trace and principal ids are in the request
// context and response headers. The principal header is set by the upstream
// signature-verification gateway; this service never validates credentials.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(traceIDHeader, traceID)

		principalID := strings.TrimSpace(c.GetHeader(principalHeader))
		if principalID != "" {
			c.Set(principalContextKey, principalID)
			ctx = context.WithValue(c.Request.Context(), contextkey.PrincipalID, principalID)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

// PrincipalID returns the authenticated principal from the gin context.
// Returns empty string when the request carried no principal header.
func PrincipalID(c *gin.Context) string {
	if v, ok := c.Get(principalContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
