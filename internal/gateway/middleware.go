package gateway

import (
	"github.com/gin-gonic/gin"

	"cortex.dev/cortex/internal/apperr"
	"cortex.dev/cortex/internal/auth"
)

const requestIDHeader = "x-request-id"
const requestIDContextKey = "cortex_request_id"

// requestIDMiddleware tags every request with a stable request_id, reusing
// the client-supplied one when present (§4.5).
func (r *Router) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := auth.RequestID(c.GetHeader(requestIDHeader))
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError renders err as the standard error envelope (§4.6) and aborts
// the gin context. If err is not an *apperr.Error it is treated as an
// internal error (its detail never reaches the client).
func writeError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err)
	}
	c.AbortWithStatusJSON(ae.HTTPStatus(), ae.ToEnvelope(requestIDFrom(c)))
}
