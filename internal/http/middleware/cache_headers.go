package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// CacheHeaders sets Cache-Control (and Vary for private responses) from the
// route's header class before the handler runs. A request that ends in an
// error is switched to no-store.
func CacheHeaders(class HeaderClass, ttl time.Duration) gin.HandlerFunc {
	maxAge := strconv.Itoa(int(ttl / time.Second))
	return func(c *gin.Context) {
		h := c.Writer.Header()
		switch class {
		case HeadersStatic:
			h.Set("Cache-Control", "public, max-age="+maxAge)
		case HeadersPrivate:
			h.Set("Cache-Control", "private, max-age="+maxAge)
			h.Add("Vary", "Authorization")
			h.Add("Vary", "Origin")
		default:
			h.Set("Cache-Control", "no-store")
		}

		c.Next()

		if !c.Writer.Written() && (len(c.Errors) > 0 || StatusOf(c) >= http.StatusBadRequest) {
			h.Set("Cache-Control", "no-store")
		}
	}
}

// CacheHeadersStage builds CacheHeaders per route from RoutePolicy.
func CacheHeadersStage() Stage {
	return Stage{Name: StageCacheHeaders, Build: func(p RoutePolicy) gin.HandlerFunc {
		return CacheHeaders(p.Headers, p.CacheTTL)
	}}
}
