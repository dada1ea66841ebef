// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the distributed rate-limit stage. Every request takes
// one point from the bucket of its route class, keyed by client IP and
// authenticated subject, in the shared coordination store. Counting never
// happens in process, so one caller spread over several instances still gets
// exactly one budget.
//
// Features:
//   - Per route-class budgets (RoutePolicy.Class)
//   - X-Rate-Limit-Limit / -Remaining / -Reset on every limited response,
//     Retry-After on rejections
//   - No exemptions: idempotent replays are charged like fresh requests
//   - Fail-open: when the store is unreachable the request proceeds and the
//     event is reported by the limiter
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/ratelimit"
)

const (
	headerRateLimit     = "X-Rate-Limit-Limit"
	headerRateRemaining = "X-Rate-Limit-Remaining"
	headerRateReset     = "X-Rate-Limit-Reset"
)

// RateLimit returns a middleware charging class for every request.
func RateLimit(l *ratelimit.Limiter, class ratelimit.Class) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ratelimit.Identity{IP: c.ClientIP(), Subject: ActorFrom(c).Subject()}
		res, err := l.Consume(c.Request.Context(), id, class)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("class", string(class)).Msg("rate limit check failed; allowing request")
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set(headerRateLimit, strconv.Itoa(res.Limit))
		if !res.Degraded {
			h.Set(headerRateRemaining, strconv.Itoa(res.Remaining))
			h.Set(headerRateReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
		}

		if !res.Allowed {
			h.Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
			// The metrics stage sits behind this one and never sees rejections.
			httpReqs.WithLabelValues(c.Request.Method, routePath(c), strconv.Itoa(http.StatusTooManyRequests), string(class)).Inc()
			Abort(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// RateLimitStage builds RateLimit per route from RoutePolicy.Class.
func RateLimitStage(l *ratelimit.Limiter) Stage {
	return Stage{Name: StageRateLimit, Build: func(p RoutePolicy) gin.HandlerFunc {
		return RateLimit(l, classOf(p))
	}}
}
