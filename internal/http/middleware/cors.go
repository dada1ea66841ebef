// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file configures the CORS stage on top of gin-contrib/cors. With no
// configured origins every origin is allowed (without credentials); with an
// allowlist only listed origins are echoed back and any other cross-origin
// request is refused with 403 origin_not_allowed. The refusal is rendered
// here because this stage runs outside the error stage. Requests without an
// Origin header, or from the serving host itself, are not cross-origin and
// pass through untouched.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HeaderCSRFToken carries the anti-forgery token on mutating requests.
const HeaderCSRFToken = "X-CSRF-Token"

var (
	corsMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		HeaderCSRFToken, HeaderIdempotencyKey, requestIDHeader,
	}
	corsExpose = []string{
		requestIDHeader, "Content-Length",
		headerRateLimit, headerRateRemaining, headerRateReset, "Retry-After",
		headerCache,
	}
)

// CORS returns the CORS stage for the given allowlist.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExpose,
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false // must remain false with AllowAllOrigins
		return cors.New(cfg)
	}
	cfg.AllowOrigins = allowedOrigins
	cfg.AllowCredentials = true
	next := cors.New(cfg)

	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" && !sameHost(c.Request, origin) {
			if _, ok := allowed[strings.ToLower(origin)]; !ok {
				WriteError(c, ErrOriginDenied)
				return
			}
		}
		next(c)
	}
}

func sameHost(r *http.Request, origin string) bool {
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// CORSStage wraps CORS as a pipeline stage.
func CORSStage(allowedOrigins []string) Stage {
	return Static(StageCORS, CORS(allowedOrigins))
}
