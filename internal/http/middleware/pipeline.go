// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the request pipeline: an ordered, named list of stages
// that wraps every API handler. The order is fixed:
//
//	cors → errors → security → ratelimit → metrics → csrf → cache_headers → response_cache → handler
//
// Stages see the request before the handler and the response after it, in
// reverse order. NewPipeline refuses (panics on) duplicates and any stage
// declared out of order, so a mis-wired router fails at startup rather than
// silently serving an unprotected route. Variants, such as the public
// pipeline without CSRF, are derived with Without.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/ratelimit"
)

// Stage names in canonical order.
const (
	StageCORS          = "cors"
	StageErrors        = "errors"
	StageSecurity      = "security"
	StageRateLimit     = "ratelimit"
	StageMetrics       = "metrics"
	StageCSRF          = "csrf"
	StageCacheHeaders  = "cache_headers"
	StageResponseCache = "response_cache"
)

var canonicalOrder = []string{
	StageCORS,
	StageErrors,
	StageSecurity,
	StageRateLimit,
	StageMetrics,
	StageCSRF,
	StageCacheHeaders,
	StageResponseCache,
}

// HeaderClass selects the Cache-Control policy of a route.
type HeaderClass int

const (
	// HeadersNone marks responses that must not be stored anywhere.
	HeadersNone HeaderClass = iota
	// HeadersPrivate allows caching by the requesting client only.
	HeadersPrivate
	// HeadersStatic allows shared caches.
	HeadersStatic
)

// String returns the class name.
func (h HeaderClass) String() string {
	switch h {
	case HeadersPrivate:
		return "private"
	case HeadersStatic:
		return "static"
	default:
		return "none"
	}
}

// RoutePolicy is the per-route input of the policy-dependent stages.
type RoutePolicy struct {
	// Class is the rate-limit budget the route consumes from.
	Class ratelimit.Class
	// CacheTTL is the response-cache lifetime; zero disables response caching.
	CacheTTL time.Duration
	// Headers is the Cache-Control class.
	Headers HeaderClass
	// AnonymousCache lets anonymous callers use the response cache on a
	// private route. Routes whose handlers answer anonymous callers with
	// public data set it.
	AnonymousCache bool
	// OnCacheHit runs after a response was served from the response cache.
	OnCacheHit HitFunc
}

// Stage is one named pipeline step. Build returns the step for a route, or
// nil when the stage does not apply to it.
type Stage struct {
	Name  string
	Build func(RoutePolicy) gin.HandlerFunc
}

// Static wraps a policy-independent middleware as a Stage.
func Static(name string, h gin.HandlerFunc) Stage {
	return Stage{Name: name, Build: func(RoutePolicy) gin.HandlerFunc { return h }}
}

// Pipeline is a validated, ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline validates the stage order and returns the pipeline. It panics on
// an unknown, duplicate or out-of-order stage.
func NewPipeline(stages ...Stage) *Pipeline {
	rank := make(map[string]int, len(canonicalOrder))
	for i, n := range canonicalOrder {
		rank[n] = i
	}
	last := -1
	seen := make(map[string]bool, len(stages))
	for _, s := range stages {
		r, ok := rank[s.Name]
		switch {
		case !ok:
			panic(fmt.Sprintf("middleware: unknown pipeline stage %q", s.Name))
		case seen[s.Name]:
			panic(fmt.Sprintf("middleware: duplicate pipeline stage %q", s.Name))
		case r < last:
			panic(fmt.Sprintf("middleware: pipeline stage %q declared out of order", s.Name))
		case s.Build == nil:
			panic(fmt.Sprintf("middleware: pipeline stage %q has no builder", s.Name))
		}
		seen[s.Name] = true
		last = r
	}
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Without returns a copy of p without the named stages.
func (p *Pipeline) Without(names ...string) *Pipeline {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := make([]Stage, 0, len(p.stages))
	for _, s := range p.stages {
		if !drop[s.Name] {
			out = append(out, s)
		}
	}
	return &Pipeline{stages: out}
}

// Names lists the stage names in execution order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}

// String renders the pipeline as "a → b → c".
func (p *Pipeline) String() string { return strings.Join(p.Names(), " → ") }

// Wrap returns the handler chain for a route with the given policy.
func (p *Pipeline) Wrap(policy RoutePolicy, handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	chain := make([]gin.HandlerFunc, 0, len(p.stages)+len(handlers))
	for _, s := range p.stages {
		if h := s.Build(policy); h != nil {
			chain = append(chain, h)
		}
	}
	return append(chain, handlers...)
}

// Preflight returns the chain answering OPTIONS for a route: the CORS stage
// (when present) followed by an empty 204.
func (p *Pipeline) Preflight() []gin.HandlerFunc {
	var chain []gin.HandlerFunc
	for _, s := range p.stages {
		if s.Name == StageCORS {
			if h := s.Build(RoutePolicy{}); h != nil {
				chain = append(chain, h)
			}
		}
	}
	return append(chain, func(c *gin.Context) { c.AbortWithStatus(http.StatusNoContent) })
}
