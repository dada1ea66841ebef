// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, identity,
// and the per-route request pipeline.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Every API route declares its pipeline and policy in one table
//   - All dependencies injected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-cert-backend/docs"
	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/cache"
	"github.com/tbourn/go-cert-backend/internal/config"
	"github.com/tbourn/go-cert-backend/internal/csrf"
	"github.com/tbourn/go-cert-backend/internal/http/handlers"
	"github.com/tbourn/go-cert-backend/internal/http/middleware"
	"github.com/tbourn/go-cert-backend/internal/ratelimit"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/services"
	"github.com/tbourn/go-cert-backend/internal/signing"
)

const maxBodyBytes = 1 << 20

// Deps are the shared components behind the routes. One set is built per
// process; the cache, limiter and CSRF store all talk to the same
// coordination store.
type Deps struct {
	DB      *gorm.DB
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	CSRF    *csrf.Store
	Signer  *signing.Signer
	Audit   *audit.Logger
}

// route is one row of the API route table.
type route struct {
	method  string
	path    string
	public  bool
	policy  middleware.RoutePolicy
	handler gin.HandlerFunc
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the certificate service it built, so callers share the
// same instance.
//
// Engine-level middleware (every request, in order):
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret masking
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. gzip (not for /metrics)
//  7. Authenticate: bearer token → actor
//  8. Idempotency-Key validation for issuance
//
// API routes then run through the standard pipeline, or the public one
// (without CSRF) for anonymous verification and reference data.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) *services.CertificateService {
	r.HandleMethodNotAllowed = true

	apiBase := strings.TrimSuffix(cfg.APIBasePath, "/") // e.g. "/api/v1"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(maxBodyBytes))

	// 6) Compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Identity
	r.Use(middleware.Authenticate(cfg.JWTSecret))

	// 8) Idempotency-Key validation
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, Scope: services.IssueScope},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, deps.DB, userID, scope, key, now)
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health and metrics
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/cache
	inv := &cacheInvalidator{cache: deps.Cache, base: apiBase}
	certSvc := services.NewCertificateService(deps.DB, deps.Signer, deps.Audit, inv)
	if cfg.IdempotencyTTL > 0 {
		certSvc.IdempotencyTTL = cfg.IdempotencyTTL
	}
	verifySvc := services.NewVerificationService(deps.DB, deps.Cache, deps.Signer, deps.Audit)
	if cfg.Cache.VerifyTTL > 0 {
		verifySvc.TTL = cfg.Cache.VerifyTTL
	}
	h := handlers.New(certSvc, verifySvc, deps.CSRF)

	// Pipelines
	standard := middleware.NewPipeline(
		middleware.CORSStage(cfg.CORS.AllowedOrigins),
		middleware.Static(middleware.StageErrors, middleware.Errors()),
		middleware.SecurityStage(middleware.SecurityOptions{
			EnableHSTS:   cfg.Security.EnableHSTS,
			HSTSMaxAge:   cfg.Security.HSTSMaxAge,
			EnablePolicy: true,
		}),
		middleware.RateLimitStage(deps.Limiter),
		middleware.MetricsStage(),
		middleware.CSRFStage(deps.CSRF, middleware.CSRFOptions{SingleUse: cfg.CSRF.SingleUse}),
		middleware.CacheHeadersStage(),
		middleware.ResponseCacheStage(deps.Cache, canonicalKeyPath),
	)
	public := standard.Without(middleware.StageCSRF)

	ttl := cfg.Cache
	routes := []route{
		{http.MethodGet, "/csrf-token", false, middleware.RoutePolicy{Class: ratelimit.ClassAuth}, h.CSRFToken},

		// Certificates
		{http.MethodGet, "/certificates", false, middleware.RoutePolicy{CacheTTL: ttl.ListTTL, Headers: middleware.HeadersPrivate}, h.ListCertificates},
		{http.MethodPost, "/certificates", false, middleware.RoutePolicy{}, h.IssueCertificate},
		{http.MethodPost, "/certificates/bulk", false, middleware.RoutePolicy{}, h.BulkIssueCertificates},
		{http.MethodGet, "/certificates/:id", false, middleware.RoutePolicy{CacheTTL: ttl.ItemTTL, Headers: middleware.HeadersPrivate}, h.GetCertificate},
		{http.MethodGet, "/certificates/:id/history", false, middleware.RoutePolicy{}, h.CertificateHistory},
		{http.MethodPatch, "/certificates/:id/revoke", false, middleware.RoutePolicy{}, h.RevokeCertificate},

		// Verification
		{http.MethodGet, "/validate/:id", true, middleware.RoutePolicy{
			Class: ratelimit.ClassVerification, CacheTTL: ttl.VerifyTTL, Headers: middleware.HeadersPrivate,
			AnonymousCache: true, OnCacheHit: h.VerificationServed,
		}, h.ValidateCertificate},
		{http.MethodPost, "/validate", true, middleware.RoutePolicy{Class: ratelimit.ClassVerification}, h.ValidateCertificateBody},

		// Reference data
		{http.MethodGet, "/reference/statuses", true, middleware.RoutePolicy{CacheTTL: ttl.ReferenceTTL, Headers: middleware.HeadersStatic}, h.Statuses},
	}

	api := groupWithPrefix(r, apiBase)
	preflight := map[string]bool{}
	for _, rt := range routes {
		p := standard
		if rt.public {
			p = public
		}
		api.Handle(rt.method, rt.path, p.Wrap(rt.policy, rt.handler)...)
		if !preflight[rt.path] {
			preflight[rt.path] = true
			api.OPTIONS(rt.path, p.Preflight()...)
		}
	}

	return certSvc
}

// canonicalKeyPath keys cached responses by the route path with the
// certificate code normalized, so that every spelling of a code shares one
// entry and revocation can find it. Unparseable codes are not cached.
func canonicalKeyPath(c *gin.Context) (string, bool) {
	full := c.FullPath()
	if full == "" {
		return c.Request.URL.Path, true
	}
	if !strings.Contains(full, ":id") {
		return full, true
	}
	id, err := services.NormalizeIdentifier(c.Param("id"))
	if err != nil {
		return "", false
	}
	return strings.Replace(full, ":id", id, 1), true
}

// cacheInvalidator drops every cache entry derived from certificates: the
// verification result and the cached responses that embed it.
type cacheInvalidator struct {
	cache *cache.Cache
	base  string
}

// InvalidateCertificate implements services.Invalidator.
func (i *cacheInvalidator) InvalidateCertificate(ctx context.Context, id string) error {
	if err := i.cache.Delete(ctx, services.VerifyCacheKey(id)); err != nil {
		return err
	}
	for _, p := range []string{"/certificates/" + id, "/validate/" + id} {
		if err := i.cache.DeleteByPattern(ctx, responsePattern(i.base+p)); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateListings implements services.Invalidator.
func (i *cacheInvalidator) InvalidateListings(ctx context.Context) error {
	return i.cache.DeleteByPattern(ctx, responsePattern(i.base+"/certificates"))
}

func responsePattern(path string) string {
	return cache.EscapeGlob(middleware.ResponseCachePrefix(http.MethodGet, path)) + "*"
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
