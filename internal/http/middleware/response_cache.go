// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the response-cache stage for GET routes with a cache
// TTL. Entries are keyed by
//
//	resp:GET:<path>:<sorted query>:<caller fingerprint>
//
// where the fingerprint is derived from the authenticated actor, not from
// the raw credential, so a token that stops authenticating also stops
// matching its entries. Only successful (200) responses are stored. Handlers
// may shorten the lifetime of the current response, or forbid storing it,
// with SetCacheTTL; the shortened client lifetime is stored with the entry
// and re-applied on every hit.
package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/blake2b"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

const (
	headerCache     = "X-Cache"
	ctxKeyCacheTTL  = "cache.ttl"
	respKeyPrefix   = "resp:"
	anonFingerprint = "anon"
)

var respCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_response_cache_total",
		Help: "Response cache results by route.",
	},
	[]string{"path", "result"},
)

func init() {
	prometheus.MustRegister(respCacheTotal)
}

// ResponseStore is the part of the distributed cache used for responses.
type ResponseStore interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// KeyPathFunc returns the path segment of the cache key, or false when the
// request must not be cached.
type KeyPathFunc func(c *gin.Context) (string, bool)

// HitFunc observes a response served from the cache. body is the stored
// response body.
type HitFunc func(c *gin.Context, body []byte)

// cachedResponse is the stored form of a response. ClientExpiresAt is set
// when the handler bounded the response lifetime below the route TTL.
type cachedResponse struct {
	ContentType     string     `json:"content_type"`
	Body            []byte     `json:"body"`
	ClientExpiresAt *time.Time `json:"client_expires_at,omitempty"`
}

// SetCacheTTL bounds the lifetime of the current response in the response
// cache and in the Cache-Control max-age. Zero forbids caching it.
func SetCacheTTL(c *gin.Context, ttl time.Duration) {
	c.Set(ctxKeyCacheTTL, ttl)
	capMaxAge(c.Writer.Header(), ttl)
}

// capMaxAge lowers the max-age of h to ttl; ttl <= 0 means no-store.
func capMaxAge(h http.Header, ttl time.Duration) {
	if ttl <= 0 {
		h.Set("Cache-Control", "no-store")
		return
	}
	scope, age, ok := strings.Cut(h.Get("Cache-Control"), ", max-age=")
	if !ok {
		return
	}
	if n, err := strconv.Atoi(age); err == nil && time.Duration(n)*time.Second > ttl {
		h.Set("Cache-Control", scope+", max-age="+strconv.Itoa(int(ttl/time.Second)))
	}
}

// ResponseCacheKey builds the cache key for method, path, encoded query and
// caller.
func ResponseCacheKey(method, path, query string, actor domain.Actor) string {
	return respKeyPrefix + method + ":" + path + ":" + query + ":" + fingerprint(actor)
}

// ResponseCachePrefix is the key prefix shared by every entry for path.
func ResponseCachePrefix(method, path string) string {
	return respKeyPrefix + method + ":" + path + ":"
}

func fingerprint(a domain.Actor) string {
	if a.Anonymous() {
		return anonFingerprint
	}
	sum := blake2b.Sum256([]byte(string(a.Role) + "\x00" + a.ID))
	return hex.EncodeToString(sum[:16])
}

// ResponseCacheOptions configures ResponseCache.
type ResponseCacheOptions struct {
	TTL time.Duration
	// KeyPath defaults to the request path.
	KeyPath KeyPathFunc
	// SkipAnonymous disables the cache for anonymous callers.
	SkipAnonymous bool
	OnHit         HitFunc
	Now           func() time.Time
}

// ResponseCache returns the response-cache middleware.
func ResponseCache(store ResponseStore, opts ResponseCacheOptions) gin.HandlerFunc {
	keyPath := opts.KeyPath
	if keyPath == nil {
		keyPath = func(c *gin.Context) (string, bool) { return c.Request.URL.Path, true }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		route := routePath(c)
		actor := ActorFrom(c)
		path, ok := keyPath(c)
		if !ok || (opts.SkipAnonymous && actor.Anonymous()) {
			respCacheTotal.WithLabelValues(route, "bypass").Inc()
			c.Next()
			return
		}
		// url.Values.Encode sorts by key.
		key := ResponseCacheKey(http.MethodGet, path, c.Request.URL.Query().Encode(), actor)
		ctx := c.Request.Context()

		var hit cachedResponse
		if found, err := store.GetJSON(ctx, key, &hit); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("response cache read failed")
		} else if found {
			respCacheTotal.WithLabelValues(route, "hit").Inc()
			if hit.ClientExpiresAt != nil {
				capMaxAge(c.Writer.Header(), hit.ClientExpiresAt.Sub(now()))
			}
			c.Header(headerCache, "HIT")
			c.Data(http.StatusOK, hit.ContentType, hit.Body)
			if opts.OnHit != nil {
				opts.OnHit(c, hit.Body)
			}
			c.Abort()
			return
		}

		respCacheTotal.WithLabelValues(route, "miss").Inc()
		c.Header(headerCache, "MISS")
		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		start := now()

		c.Next()

		c.Writer = w.ResponseWriter
		if len(c.Errors) > 0 || w.Status() != http.StatusOK {
			return
		}
		entry := cachedResponse{ContentType: w.Header().Get("Content-Type"), Body: w.body.Bytes()}
		life := opts.TTL
		if v, ok := c.Get(ctxKeyCacheTTL); ok {
			if d, ok := v.(time.Duration); ok && d < life {
				life = d
				exp := start.Add(d)
				entry.ClientExpiresAt = &exp
			}
		}
		if life <= 0 {
			return
		}
		if err := store.SetJSON(ctx, key, entry, life); err != nil {
			LoggerFrom(c).Warn().Err(err).Str("key", key).Msg("response cache write failed")
		}
	}
}

// ResponseCacheStage builds ResponseCache for routes with a cache TTL.
// Private routes skip the cache for anonymous callers unless the route
// opts in with RoutePolicy.AnonymousCache.
func ResponseCacheStage(store ResponseStore, keyPath KeyPathFunc) Stage {
	return Stage{Name: StageResponseCache, Build: func(p RoutePolicy) gin.HandlerFunc {
		if p.CacheTTL <= 0 {
			return nil
		}
		return ResponseCache(store, ResponseCacheOptions{
			TTL:           p.CacheTTL,
			KeyPath:       keyPath,
			SkipAnonymous: p.Headers == HeadersPrivate && !p.AnonymousCache,
			OnHit:         p.OnCacheHit,
		})
	}}
}

// captureWriter copies the response body while writing it through.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
