// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger. It never logs
// bodies. Credentials are masked wherever they can appear in request
// metadata: the Authorization/Cookie/CSRF headers, bearer tokens pasted into
// other headers or the query string, and the "_csrf" query parameter. E-mail
// addresses and phone numbers of certificate recipients are scrubbed too.
//
// The middleware also attaches the request-scoped logger returned by
// LoggerFrom, tagged with the correlation ID, method and route.
package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-cert-backend/internal/apperr"
)

const masked = "[REDACTED]"

var (
	// Applied in this order; the phone pattern is the loosest and would
	// otherwise eat digit runs inside tokens.
	jwtRE   = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	csrfRE  = regexp.MustCompile(`(?i)(^|&)(_csrf|csrf_token)=[^&]*`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\+?\b(?:\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are extra header names (case-insensitive) whose values are
	// replaced entirely.
	MaskHeaders []string
}

type scrubber struct {
	mask map[string]struct{}
}

func newScrubber(extra []string) scrubber {
	s := scrubber{mask: map[string]struct{}{
		"authorization":       {},
		"proxy-authorization": {},
		"cookie":              {},
		"set-cookie":          {},
		"x-csrf-token":        {},
	}}
	for _, h := range extra {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			s.mask[h] = struct{}{}
		}
	}
	return s
}

func (scrubber) text(v string) string {
	if v == "" {
		return v
	}
	v = jwtRE.ReplaceAllString(v, "[REDACTED:token]")
	v = csrfRE.ReplaceAllString(v, "${1}${2}="+masked)
	v = emailRE.ReplaceAllString(v, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(v, "[REDACTED:phone]")
}

// query scrubs the decoded query string so percent-encoded values are caught.
func (s scrubber) query(raw string) string {
	if u, err := url.QueryUnescape(raw); err == nil {
		raw = u
	}
	return s.text(raw)
}

func (s scrubber) headers(h http.Header) *zerolog.Event {
	d := zerolog.Dict()
	for k, vv := range h {
		if _, ok := s.mask[strings.ToLower(k)]; ok {
			d.Str(k, masked)
			continue
		}
		d.Str(k, s.text(strings.Join(vv, ", ")))
	}
	return d
}

// RedactingLogger logs one line per request: info for 2xx/3xx, warn for 4xx
// and error for 5xx. Besides the usual request fields it records the caller
// subject, the response-cache outcome and the error code of rejected
// requests.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	s := newScrubber(opts.MaskHeaders)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		scoped := log.With().
			Str("request_id", c.GetString(requestIDKey)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &scoped)

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if err := c.Errors.Last(); err != nil {
			ev = ev.Str("code", apperr.From(err.Err).Code)
		}
		if xc := c.Writer.Header().Get(headerCache); xc != "" {
			ev = ev.Str("cache", xc)
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", s.query(c.Request.URL.RawQuery)).
			Str("client_ip", c.ClientIP()).
			Str("subject", ActorFrom(c).Subject()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", s.headers(c.Request.Header)).
			Msg("http_request")
	}
}
