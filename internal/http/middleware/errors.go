// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the error-handling stage: the single place where
// errors attached to the gin context (c.Error) become the uniform JSON
// envelope
//
//	{ "success": false, "code": "...", "message": "...", "errors": [...], "request_id": "..." }
//
// Stages and handlers never render failures themselves. They call Abort (or
// c.Error + c.Abort) and return; this stage runs its post-processing after
// every inner stage, so rate-limit and CSRF rejections share the envelope.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/apperr"
)

// Stage errors raised by the pipeline itself.
var (
	ErrRateLimited    = apperr.New(apperr.KindRateLimited, "rate_limited", "too many requests, retry later")
	ErrCsrfInvalid    = apperr.New(apperr.KindCsrfInvalid, "csrf_invalid", "missing, invalid or expired CSRF token")
	ErrIdempotencyKey = apperr.New(apperr.KindValidation, "bad_idempotency_key", "invalid Idempotency-Key")
	ErrBadRequestBody = apperr.New(apperr.KindValidation, "bad_request", "malformed request body")
	ErrOriginDenied   = apperr.New(apperr.KindForbidden, "origin_not_allowed", "cross-origin request from an origin that is not allowed")
)

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	Success bool `json:"success" example:"false"`
	// Stable, machine-readable code
	Code string `json:"code" example:"certificate_not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"certificate not found"`
	// Per-field problems, when any
	Errors []string `json:"errors,omitempty"`
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
}

// Abort attaches err to the context and stops the chain. The error stage
// renders it.
func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// StatusOf resolves the status a request will finish with. When errors are
// pending and nothing has been written yet, the status is the one the error
// stage is going to render.
func StatusOf(c *gin.Context) int {
	if !c.Writer.Written() && len(c.Errors) > 0 {
		return apperr.From(c.Errors.Last().Err).HTTPStatus()
	}
	return c.Writer.Status()
}

// Errors returns the error-handling stage.
func Errors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		WriteError(c, c.Errors.Last().Err)
	}
}

// WriteError renders err as the error envelope. Unknown errors become a
// generic 500; their details go to the log only.
func WriteError(c *gin.Context, err error) {
	ae := apperr.From(err)
	status := ae.HTTPStatus()

	lg := LoggerFrom(c)
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error().Err(err).Int("status", status).Str("code", ae.Code).Msg("request failed")
	default:
		lg.Debug().Err(err).Int("status", status).Str("code", ae.Code).Msg("request rejected")
	}
	WriteEnvelope(c, status, ae.Code, ae.Message, ae.Details...)
}

// WriteEnvelope writes an error envelope with an explicit status and aborts.
func WriteEnvelope(c *gin.Context, status int, code, msg string, details ...string) {
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(status, ErrorBody{
		Success:   false,
		Code:      code,
		Message:   msg,
		Errors:    details,
		RequestID: requestID(c),
	})
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}
