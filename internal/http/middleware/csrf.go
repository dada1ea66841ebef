// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the CSRF stage. Mutating requests (POST, PUT, PATCH,
// DELETE) must present the live token of their subject, taken from the
// X-CSRF-Token header, the "_csrf" form field or the "_csrf" field of a JSON
// body. The token store fails closed: when it cannot be read the request is
// rejected like any other bad token.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/csrf"
)

const csrfField = "_csrf"

// CSRFOptions configures the CSRF stage.
type CSRFOptions struct {
	// SingleUse revokes the token after a successful mutating request.
	SingleUse bool
}

// CSRF returns the CSRF validation middleware.
func CSRF(store *csrf.Store, opts CSRFOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) {
			c.Next()
			return
		}

		subject := ActorFrom(c).Subject()
		token := csrfToken(c)
		ok, err := store.Validate(c.Request.Context(), subject, token)
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("csrf store unavailable; rejecting request")
		}
		if !ok {
			Abort(c, ErrCsrfInvalid)
			return
		}

		c.Next()

		if opts.SingleUse && len(c.Errors) == 0 && StatusOf(c) < http.StatusBadRequest {
			if err := store.Revoke(c.Request.Context(), subject); err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("csrf token revoke failed")
			}
		}
	}
}

// CSRFStage wraps CSRF as a pipeline stage.
func CSRFStage(store *csrf.Store, opts CSRFOptions) Stage {
	return Static(StageCSRF, CSRF(store, opts))
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// csrfToken finds the submitted token. The body, when inspected, is restored
// for the handler.
func csrfToken(c *gin.Context) string {
	if t := c.GetHeader(HeaderCSRFToken); t != "" {
		return t
	}
	if c.Request.Body == nil {
		return ""
	}
	mt, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mt != "application/json" && mt != "application/x-www-form-urlencoded" {
		return ""
	}

	body, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	if mt == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return form.Get(csrfField)
	}
	var probe struct {
		CSRF string `json:"_csrf"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.CSRF
}
