// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on certificate issuance.
// The middleware never serves stored results itself: it records the key and
// whether a completed issuance already exists for (caller, scope, key), and
// the certificate service resolves the replay. Replays are charged against
// the rate limit like any other request.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen key for a POST.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdempotency = "idempotency"
	defaultIdemMaxLen = 200
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// idemState is what IdempotencyValidator leaves on the context.
type idemState struct {
	key    string
	replay bool
}

func idemFrom(c *gin.Context) idemState {
	if v, ok := c.Get(ctxKeyIdempotency); ok {
		if st, ok := v.(idemState); ok {
			return st
		}
	}
	return idemState{}
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	st := idemFrom(c)
	return st.key, st.key != ""
}

// IsReplay reports whether the caller already completed this operation
// with the same key.
func IsReplay(c *gin.Context) bool { return idemFrom(c).replay }

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; 200 when unset.
	MaxLen int
	// Pattern restricts the key alphabet; [A-Za-z0-9._~:-] when nil.
	Pattern *regexp.Regexp
	// Scope names the operation keys belong to, e.g. "certificates.issue".
	Scope string
	Now   func() time.Time
}

// IdempotencyLookup reports whether a completed, unexpired result exists
// for (userID, scope, key). Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error)

// IdempotencyValidator rejects malformed keys on POST with 400
// bad_idempotency_key. Requests without the header, other methods and
// anonymous callers skip the lookup.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultIdemMaxLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultIdemPattern
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			WriteError(c, ErrIdempotencyKey)
			return
		}

		st := idemState{key: key}
		if actor := ActorFrom(c); lookup != nil && !actor.Anonymous() {
			found, err := lookup(c.Request.Context(), actor.ID, opts.Scope, key, opts.Now())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("scope", opts.Scope).Msg("idempotency lookup failed")
			case found:
				st.replay = true
			}
		}
		c.Set(ctxKeyIdempotency, st)
		c.Next()
	}
}
