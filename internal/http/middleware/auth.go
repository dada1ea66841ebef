// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity from an HS256 bearer token. Session
// issuance lives elsewhere; this middleware only reads the subject and role
// claims. A missing, malformed, expired or badly signed token leaves the
// request anonymous, and authorization is decided by the services.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

const (
	ctxKeyActor  = "actor"
	ctxKeyUserID = "userID"
)

// Claims is the token payload: the standard subject plus a role.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticate parses "Authorization: Bearer <jwt>" and stores the actor.
// With an empty secret every request is anonymous.
func Authenticate(secret string) gin.HandlerFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		actor := domain.Actor{ID: domain.AnonymousSubject}

		if raw, ok := bearer(c.GetHeader("Authorization")); ok && len(key) > 0 {
			var claims Claims
			_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return key, nil })
			switch {
			case err != nil:
				LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected")
			case claims.Subject == "":
				LoggerFrom(c).Debug().Msg("bearer token without subject")
			default:
				actor = domain.Actor{ID: claims.Subject, Role: domain.Role(strings.ToLower(claims.Role))}
			}
		}

		c.Set(ctxKeyActor, actor)
		if !actor.Anonymous() {
			c.Set(ctxKeyUserID, actor.ID)
		}
		c.Next()
	}
}

// ActorFrom returns the caller stored by Authenticate, or the anonymous actor.
func ActorFrom(c *gin.Context) domain.Actor {
	if v, ok := c.Get(ctxKeyActor); ok {
		if a, ok := v.(domain.Actor); ok {
			return a
		}
	}
	return domain.Actor{ID: domain.AnonymousSubject}
}

// SignToken mints an HS256 token for subject and role. It is used by tests
// and local tooling; production tokens come from the identity provider.
func SignToken(secret, subject string, role domain.Role, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(role), RegisteredClaims: claims}).
		SignedString([]byte(secret))
}

func bearer(h string) (string, bool) {
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}
