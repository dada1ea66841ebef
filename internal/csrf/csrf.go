// Package csrf stores per-subject anti-forgery tokens in the shared
// coordination store.
//
// Only the SHA-256 of a token is stored. A subject holds at most one live
// token; issuing again replaces it. Tokens are reusable until they expire
// unless the caller revokes them. Any store failure makes validation fail:
// the store is FailClosed.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/tbourn/go-cert-backend/internal/coord"
	"github.com/tbourn/go-cert-backend/internal/domain"
)

const (
	component  = "csrf"
	tokenBytes = 32
	keyPrefix  = "csrf:"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = time.Hour

// Token is the stored form of an issued token.
type Token struct {
	SubjectID string    `json:"subjectId"`
	TokenHash string    `json:"tokenHash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store issues and validates tokens.
type Store struct {
	store  coord.Client
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithRandom replaces crypto/rand as the token source.
func WithRandom(r io.Reader) Option { return func(s *Store) { s.random = r } }

// New returns a store whose tokens live for ttl (DefaultTTL when <= 0).
func New(store coord.Client, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{store: store, ttl: ttl, now: time.Now, random: rand.Reader}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Policy reports the store's failure policy.
func (s *Store) Policy() coord.FailurePolicy { return coord.FailClosed }

func key(subject string) string {
	if subject == "" {
		subject = domain.AnonymousSubject
	}
	return keyPrefix + subject
}

func hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a fresh token for subject, replacing any previous one, and
// returns the plaintext token. Only its hash is stored.
func (s *Store) Issue(ctx context.Context, subject string) (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", time.Time{}, err
	}
	token := hex.EncodeToString(buf)
	if subject == "" {
		subject = domain.AnonymousSubject
	}
	rec := Token{
		SubjectID: subject,
		TokenHash: hash(token),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.store.Set(ctx, key(subject), raw, s.ttl); err != nil {
		return "", time.Time{}, err
	}
	return token, rec.ExpiresAt, nil
}

// Validate reports whether token is the live token of subject. A missing,
// malformed, mismatched or expired token is (false, nil); a store failure is
// (false, err) and must be treated as a rejection.
func (s *Store) Validate(ctx context.Context, subject, token string) (bool, error) {
	if !wellFormed(token) {
		return false, nil
	}
	raw, ok, err := s.store.Get(ctx, key(subject))
	if err != nil {
		if errors.Is(err, coord.ErrUnavailable) {
			coord.ReportDegraded(component, coord.FailClosed, err)
		}
		return false, err
	}
	if !ok {
		return false, nil
	}
	var rec Token
	if err := json.Unmarshal(raw, &rec); err != nil {
		return false, nil
	}
	if !s.now().Before(rec.ExpiresAt) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(hash(token)), []byte(rec.TokenHash)) == 1, nil
}

// Revoke deletes the live token of subject, if any.
func (s *Store) Revoke(ctx context.Context, subject string) error {
	_, err := s.store.Del(ctx, key(subject))
	return err
}

func wellFormed(token string) bool {
	if len(token) != tokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
