// Package services – VerificationService
//
// VerificationService resolves a public certificate identifier to a
// verification result. The identifier is normalized and checked against an
// allow-listed shape before anything else is touched; a rejected identifier
// never reaches the cache or the store.
//
// Results are cached under "verify:<ID>". A valid result is cached no longer
// than the certificate's remaining validity, so a cached answer never
// outlives the certificate's expiry date. Revocation deletes the key (see
// CertificateService.Revoke), which bounds staleness for the unlucky
// interleaving to one TTL.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/signing"
)

// Verification reasons.
const (
	ReasonRevoked           = "revoked"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonExpired           = "expired"
	ReasonNotFound          = "not_found"
)

// maxRawIdentifier bounds the input examined by NormalizeIdentifier.
const maxRawIdentifier = 256

var (
	identifierRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{2,63}$`)
	// injectionRE catches SQL metacharacters and script tags, including the
	// "--" comment sequence that the shape pattern alone would admit.
	injectionRE = regexp.MustCompile(`(?i)(--|/\*|\*/|;|'|"|<\s*/?\s*script|\bunion\s+select\b|\bdrop\s+table\b|\bor\s+1\s*=\s*1\b)`)
	spaceRE     = regexp.MustCompile(`\s+`)
)

var verificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "certificate_verifications_total",
		Help: "Verification outcomes by result and cache layer.",
	},
	[]string{"outcome", "source"},
)

func init() {
	prometheus.MustRegister(verificationsTotal)
}

// NormalizeIdentifier canonicalizes a public identifier (NFKC, trimmed,
// upper-cased) and validates its shape. Anything else yields
// ErrInvalidIdentifier.
func NormalizeIdentifier(raw string) (string, error) {
	if len(raw) > maxRawIdentifier {
		return "", ErrInvalidIdentifier.WithDetails("identifier is too long")
	}
	// Casers carry state and are not shared between goroutines.
	id := cases.Upper(language.Und).String(strings.TrimSpace(norm.NFKC.String(raw)))
	if injectionRE.MatchString(id) {
		return "", ErrInvalidIdentifier.WithDetails("identifier contains forbidden characters")
	}
	if !identifierRE.MatchString(id) {
		return "", ErrInvalidIdentifier.WithDetails("identifier must be 3-64 letters, digits, '-' or '_'")
	}
	return id, nil
}

// VerifyCacheKey is the cache key of a verification result.
func VerifyCacheKey(id string) string { return "verify:" + id }

// normalizeText applies NFKC, trims and collapses inner whitespace.
func normalizeText(s string) string {
	return spaceRE.ReplaceAllString(strings.TrimSpace(norm.NFKC.String(s)), " ")
}

// CertificateSummary is the public projection returned by verification.
type CertificateSummary struct {
	CertificateID    string                   `json:"certificate_id"`
	RecipientName    string                   `json:"recipient_name"`
	Title            string                   `json:"title"`
	Status           domain.CertificateStatus `json:"status"`
	IssueDate        time.Time                `json:"issue_date"`
	ExpiryDate       *time.Time               `json:"expiry_date,omitempty"`
	RevocationReason *string                  `json:"revocation_reason,omitempty"`
	RevokedAt        *time.Time               `json:"revoked_at,omitempty"`
}

// VerificationResult is the outcome of one verification. Reason is empty
// when Valid is true.
type VerificationResult struct {
	CertificateID string              `json:"certificate_id"`
	Valid         bool                `json:"valid"`
	Reason        string              `json:"reason,omitempty"`
	Certificate   *CertificateSummary `json:"certificate,omitempty"`
	CheckedAt     time.Time           `json:"checked_at"`

	// CacheTTL is how long this result may be served from a cache. Zero
	// means it must not be cached.
	CacheTTL time.Duration `json:"-"`
}

// ResultCache is the subset of the distributed cache used for results.
type ResultCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// VerificationService verifies certificates cache-first.
type VerificationService struct {
	DB     *gorm.DB
	Cache  ResultCache
	Signer *signing.Signer
	Audit  *audit.Logger

	// TTL is the upper bound for cached results.
	TTL time.Duration
	Now func() time.Time
}

// NewVerificationService constructs a VerificationService with a 1h result TTL.
func NewVerificationService(db *gorm.DB, c ResultCache, signer *signing.Signer, auditLog *audit.Logger) *VerificationService {
	return &VerificationService{
		DB:     db,
		Cache:  c,
		Signer: signer,
		Audit:  auditLog,
		TTL:    time.Hour,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Verify resolves raw to a verification result.
//
// A malformed identifier returns ErrInvalidIdentifier. Every verification of
// a well-formed identifier appends a verification log row, whether it was
// answered from the cache or the store. An invalid certificate is a result,
// not an error.
func (s *VerificationService) Verify(ctx context.Context, raw, callerIP string) (*VerificationResult, error) {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "Verify")
	defer span.End()

	id, err := NormalizeIdentifier(raw)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("certificate.id", id))
	key := VerifyCacheKey(id)
	now := s.Now()

	if s.Cache != nil {
		var cached VerificationResult
		hit, err := s.Cache.GetJSON(ctx, key, &cached)
		if err != nil {
			log.Warn().Err(err).Str("certificate_id", id).Msg("verify: cache read failed")
		}
		if hit && err == nil {
			cached.CacheTTL = s.ttlFor(&cached, now)
			s.record(ctx, &cached, callerIP, "cache", span)
			return &cached, nil
		}
	}

	cert, err := repo.GetCertificateByCode(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		cert = nil
	} else if err != nil {
		return nil, err
	}

	res := s.evaluate(id, cert, now)
	s.record(ctx, res, callerIP, "store", span)

	if s.Cache != nil && res.CacheTTL > 0 {
		if err := s.Cache.SetJSON(ctx, key, res, res.CacheTTL); err != nil {
			log.Warn().Err(err).Str("certificate_id", id).Msg("verify: cache write failed")
		}
	}
	return res, nil
}

// RecordServed logs a verification that was answered from a cached HTTP
// response without reaching Verify.
func (s *VerificationService) RecordServed(ctx context.Context, res *VerificationResult, callerIP string) {
	ctx, span := otel.Tracer("services/VerificationService").Start(ctx, "RecordServed")
	defer span.End()
	if res == nil || res.CertificateID == "" {
		return
	}
	span.SetAttributes(attribute.String("certificate.id", res.CertificateID))
	s.record(ctx, res, callerIP, "response_cache", span)
}

// evaluate decides validity for cert (nil when not found). The checks run in
// order: revoked, signature, expiry.
func (s *VerificationService) evaluate(id string, cert *domain.Certificate, now time.Time) *VerificationResult {
	res := &VerificationResult{CertificateID: id, CheckedAt: now}
	if cert == nil {
		res.Reason = ReasonNotFound
		return res
	}

	status := EffectiveStatus(cert, now)
	switch {
	case status == domain.StatusRevoked:
		res.Reason = ReasonRevoked
	case !s.Signer.Intact(cert):
		res.Reason = ReasonSignatureMismatch
	case status == domain.StatusExpired:
		res.Reason = ReasonExpired
	default:
		res.Valid = true
	}
	res.Certificate = &CertificateSummary{
		CertificateID:    cert.CertificateID,
		RecipientName:    cert.RecipientName,
		Title:            cert.Title,
		Status:           status,
		IssueDate:        cert.IssueDate,
		ExpiryDate:       cert.ExpiryDate,
		RevocationReason: cert.RevocationReason,
		RevokedAt:        cert.RevokedAt,
	}
	res.CacheTTL = s.ttlFor(res, now)
	return res
}

// ttlFor returns how long res may be cached from now on.
func (s *VerificationService) ttlFor(res *VerificationResult, now time.Time) time.Duration {
	if res.Reason == ReasonNotFound {
		return 0
	}
	ttl := s.TTL
	if res.Valid && res.Certificate != nil && res.Certificate.ExpiryDate != nil {
		if left := res.Certificate.ExpiryDate.Sub(now); left < ttl {
			ttl = left
		}
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

func (s *VerificationService) record(ctx context.Context, res *VerificationResult, callerIP, source string, span trace.Span) {
	outcome := "valid"
	if !res.Valid {
		outcome = res.Reason
	}
	verificationsTotal.WithLabelValues(outcome, source).Inc()
	span.SetAttributes(attribute.String("verification.outcome", outcome), attribute.String("verification.source", source))

	if s.Audit != nil {
		s.Audit.RecordVerification(ctx, &domain.VerificationLog{
			CertificateID: res.CertificateID,
			CallerIP:      callerIP,
			Valid:         res.Valid,
			Reason:        res.Reason,
			CreatedAt:     s.Now(),
		})
	}
}
