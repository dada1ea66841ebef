// Package services – CertificateService
//
// This file implements CertificateService, which owns every write to a
// certificate: issuance (single, idempotent, and bulk) and revocation. Each
// write commits the certificate row and its audit record in one transaction;
// afterwards the service deletes the affected cache entries before it
// reports success, so a reader that misses the local layer observes the new
// state on its next lookup.
//
// Observability: public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/signing"
	"github.com/tbourn/go-cert-backend/internal/utils"
)

const (
	// MaxBulkItems caps one bulk issuance.
	MaxBulkItems = 500
	// MaxReasonRunes caps a revocation reason.
	MaxReasonRunes = 500
	// MaxFieldRunes caps recipient names and titles.
	MaxFieldRunes = 255

	// IssueScope is the idempotency scope for single issuance.
	IssueScope = "certificates.issue"

	codePrefix   = "CERT-"
	codeLen      = 10
	codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	codeAttempts = 5

	defaultPageSize = 20
	maxPageSize     = 100
	historyLimit    = 50
)

// Invalidator drops cached state derived from certificates. The HTTP layer
// implements it over the distributed cache because it owns the response
// cache key layout.
type Invalidator interface {
	// InvalidateCertificate drops every entry keyed by the public code.
	InvalidateCertificate(ctx context.Context, certificateID string) error
	// InvalidateListings drops cached certificate listings.
	InvalidateListings(ctx context.Context) error
}

// IssueRequest is one certificate to issue.
type IssueRequest struct {
	RecipientName string     `json:"recipient_name" example:"Ada Lovelace"`
	Title         string     `json:"title"          example:"Analytical Engines 101"`
	IssueDate     *time.Time `json:"issue_date,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
}

// IssueResult is the outcome of Issue. Replayed is true when an earlier
// request with the same idempotency key already issued the certificate.
type IssueResult struct {
	Certificate *domain.Certificate
	Replayed    bool
}

// ListFilter narrows List. Status is one of the domain statuses or empty.
type ListFilter struct {
	Status string
}

// History is the audit trail and recent verifications of one certificate.
type History struct {
	CertificateID string                   `json:"certificate_id"`
	Audit         []domain.AuditRecord     `json:"audit"`
	Verifications []domain.VerificationLog `json:"verifications"`
}

// CertificateService coordinates certificate persistence, signing, auditing
// and cache invalidation.
type CertificateService struct {
	DB          *gorm.DB
	Signer      *signing.Signer
	Audit       *audit.Logger
	Invalidator Invalidator

	// IdempotencyTTL bounds how long an Idempotency-Key replays its result.
	IdempotencyTTL time.Duration

	// Now and NewCode are overridable in tests.
	Now     func() time.Time
	NewCode func() string
}

// NewCertificateService constructs a CertificateService with default clock,
// code generator and a 24h idempotency window.
func NewCertificateService(db *gorm.DB, signer *signing.Signer, auditLog *audit.Logger, inv Invalidator) *CertificateService {
	return &CertificateService{
		DB:             db,
		Signer:         signer,
		Audit:          auditLog,
		Invalidator:    inv,
		IdempotencyTTL: 24 * time.Hour,
		Now:            func() time.Time { return time.Now().UTC() },
		NewCode:        NewCertificateCode,
	}
}

// NewCertificateCode returns a random public code such as CERT-7Q2K9XW4ZD.
func NewCertificateCode() string {
	u := uuid.New()
	// Bytes 6 and 8 carry the UUID version and variant bits.
	src := append(append([]byte{}, u[0:6]...), u[10:14]...)
	var b strings.Builder
	b.Grow(len(codePrefix) + codeLen)
	b.WriteString(codePrefix)
	for _, v := range src {
		b.WriteByte(codeAlphabet[v&31])
	}
	return b.String()
}

func tracer() trace.Tracer { return otel.Tracer("services/CertificateService") }

// Issue creates one active certificate on behalf of actor.
//
// When idempotencyKey is non-empty, the key→certificate mapping is stored in
// the same transaction as the certificate; a retry within IdempotencyTTL
// returns the original certificate with Replayed set.
func (s *CertificateService) Issue(ctx context.Context, actor domain.Actor, req IssueRequest, idempotencyKey string) (*IssueResult, error) {
	ctx, span := tracer().Start(ctx, "Issue", trace.WithAttributes(attribute.String("actor.id", actor.ID)))
	defer span.End()

	if err := requireIssuer(actor); err != nil {
		return nil, err
	}
	now := s.Now()
	if problems := validateIssue(&req, now, ""); len(problems) > 0 {
		return nil, ErrInvalidCertificate.WithDetails(problems...)
	}

	if idempotencyKey != "" {
		if res, ok, err := s.replay(ctx, actor, idempotencyKey, now); err != nil || ok {
			return res, err
		}
	}

	var (
		cert *domain.Certificate
		rec  *domain.AuditRecord
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cert, rec, err = s.issueTx(ctx, tx, actor, req, now)
		if err != nil {
			return err
		}
		if idempotencyKey != "" {
			_, err = repo.CreateIdempotency(ctx, tx, actor.ID, IssueScope, idempotencyKey, cert.CertificateID, now, s.IdempotencyTTL)
		}
		return err
	})
	if errors.Is(err, repo.ErrDuplicate) && idempotencyKey != "" {
		// A concurrent request with the same key committed first.
		if res, ok, rerr := s.replay(ctx, actor, idempotencyKey, now); rerr != nil || ok {
			return res, rerr
		}
	}
	if err != nil {
		return nil, err
	}

	s.afterIssue(ctx, *rec)
	span.SetAttributes(attribute.String("certificate.id", cert.CertificateID))
	return &IssueResult{Certificate: withEffectiveStatus(cert, now)}, nil
}

// BulkIssue creates all requested certificates in one transaction: either
// every certificate is issued or none is.
func (s *CertificateService) BulkIssue(ctx context.Context, actor domain.Actor, reqs []IssueRequest) ([]domain.Certificate, error) {
	ctx, span := tracer().Start(ctx, "BulkIssue", trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.Int("bulk.size", len(reqs)),
	))
	defer span.End()

	if err := requireIssuer(actor); err != nil {
		return nil, err
	}
	if len(reqs) == 0 || len(reqs) > MaxBulkItems {
		return nil, ErrBulkSize
	}
	now := s.Now()
	var problems []string
	for i := range reqs {
		problems = append(problems, validateIssue(&reqs[i], now, fmt.Sprintf("items[%d].", i))...)
	}
	if len(problems) > 0 {
		return nil, ErrInvalidCertificate.WithDetails(problems...)
	}

	out := make([]domain.Certificate, 0, len(reqs))
	recs := make([]domain.AuditRecord, 0, len(reqs))
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, req := range reqs {
			cert, rec, err := s.issueTx(ctx, tx, actor, req, now)
			if err != nil {
				return err
			}
			out = append(out, *withEffectiveStatus(cert, now))
			recs = append(recs, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterIssue(ctx, recs...)
	return out, nil
}

// Get returns the certificate with the given public code, with its status
// resolved at the current time.
func (s *CertificateService) Get(ctx context.Context, actor domain.Actor, code string) (*domain.Certificate, error) {
	if actor.Anonymous() {
		return nil, ErrNotAuthorized
	}
	id, err := NormalizeIdentifier(code)
	if err != nil {
		return nil, err
	}
	cert, err := repo.GetCertificateByCode(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, err
	}
	return withEffectiveStatus(cert, s.Now()), nil
}

// List returns a page of certificates visible to actor and the total count.
// Issuers see what they issued; administrators and viewers see everything.
func (s *CertificateService) List(ctx context.Context, actor domain.Actor, f ListFilter, page, pageSize int) ([]domain.Certificate, int64, error) {
	ctx, span := tracer().Start(ctx, "List", trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	))
	defer span.End()

	if actor.Anonymous() {
		return nil, 0, ErrNotAuthorized
	}
	now := s.Now()
	filter := repo.CertificateFilter{Now: now}
	if f.Status != "" {
		st := domain.CertificateStatus(strings.ToLower(strings.TrimSpace(f.Status)))
		if !st.Valid() {
			return nil, 0, ErrInvalidFilter.WithDetails("status must be one of active, revoked, expired")
		}
		filter.Status = st
	}
	if actor.Role == domain.RoleIssuer {
		filter.IssuedBy = actor.ID
	}
	_, pageSize, offset := utils.PageBounds(page, pageSize, defaultPageSize, maxPageSize)

	total, err := repo.CountCertificates(ctx, s.DB, filter)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Certificate{}, 0, nil
	}
	items, err := repo.ListCertificatesPage(ctx, s.DB, filter, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Status = EffectiveStatus(&items[i], now)
	}
	return items, total, nil
}

// Revoke moves an active certificate to revoked.
//
// The actor must be an administrator or the certificate's issuer. The
// conditional update and the audit record commit together; a concurrent
// revocation that wins the race makes this one fail with ErrAlreadyRevoked.
// Cache entries for the certificate are deleted before Revoke returns.
func (s *CertificateService) Revoke(ctx context.Context, actor domain.Actor, code, reason string) (*domain.Certificate, error) {
	ctx, span := tracer().Start(ctx, "Revoke", trace.WithAttributes(
		attribute.String("actor.id", actor.ID),
		attribute.String("certificate.id", code),
	))
	defer span.End()

	if actor.Anonymous() {
		return nil, ErrNotAuthorized
	}
	reason = strings.TrimSpace(reason)
	if reason == "" || utf8.RuneCountInString(reason) > MaxReasonRunes {
		return nil, ErrRevocationReason
	}
	id, err := NormalizeIdentifier(code)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	var (
		cert *domain.Certificate
		rec  *domain.AuditRecord
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetCertificateByCode(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCertificateNotFound
		}
		if err != nil {
			return err
		}
		if !CanRevoke(actor, c) {
			return ErrForbidden
		}
		if err := Transition(EffectiveStatus(c, now), domain.StatusRevoked); err != nil {
			return err
		}
		if err := repo.MarkRevoked(ctx, tx, c.CertificateID, reason, actor.ID, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrAlreadyRevoked
			}
			return err
		}

		meta, _ := json.Marshal(map[string]string{
			"reason":          reason,
			"previous_status": string(domain.StatusActive),
		})
		rec = &domain.AuditRecord{
			Action:     domain.ActionCertificateRevoked,
			EntityID:   c.CertificateID,
			EntityType: domain.EntityCertificate,
			ActorID:    actor.ID,
			Metadata:   meta,
			CreatedAt:  now,
		}
		if err := s.Audit.RecordTransition(ctx, tx, rec); err != nil {
			return err
		}

		c.Status = domain.StatusRevoked
		c.RevocationReason = &reason
		c.RevokedAt = &now
		c.RevokedBy = &actor.ID
		c.UpdatedAt = now
		cert = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Invalidator != nil {
		if err := s.Invalidator.InvalidateCertificate(ctx, cert.CertificateID); err != nil {
			log.Error().Err(err).Str("certificate_id", cert.CertificateID).Msg("revoke: cache invalidation failed")
		}
		if err := s.Invalidator.InvalidateListings(ctx); err != nil {
			log.Error().Err(err).Msg("revoke: listing invalidation failed")
		}
	}
	s.Audit.Published(*rec)
	return cert, nil
}

// History returns the audit trail and the most recent verification attempts
// of a certificate. Administrators may read any history, issuers only their
// own certificates'.
func (s *CertificateService) History(ctx context.Context, actor domain.Actor, code string) (*History, error) {
	cert, err := s.Get(ctx, actor, code)
	if err != nil {
		return nil, err
	}
	if !CanRevoke(actor, cert) {
		return nil, ErrForbidden
	}
	recs, err := repo.ListAuditRecords(ctx, s.DB, domain.EntityCertificate, cert.CertificateID)
	if err != nil {
		return nil, err
	}
	logs, err := repo.ListVerificationLogs(ctx, s.DB, cert.CertificateID, historyLimit)
	if err != nil {
		return nil, err
	}
	return &History{CertificateID: cert.CertificateID, Audit: recs, Verifications: logs}, nil
}

// issueTx inserts one signed certificate and its audit record using tx.
// Code collisions are retried with a fresh code.
func (s *CertificateService) issueTx(ctx context.Context, tx *gorm.DB, actor domain.Actor, req IssueRequest, now time.Time) (*domain.Certificate, *domain.AuditRecord, error) {
	issued := now
	if req.IssueDate != nil {
		issued = req.IssueDate.UTC()
	}
	var expiry *time.Time
	if req.ExpiryDate != nil {
		e := req.ExpiryDate.UTC()
		expiry = &e
	}

	var cert *domain.Certificate
	for attempt := 0; ; attempt++ {
		c := &domain.Certificate{
			CertificateID: s.NewCode(),
			RecipientName: req.RecipientName,
			Title:         req.Title,
			IssuedBy:      actor.ID,
			Status:        domain.StatusActive,
			IssueDate:     issued,
			ExpiryDate:    expiry,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.Signer.Seal(c)
		err := repo.CreateCertificate(ctx, tx, c)
		if err == nil {
			cert = c
			break
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, nil, err
		}
		if attempt+1 >= codeAttempts {
			return nil, nil, fmt.Errorf("certificate code space exhausted after %d attempts", codeAttempts)
		}
	}

	meta, _ := json.Marshal(map[string]string{
		"recipient_name": cert.RecipientName,
		"title":          cert.Title,
	})
	rec := &domain.AuditRecord{
		Action:     domain.ActionCertificateIssued,
		EntityID:   cert.CertificateID,
		EntityType: domain.EntityCertificate,
		ActorID:    actor.ID,
		Metadata:   meta,
		CreatedAt:  now,
	}
	if err := s.Audit.RecordTransition(ctx, tx, rec); err != nil {
		return nil, nil, err
	}
	return cert, rec, nil
}

func (s *CertificateService) replay(ctx context.Context, actor domain.Actor, key string, now time.Time) (*IssueResult, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.DB, actor.ID, IssueScope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	cert, err := repo.GetCertificateByCode(ctx, s.DB, rec.CertificateID)
	if err != nil {
		return nil, false, err
	}
	return &IssueResult{Certificate: withEffectiveStatus(cert, now), Replayed: true}, true, nil
}

func (s *CertificateService) afterIssue(ctx context.Context, recs ...domain.AuditRecord) {
	if s.Invalidator != nil {
		if err := s.Invalidator.InvalidateListings(ctx); err != nil {
			log.Error().Err(err).Msg("issue: listing invalidation failed")
		}
	}
	s.Audit.Published(recs...)
}

func requireIssuer(actor domain.Actor) error {
	if actor.Anonymous() {
		return ErrNotAuthorized
	}
	if !CanIssue(actor) {
		return ErrForbidden
	}
	return nil
}

// validateIssue normalizes req in place and returns one message per problem,
// each prefixed with prefix.
func validateIssue(req *IssueRequest, now time.Time, prefix string) []string {
	var problems []string
	req.RecipientName = normalizeText(req.RecipientName)
	req.Title = normalizeText(req.Title)

	switch n := utf8.RuneCountInString(req.RecipientName); {
	case n == 0:
		problems = append(problems, prefix+"recipient_name is required")
	case n > MaxFieldRunes:
		problems = append(problems, fmt.Sprintf("%srecipient_name must be at most %d characters", prefix, MaxFieldRunes))
	}
	switch n := utf8.RuneCountInString(req.Title); {
	case n == 0:
		problems = append(problems, prefix+"title is required")
	case n > MaxFieldRunes:
		problems = append(problems, fmt.Sprintf("%stitle must be at most %d characters", prefix, MaxFieldRunes))
	}

	issued := now
	if req.IssueDate != nil {
		issued = *req.IssueDate
	}
	if req.ExpiryDate != nil && !req.ExpiryDate.After(issued) {
		problems = append(problems, prefix+"expiry_date must be after issue_date")
	}
	return problems
}

// withEffectiveStatus replaces the stored status with the one observed at now.
func withEffectiveStatus(c *domain.Certificate, now time.Time) *domain.Certificate {
	c.Status = EffectiveStatus(c, now)
	return c
}
