// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Certificate model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. Every query is parameterized; callers
// never splice identifiers or filter values into SQL text.
//
// Error semantics:
//   - A missing certificate yields ErrNotFound.
//   - A duplicate public code yields ErrDuplicate.
//   - MarkRevoked returns ErrNotFound when no active row matched, which the
//     service layer treats as a lost race against a concurrent transition.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

// CertificateFilter narrows certificate listings. Zero values mean "any".
// Status filters on the effective status, so "expired" and "active" are
// resolved against ExpiryDate at Now.
type CertificateFilter struct {
	IssuedBy string
	Status   domain.CertificateStatus
	Now      time.Time
}

func (f CertificateFilter) apply(q *gorm.DB) *gorm.DB {
	if f.IssuedBy != "" {
		q = q.Where("issued_by = ?", f.IssuedBy)
	}
	now := f.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	switch f.Status {
	case domain.StatusActive:
		q = q.Where("status = ? AND (expiry_date IS NULL OR expiry_date > ?)", domain.StatusActive, now)
	case domain.StatusExpired:
		q = q.Where("status = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", domain.StatusActive, now)
	case domain.StatusRevoked:
		q = q.Where("status = ?", domain.StatusRevoked)
	}
	return q
}

// CreateCertificate inserts c, assigning a UUID primary key when empty.
func CreateCertificate(ctx context.Context, db *gorm.DB, c *domain.Certificate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.StatusActive
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetCertificateByCode fetches a certificate by its public code.
func GetCertificateByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Certificate, error) {
	var c domain.Certificate
	if err := db.WithContext(ctx).Where("certificate_id = ?", code).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountCertificates returns how many certificates match f.
func CountCertificates(ctx context.Context, db *gorm.DB, f CertificateFilter) (int64, error) {
	var total int64
	err := f.apply(db.WithContext(ctx).Model(&domain.Certificate{})).Count(&total).Error
	return total, err
}

// ListCertificatesPage returns a page of certificates matching f, newest first.
// The caller computes offset and limit (e.g. (page-1)*pageSize).
func ListCertificatesPage(ctx context.Context, db *gorm.DB, f CertificateFilter, offset, limit int) ([]domain.Certificate, error) {
	var out []domain.Certificate
	err := f.apply(db.WithContext(ctx).Model(&domain.Certificate{})).
		Order("created_at desc").
		Order("certificate_id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRevoked flips an active certificate to revoked in a single conditional
// UPDATE. Zero affected rows means the certificate was missing or no longer
// active, and ErrNotFound is returned.
func MarkRevoked(ctx context.Context, db *gorm.DB, code, reason, actorID string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Certificate{}).
		Where("certificate_id = ? AND status = ?", code, domain.StatusActive).
		Updates(map[string]any{
			"status":            domain.StatusRevoked,
			"revocation_reason": reason,
			"revoked_at":        at,
			"revoked_by":        actorID,
			"updated_at":        at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
