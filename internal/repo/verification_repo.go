package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

// CreateVerificationLog appends one verification attempt.
func CreateVerificationLog(ctx context.Context, db *gorm.DB, e *domain.VerificationLog) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListVerificationLogs returns the most recent attempts for a certificate code.
func ListVerificationLogs(ctx context.Context, db *gorm.DB, code string, limit int) ([]domain.VerificationLog, error) {
	var out []domain.VerificationLog
	err := db.WithContext(ctx).
		Where("certificate_id = ?", code).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}
