package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

// CreateAuditRecord appends rec. Call it with the transaction handle of the
// change being audited so both commit or roll back together.
func CreateAuditRecord(ctx context.Context, db *gorm.DB, rec *domain.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.Metadata) == 0 {
		rec.Metadata = []byte("{}")
	}
	return db.WithContext(ctx).Create(rec).Error
}

// ListAuditRecords returns the audit trail of one entity, oldest first.
func ListAuditRecords(ctx context.Context, db *gorm.DB, entityType, entityID string) ([]domain.AuditRecord, error) {
	var out []domain.AuditRecord
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
