// Package domain defines the persistence models for certificates, their
// verification log and the audit trail. These types are mapped with GORM and
// form the core data layer of the certificate service.
package domain

import (
	"encoding/json"
	"time"
)

// CertificateStatus is the lifecycle state of a certificate.
//
// Only Active and Revoked are ever written to the store. Expired is derived
// from ExpiryDate when a certificate is read (see EffectiveStatus in the
// services package).
type CertificateStatus string

const (
	StatusActive  CertificateStatus = "active"
	StatusRevoked CertificateStatus = "revoked"
	StatusExpired CertificateStatus = "expired"
)

// Statuses lists every status in lifecycle order.
var Statuses = []CertificateStatus{StatusActive, StatusRevoked, StatusExpired}

// Valid reports whether s is a known status.
func (s CertificateStatus) Valid() bool {
	switch s {
	case StatusActive, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s CertificateStatus) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// Certificate is an issued credential identified publicly by CertificateID
// (e.g. "CERT-7Q2K9XW4ZD").
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - CertificateID: public code; unique.
//   - RecipientName / Title: what the certificate attests.
//   - IssuedBy: subject id of the issuing actor; used for revocation rights.
//   - Status: stored lifecycle state (active|revoked).
//   - IssueDate / ExpiryDate: validity window; ExpiryDate is optional.
//   - Hash: hex SHA-256 digest of the canonical certificate projection.
//   - Signature: base64 ed25519 signature over Hash.
//   - RevocationReason / RevokedAt / RevokedBy: set iff Status is revoked.
type Certificate struct {
	ID               string            `json:"id"                          gorm:"type:char(36);primaryKey"`
	CertificateID    string            `json:"certificate_id"              gorm:"type:varchar(64);not null;uniqueIndex:ux_certificates_code"`
	RecipientName    string            `json:"recipient_name"              gorm:"type:varchar(255);not null"`
	Title            string            `json:"title"                       gorm:"type:varchar(255);not null"`
	IssuedBy         string            `json:"issued_by"                   gorm:"type:varchar(64);not null;index:idx_certificates_issuer"`
	Status           CertificateStatus `json:"status"                      gorm:"type:varchar(16);not null;default:'active';index;check:status IN ('active','revoked')"`
	IssueDate        time.Time         `json:"issue_date"                  gorm:"not null"`
	ExpiryDate       *time.Time        `json:"expiry_date,omitempty"`
	Hash             string            `json:"hash"                        gorm:"type:char(64);not null"`
	Signature        string            `json:"signature"                   gorm:"type:text;not null"`
	RevocationReason *string           `json:"revocation_reason,omitempty" gorm:"type:varchar(500)"`
	RevokedAt        *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy        *string           `json:"revoked_by,omitempty"        gorm:"type:varchar(64)"`
	CreatedAt        time.Time         `json:"created_at"                  gorm:"index:idx_certificates_created"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName returns the database table name for Certificate.
func (Certificate) TableName() string { return "certificates" }

// ExpiredAt reports whether the certificate's validity window has closed at now.
// Certificates without an expiry date never expire.
func (c *Certificate) ExpiredAt(now time.Time) bool {
	return c.ExpiryDate != nil && !now.Before(*c.ExpiryDate)
}

// VerificationLog is one append-only row per verification attempt of a
// well-formed identifier. Reason is empty when Valid is true.
type VerificationLog struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	CertificateID string    `json:"certificate_id" gorm:"type:varchar(64);not null;index:idx_verification_cert,priority:1"`
	CallerIP      string    `json:"caller_ip"      gorm:"type:varchar(64);not null;default:''"`
	Valid         bool      `json:"valid"          gorm:"not null"`
	Reason        string    `json:"reason,omitempty" gorm:"type:varchar(32);not null;default:''"`
	CreatedAt     time.Time `json:"timestamp"      gorm:"index:idx_verification_cert,priority:2"`
}

// TableName returns the database table name for VerificationLog.
func (VerificationLog) TableName() string { return "verification_logs" }

// Audit actions and entity types.
const (
	ActionCertificateIssued  = "certificate.issued"
	ActionCertificateRevoked = "certificate.revoked"

	EntityCertificate = "certificate"
)

// AuditRecord is an append-only record of a state transition, written in the
// same transaction as the change it describes.
type AuditRecord struct {
	ID         string          `json:"id"          gorm:"type:char(36);primaryKey"`
	Action     string          `json:"action"      gorm:"type:varchar(64);not null;index"`
	EntityID   string          `json:"entity_id"   gorm:"type:varchar(64);not null;index:idx_audit_entity,priority:2"`
	EntityType string          `json:"entity_type" gorm:"type:varchar(32);not null;index:idx_audit_entity,priority:1"`
	ActorID    string          `json:"actor_id"    gorm:"type:varchar(64);not null"`
	Metadata   json.RawMessage `json:"metadata"    gorm:"type:text"`
	CreatedAt  time.Time       `json:"timestamp"`
}

// TableName returns the database table name for AuditRecord.
func (AuditRecord) TableName() string { return "audit_records" }
