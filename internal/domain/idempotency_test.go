package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_UniqueKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if !db.Migrator().HasIndex(&Idempotency{}, "ux_user_scope_key") {
		t.Fatalf("expected composite index ux_user_scope_key")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID: "id-1", UserID: "u1", Scope: "certificates.issue", Key: "k1",
		CertificateID: "CERT-001", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.UserID != "u1" || got.Scope != "certificates.issue" || got.CertificateID != "CERT-001" {
		t.Fatalf("unexpected row: %+v", got)
	}

	again := &Idempotency{
		ID: "id-2", UserID: "u1", Scope: "certificates.issue", Key: "k1",
		CertificateID: "CERT-002", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(again).Error; err == nil {
		t.Fatalf("expected UNIQUE violation on (user_id, scope, key)")
	}

	otherScope := &Idempotency{
		ID: "id-3", UserID: "u1", Scope: "certificates.bulk", Key: "k1",
		CertificateID: "CERT-003", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(otherScope).Error; err != nil {
		t.Fatalf("same key in another scope should be allowed: %v", err)
	}
}
