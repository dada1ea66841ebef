package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tbourn/go-cert-backend/internal/domain"
)

func newCert(code, issuer string, created time.Time, expiry *time.Time) *domain.Certificate {
	return &domain.Certificate{
		CertificateID: code,
		RecipientName: "Ada Lovelace",
		Title:         "Analytical Engines",
		IssuedBy:      issuer,
		IssueDate:     created,
		ExpiryDate:    expiry,
		Hash:          "00",
		Signature:     "sig",
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestCreateCertificate_AssignsIDAndDetectsDuplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Certificate{})
	ctx := context.Background()
	now := time.Now().UTC()

	c := newCert("CERT-001", "u1", now, nil)
	if err := CreateCertificate(ctx, db, c); err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	if c.ID == "" || c.Status != domain.StatusActive {
		t.Fatalf("expected generated id and active status, got %+v", c)
	}

	if err := CreateCertificate(ctx, db, newCert("CERT-001", "u2", now, nil)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := GetCertificateByCode(ctx, db, "CERT-001")
	if err != nil || got.IssuedBy != "u1" {
		t.Fatalf("GetCertificateByCode = %+v, %v", got, err)
	}
	if _, err := GetCertificateByCode(ctx, db, "CERT-404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCertificateFilter_EffectiveStatus(t *testing.T) {
	db := newRepoDB(t, &domain.Certificate{})
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for i, tc := range []struct {
		issuer string
		expiry *time.Time
	}{
		{"u1", nil},     // active
		{"u1", &future}, // active
		{"u1", &past},   // expired
		{"u2", nil},     // will be revoked
	} {
		c := newCert(fmt.Sprintf("CERT-%03d", i), tc.issuer, now.Add(time.Duration(i)*time.Second), tc.expiry)
		if err := CreateCertificate(ctx, db, c); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	if err := MarkRevoked(ctx, db, "CERT-003", "fraud", "admin", now); err != nil {
		t.Fatalf("MarkRevoked: %v", err)
	}

	cases := []struct {
		f    CertificateFilter
		want int64
	}{
		{CertificateFilter{Now: now}, 4},
		{CertificateFilter{Status: domain.StatusActive, Now: now}, 2},
		{CertificateFilter{Status: domain.StatusExpired, Now: now}, 1},
		{CertificateFilter{Status: domain.StatusRevoked, Now: now}, 1},
		{CertificateFilter{IssuedBy: "u1", Now: now}, 3},
		{CertificateFilter{IssuedBy: "u2", Status: domain.StatusActive, Now: now}, 0},
	}
	for _, tc := range cases {
		n, err := CountCertificates(ctx, db, tc.f)
		if err != nil || n != tc.want {
			t.Fatalf("CountCertificates(%+v) = %d, %v; want %d", tc.f, n, err, tc.want)
		}
	}

	page, err := ListCertificatesPage(ctx, db, CertificateFilter{IssuedBy: "u1", Now: now}, 0, 2)
	if err != nil || len(page) != 2 {
		t.Fatalf("ListCertificatesPage = %d rows, %v", len(page), err)
	}
	if page[0].CertificateID != "CERT-002" || page[1].CertificateID != "CERT-001" {
		t.Fatalf("expected newest first, got %s, %s", page[0].CertificateID, page[1].CertificateID)
	}
}

func TestMarkRevoked_OnlyFromActive(t *testing.T) {
	db := newRepoDB(t, &domain.Certificate{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := CreateCertificate(ctx, db, newCert("CERT-001", "u1", now, nil)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := MarkRevoked(ctx, db, "CERT-001", "fraud", "admin", now); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	got, _ := GetCertificateByCode(ctx, db, "CERT-001")
	if got.Status != domain.StatusRevoked || got.RevocationReason == nil || *got.RevocationReason != "fraud" ||
		got.RevokedBy == nil || *got.RevokedBy != "admin" || got.RevokedAt == nil {
		t.Fatalf("revocation fields not set: %+v", got)
	}

	if err := MarkRevoked(ctx, db, "CERT-001", "again", "admin", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second revoke should match no rows, got %v", err)
	}
	if err := MarkRevoked(ctx, db, "CERT-404", "x", "admin", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing certificate should match no rows, got %v", err)
	}
}
