package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/repo"
)

// spyCache counts calls so tests can prove rejected input never reaches it.
type spyCache struct {
	mu   sync.Mutex
	next ResultCache
	gets int
	sets int
	ttls []time.Duration
}

func (s *spyCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.next.GetJSON(ctx, key, dst)
}

func (s *spyCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	s.mu.Lock()
	s.sets++
	s.ttls = append(s.ttls, ttl)
	s.mu.Unlock()
	return s.next.SetJSON(ctx, key, v, ttl)
}

func countLogs(t *testing.T, f *fixture, id string) int {
	t.Helper()
	logs, err := repo.ListVerificationLogs(context.Background(), f.db, id, 1000)
	if err != nil {
		t.Fatalf("ListVerificationLogs: %v", err)
	}
	return len(logs)
}

func TestNormalizeIdentifier(t *testing.T) {
	ok := []struct{ in, want string }{
		{"CERT-001", "CERT-001"},
		{"  cert-001\t", "CERT-001"},
		{"ＣＥＲＴ－００１", "CERT-001"},
		{"abc", "ABC"},
		{"A_B-C", "A_B-C"},
	}
	for _, tc := range ok {
		got, err := NormalizeIdentifier(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("NormalizeIdentifier(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}

	bad := []string{
		"",
		"ab",
		"-CERT",
		"CERT 001",
		"CERT-001' OR 1=1",
		"CERT--001",
		"CERT-001;DROP TABLE certificates",
		"<script>alert(1)</script>",
		"CERT/*x*/001",
		"UNION SELECT",
		strings.Repeat("A", 65),
		strings.Repeat("A", 400),
	}
	for _, in := range bad {
		if _, err := NormalizeIdentifier(in); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("NormalizeIdentifier(%q) should fail, got %v", in, err)
		}
	}
}

func TestVerify_RejectsMaliciousInputBeforeCacheOrStore(t *testing.T) {
	f := newFixture(t)
	spy := &spyCache{next: f.cache}
	f.verify.Cache = spy

	for _, in := range []string{"CERT-1' OR '1'='1", "<script>x</script>", "a;b"} {
		if _, err := f.verify.Verify(context.Background(), in, "1.2.3.4"); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("Verify(%q) = %v", in, err)
		}
	}
	if spy.gets != 0 || spy.sets != 0 {
		t.Fatalf("rejected identifiers must not touch the cache: gets=%d sets=%d", spy.gets, spy.sets)
	}
	var n int64
	f.db.Model(&domain.VerificationLog{}).Count(&n)
	if n != 0 {
		t.Fatalf("rejected identifiers must not be logged, got %d rows", n)
	}
}

func TestVerify_IssueRevokeScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certs.NewCode = codes("CERT-001")
	c := f.issue(t, issuer, IssueRequest{})
	if c.CertificateID != "CERT-001" {
		t.Fatalf("unexpected code %s", c.CertificateID)
	}

	res, err := f.verify.Verify(ctx, "cert-001", "10.0.0.1")
	if err != nil || !res.Valid || res.Reason != "" || res.Certificate == nil {
		t.Fatalf("fresh certificate should verify: %+v, %v", res, err)
	}
	if res.CacheTTL != time.Hour {
		t.Fatalf("certificate without expiry caches for the full TTL, got %v", res.CacheTTL)
	}

	// Served from the cache now.
	if res, _ = f.verify.Verify(ctx, "CERT-001", "10.0.0.1"); !res.Valid {
		t.Fatalf("cached verification should still be valid")
	}

	if _, err := f.certs.Revoke(ctx, admin, "CERT-001", "fraud"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	res, err = f.verify.Verify(ctx, "CERT-001", "10.0.0.1")
	if err != nil || res.Valid || res.Reason != ReasonRevoked {
		t.Fatalf("verification right after revocation must report revoked: %+v, %v", res, err)
	}
	if res.Certificate.RevocationReason == nil || *res.Certificate.RevocationReason != "fraud" {
		t.Fatalf("revocation reason not exposed: %+v", res.Certificate)
	}

	if _, err := f.certs.Revoke(ctx, admin, "CERT-001", "fraud"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("re-revoke must conflict, got %v", err)
	}
	if n := countLogs(t, f, "CERT-001"); n != 3 {
		t.Fatalf("every verification is logged, cache hits included: got %d", n)
	}
}

func TestVerify_WithoutInvalidationStaysStaleAtMostOneTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.issue(t, issuer, IssueRequest{})
	f.certs.Invalidator = nil

	if res, _ := f.verify.Verify(ctx, c.CertificateID, ""); !res.Valid {
		t.Fatalf("expected valid")
	}
	if _, err := f.certs.Revoke(ctx, admin, c.CertificateID, "lost delete"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if res, _ := f.verify.Verify(ctx, c.CertificateID, ""); !res.Valid {
		t.Fatalf("without the delete the cached result is served until it expires")
	}
	f.clock.Advance(time.Hour)
	if res, _ := f.verify.Verify(ctx, c.CertificateID, ""); res.Valid || res.Reason != ReasonRevoked {
		t.Fatalf("after one TTL the revocation must be visible, got %+v", res)
	}
}

func TestVerify_SignatureMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.issue(t, issuer, IssueRequest{})

	if err := f.db.Model(&domain.Certificate{}).Where("certificate_id = ?", c.CertificateID).
		Update("title", "Forged Degree").Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	res, err := f.verify.Verify(ctx, c.CertificateID, "")
	if err != nil || res.Valid || res.Reason != ReasonSignatureMismatch {
		t.Fatalf("tampered certificate: %+v, %v", res, err)
	}
}

func TestVerify_ExpiryBoundsValidityAndCacheTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spy := &spyCache{next: f.cache}
	f.verify.Cache = spy

	expiry := f.clock.Now().Add(10 * time.Minute)
	c := f.issue(t, issuer, IssueRequest{ExpiryDate: &expiry})

	res, err := f.verify.Verify(ctx, c.CertificateID, "")
	if err != nil || !res.Valid {
		t.Fatalf("expected valid before expiry: %+v, %v", res, err)
	}
	if len(spy.ttls) != 1 || spy.ttls[0] != 10*time.Minute {
		t.Fatalf("valid result must not be cached past expiry, ttls=%v", spy.ttls)
	}

	f.clock.Advance(10 * time.Minute)
	res, err = f.verify.Verify(ctx, c.CertificateID, "")
	if err != nil || res.Valid || res.Reason != ReasonExpired {
		t.Fatalf("expected expired at the expiry instant: %+v, %v", res, err)
	}
	if res.Certificate.Status != domain.StatusExpired {
		t.Fatalf("summary should carry the effective status, got %s", res.Certificate.Status)
	}
}

func TestVerify_NotFoundIsLoggedButNotCached(t *testing.T) {
	f := newFixture(t)
	spy := &spyCache{next: f.cache}
	f.verify.Cache = spy

	for i := 0; i < 2; i++ {
		res, err := f.verify.Verify(context.Background(), "CERT-GHOST", "9.9.9.9")
		if err != nil || res.Valid || res.Reason != ReasonNotFound || res.Certificate != nil {
			t.Fatalf("unknown certificate: %+v, %v", res, err)
		}
	}
	if spy.sets != 0 || spy.gets != 2 {
		t.Fatalf("not_found must not be cached: gets=%d sets=%d", spy.gets, spy.sets)
	}
	if n := countLogs(t, f, "CERT-GHOST"); n != 2 {
		t.Fatalf("expected 2 log rows, got %d", n)
	}
}

func TestRecordServed_AppendsLogWithoutTouchingCache(t *testing.T) {
	f := newFixture(t)
	spy := &spyCache{next: f.cache}
	f.verify.Cache = spy

	f.verify.RecordServed(context.Background(), &VerificationResult{CertificateID: "CERT-SERVED", Valid: true}, "1.2.3.4")
	f.verify.RecordServed(context.Background(), &VerificationResult{CertificateID: "CERT-SERVED", Reason: ReasonRevoked}, "1.2.3.4")
	f.verify.RecordServed(context.Background(), nil, "1.2.3.4")

	if spy.gets != 0 || spy.sets != 0 {
		t.Fatalf("served results must not touch the result cache: gets=%d sets=%d", spy.gets, spy.sets)
	}
	logs, err := repo.ListVerificationLogs(context.Background(), f.db, "CERT-SERVED", 10)
	if err != nil {
		t.Fatalf("ListVerificationLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log rows, got %d", len(logs))
	}
	var valid, revoked int
	for _, l := range logs {
		switch {
		case l.Valid:
			valid++
		case l.Reason == ReasonRevoked:
			revoked++
		}
		if l.CallerIP != "1.2.3.4" {
			t.Fatalf("caller ip = %q", l.CallerIP)
		}
	}
	if valid != 1 || revoked != 1 {
		t.Fatalf("unexpected outcomes: valid=%d revoked=%d", valid, revoked)
	}
}
