package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/cache"
	"github.com/tbourn/go-cert-backend/internal/coord"
	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/signing"
)

var (
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	issuer = domain.Actor{ID: "issuer-1", Role: domain.RoleIssuer}
	other  = domain.Actor{ID: "issuer-2", Role: domain.RoleIssuer}
	viewer = domain.Actor{ID: "viewer-1", Role: domain.RoleViewer}
	anon   = domain.Actor{}
)

// newServiceDB opens a private in-memory database. A single connection
// serializes transactions the way SQLite's writer lock would.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// cacheInvalidator drops verification results, the part of invalidation the
// services package itself can observe.
type cacheInvalidator struct {
	mu       sync.Mutex
	c        *cache.Cache
	certs    []string
	listings int
}

func (i *cacheInvalidator) InvalidateCertificate(ctx context.Context, id string) error {
	i.mu.Lock()
	i.certs = append(i.certs, id)
	i.mu.Unlock()
	if i.c == nil {
		return nil
	}
	return i.c.Delete(ctx, VerifyCacheKey(id))
}

func (i *cacheInvalidator) InvalidateListings(context.Context) error {
	i.mu.Lock()
	i.listings++
	i.mu.Unlock()
	return nil
}

func (i *cacheInvalidator) invalidated() ([]string, int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.certs...), i.listings
}

type fixture struct {
	db     *gorm.DB
	clock  *testClock
	signer *signing.Signer
	cache  *cache.Cache
	inv    *cacheInvalidator
	certs  *CertificateService
	verify *VerificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newServiceDB(t)
	clock := newTestClock()
	signer, err := signing.NewSigner("")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	c := cache.New(coord.NewMemory(coord.WithClock(clock.Now)), cache.Options{Now: clock.Now})
	inv := &cacheInvalidator{c: c}
	auditLog := audit.New(db, nil)

	certs := NewCertificateService(db, signer, auditLog, inv)
	certs.Now = clock.Now
	verify := NewVerificationService(db, c, signer, auditLog)
	verify.Now = clock.Now

	return &fixture{db: db, clock: clock, signer: signer, cache: c, inv: inv, certs: certs, verify: verify}
}

func (f *fixture) issue(t *testing.T, actor domain.Actor, req IssueRequest) *domain.Certificate {
	t.Helper()
	if req.RecipientName == "" {
		req.RecipientName = "Ada Lovelace"
	}
	if req.Title == "" {
		req.Title = "Analytical Engines"
	}
	res, err := f.certs.Issue(context.Background(), actor, req, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return res.Certificate
}

// codes returns a generator yielding the given codes in order, then random ones.
func codes(seq ...string) func() string {
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(seq) == 0 {
			return NewCertificateCode()
		}
		c := seq[0]
		seq = seq[1:]
		return c
	}
}
