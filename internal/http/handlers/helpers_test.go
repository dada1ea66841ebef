package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-cert-backend/internal/audit"
	"github.com/tbourn/go-cert-backend/internal/cache"
	"github.com/tbourn/go-cert-backend/internal/coord"
	"github.com/tbourn/go-cert-backend/internal/csrf"
	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/http/middleware"
	"github.com/tbourn/go-cert-backend/internal/repo"
	"github.com/tbourn/go-cert-backend/internal/services"
	"github.com/tbourn/go-cert-backend/internal/signing"
)

const testSecret = "handlers-test-secret"

// ---------- test DB + services ----------

func newHandlersDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:cert_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
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

// verifyInvalidator drops cached verification results on revocation.
type verifyInvalidator struct{ c *cache.Cache }

func (v verifyInvalidator) InvalidateCertificate(ctx context.Context, id string) error {
	return v.c.Delete(ctx, services.VerifyCacheKey(id))
}

func (verifyInvalidator) InvalidateListings(context.Context) error { return nil }

type env struct {
	db     *gorm.DB
	cache  *cache.Cache
	certs  *services.CertificateService
	verify *services.VerificationService
	tokens *csrf.Store
	router *gin.Engine
}

// newEnv wires real services behind a bare engine: authentication,
// idempotency keys, the error stage and the handlers, without the rest of
// the pipeline.
func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newHandlersDB(t)
	signer, err := signing.NewSigner("")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	store := coord.NewMemory()
	c := cache.New(store, cache.Options{})
	auditLog := audit.New(db, nil)

	e := &env{
		db:     db,
		cache:  c,
		certs:  services.NewCertificateService(db, signer, auditLog, verifyInvalidator{c}),
		verify: services.NewVerificationService(db, c, signer, auditLog),
		tokens: csrf.New(store, time.Hour),
	}

	h := New(e.certs, e.verify, e.tokens)
	r := gin.New()
	r.Use(
		middleware.Authenticate(testSecret),
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{Scope: services.IssueScope}, nil),
		middleware.Errors(),
	)
	r.GET("/csrf-token", h.CSRFToken)
	r.GET("/certificates", h.ListCertificates)
	r.POST("/certificates", h.IssueCertificate)
	r.POST("/certificates/bulk", h.BulkIssueCertificates)
	r.GET("/certificates/:id", h.GetCertificate)
	r.GET("/certificates/:id/history", h.CertificateHistory)
	r.PATCH("/certificates/:id/revoke", h.RevokeCertificate)
	r.GET("/validate/:id", h.ValidateCertificate)
	r.POST("/validate", h.ValidateCertificateBody)
	r.GET("/reference/statuses", h.Statuses)
	e.router = r
	return e
}

func bearer(t *testing.T, subject string, role domain.Role) string {
	t.Helper()
	tok, err := middleware.SignToken(testSecret, subject, role, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

// call performs a request; body is JSON-encoded unless it is a string.
func (e *env) call(t *testing.T, method, target, auth string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Success || er.Code != code {
		t.Fatalf("unexpected error body: %+v", er)
	}
	return er
}

func issueReq() map[string]any {
	return map[string]any{"recipient_name": "Ada Lovelace", "title": "Analytical Engines 101"}
}

// issue creates a certificate through the API and returns it.
func (e *env) issue(t *testing.T, auth string) *domain.Certificate {
	t.Helper()
	w := e.call(t, http.MethodPost, "/certificates", auth, issueReq())
	if w.Code != http.StatusCreated {
		t.Fatalf("issue status=%d body=%s", w.Code, w.Body.String())
	}
	return decode[CertificateResponse](t, w).Certificate
}
