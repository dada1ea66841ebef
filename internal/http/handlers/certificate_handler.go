// Package handlers exposes the HTTP API for certificate issuance, revocation
// and verification using Gin.
//
// Handlers bind and shape requests, call the services and write success
// bodies. Failures are passed to the error-handling stage with fail(), so
// every error shares one envelope and status mapping.
//
// Features:
//   - Issuance (single and bulk) with Idempotency-Key replay
//   - Paginated listings with status filter
//   - Revocation with a mandatory reason
//   - Public verification by certificate code
//   - CSRF token issuance and reference data
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/http/middleware"
	"github.com/tbourn/go-cert-backend/internal/services"
	"github.com/tbourn/go-cert-backend/internal/utils"
)

//
// Service interfaces (minimal)
//

// CertificateService is the subset of services.CertificateService used here.
type CertificateService interface {
	Issue(ctx context.Context, actor domain.Actor, req services.IssueRequest, idempotencyKey string) (*services.IssueResult, error)
	BulkIssue(ctx context.Context, actor domain.Actor, reqs []services.IssueRequest) ([]domain.Certificate, error)
	Get(ctx context.Context, actor domain.Actor, code string) (*domain.Certificate, error)
	List(ctx context.Context, actor domain.Actor, f services.ListFilter, page, pageSize int) ([]domain.Certificate, int64, error)
	Revoke(ctx context.Context, actor domain.Actor, code, reason string) (*domain.Certificate, error)
	History(ctx context.Context, actor domain.Actor, code string) (*services.History, error)
}

// Verifier verifies public certificate codes.
type Verifier interface {
	Verify(ctx context.Context, raw, callerIP string) (*services.VerificationResult, error)
	RecordServed(ctx context.Context, res *services.VerificationResult, callerIP string)
}

// TokenIssuer issues CSRF tokens for a subject.
type TokenIssuer interface {
	Issue(ctx context.Context, subject string) (string, time.Time, error)
}

//
// Handlers container
//

// Handlers groups the HTTP handlers and their service dependencies.
type Handlers struct {
	certs  CertificateService
	verify Verifier
	tokens TokenIssuer
}

// New constructs a Handlers.
func New(certs CertificateService, verify Verifier, tokens TokenIssuer) *Handlers {
	return &Handlers{certs: certs, verify: verify, tokens: tokens}
}

//
// DTOs
//

// BulkIssueRequest is the payload for bulk issuance.
type BulkIssueRequest struct {
	Certificates []services.IssueRequest `json:"certificates"`
}

// RevokeRequest is the payload for revocation.
type RevokeRequest struct {
	Reason string `json:"reason" example:"issued to the wrong recipient"`
}

// CertificateResponse wraps a single certificate.
type CertificateResponse struct {
	Success     bool                `json:"success" example:"true"`
	Message     string              `json:"message,omitempty" example:"certificate issued"`
	Certificate *domain.Certificate `json:"certificate"`
	// Replayed is true when an earlier request with the same
	// Idempotency-Key already issued this certificate.
	Replayed bool `json:"replayed,omitempty"`
}

// BulkIssueResponse wraps the certificates created by a bulk issuance.
type BulkIssueResponse struct {
	Success      bool                 `json:"success" example:"true"`
	Message      string               `json:"message" example:"certificates issued"`
	Count        int                  `json:"count" example:"2"`
	Certificates []domain.Certificate `json:"certificates"`
}

// Pagination describes the current page and totals.
type Pagination struct {
	Page       int   `json:"page" example:"1"`
	PageSize   int   `json:"page_size" example:"20"`
	Total      int64 `json:"total" example:"42"`
	TotalPages int   `json:"total_pages" example:"3"`
	HasNext    bool  `json:"has_next" example:"true"`
}

// ListCertificatesResponse wraps a page of certificates.
type ListCertificatesResponse struct {
	Success      bool                 `json:"success" example:"true"`
	Certificates []domain.Certificate `json:"certificates"`
	Pagination   Pagination           `json:"pagination"`
}

// HistoryResponse wraps the audit trail and recent verifications.
type HistoryResponse struct {
	Success       bool                     `json:"success" example:"true"`
	CertificateID string                   `json:"certificate_id" example:"CERT-7Q2K9XW4ZD"`
	Audit         []domain.AuditRecord     `json:"audit"`
	Verifications []domain.VerificationLog `json:"verifications"`
}

// clampPagination reads page/page_size from the query and clamps them.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListCertificates godoc
// @ID          listCertificates
// @Summary     List certificates (paginated)
// @Description Returns a page of certificates visible to the caller. Issuers see the certificates they issued.
// @Tags        Certificates
// @Produce     json
// @Security    BearerAuth
//
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
// @Param       status     query  string  false "Status filter"   Enums(active, revoked, expired)
//
// @Success     200  {object} handlers.ListCertificatesResponse
// @Header      200  {string} X-Cache        "HIT or MISS"
// @Header      200  {string} Cache-Control  "private, max-age=300"
// @Failure     400  {object} handlers.ErrorResponse "Invalid filter"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /certificates [get]
func (h *Handlers) ListCertificates(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.certs.List(c.Request.Context(), middleware.ActorFrom(c),
		services.ListFilter{Status: c.Query("status")}, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListCertificatesResponse{
		Success:      true,
		Certificates: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// IssueCertificate godoc
// @ID          issueCertificate
// @Summary     Issue a certificate
// @Description Issues one signed certificate. Requires the admin or issuer role and a CSRF token.
// @Description With an Idempotency-Key, a retry returns the original certificate with status 200 and replayed=true.
// @Tags        Certificates
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-CSRF-Token     header  string  true  "CSRF token from GET /csrf-token"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    services.IssueRequest  true  "Certificate to issue"
//
// @Success     201  {object}  handlers.CertificateResponse  "Issued"
// @Success     200  {object}  handlers.CertificateResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden or CSRF token invalid"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /certificates [post]
func (h *Handlers) IssueCertificate(c *gin.Context) {
	var req services.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errInvalidJSON)
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.certs.Issue(c.Request.Context(), middleware.ActorFrom(c), req, key)
	if err != nil {
		fail(c, err)
		return
	}

	status, msg := http.StatusCreated, "certificate issued"
	if res.Replayed {
		status, msg = http.StatusOK, "certificate already issued for this Idempotency-Key"
	}
	ok(c, status, CertificateResponse{Success: true, Message: msg, Certificate: res.Certificate, Replayed: res.Replayed})
}

// BulkIssueCertificates godoc
// @ID          bulkIssueCertificates
// @Summary     Issue certificates in bulk
// @Description Issues up to 500 certificates in one transaction: all are issued or none is.
// @Tags        Certificates
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-CSRF-Token  header  string  true  "CSRF token from GET /csrf-token"
// @Param       body          body    handlers.BulkIssueRequest  true  "Certificates to issue"
//
// @Success     201  {object}  handlers.BulkIssueResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid request"
// @Failure     401  {object}  handlers.ErrorResponse  "Authentication required"
// @Failure     403  {object}  handlers.ErrorResponse  "Forbidden or CSRF token invalid"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /certificates/bulk [post]
func (h *Handlers) BulkIssueCertificates(c *gin.Context) {
	var req BulkIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errInvalidJSON)
		return
	}

	certs, err := h.certs.BulkIssue(c.Request.Context(), middleware.ActorFrom(c), req.Certificates)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, BulkIssueResponse{
		Success:      true,
		Message:      "certificates issued",
		Count:        len(certs),
		Certificates: certs,
	})
}

// GetCertificate godoc
// @ID          getCertificate
// @Summary     Get a certificate
// @Description Returns one certificate with its status resolved at request time.
// @Tags        Certificates
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Certificate code"  example(CERT-7Q2K9XW4ZD)
//
// @Success     200  {object} handlers.CertificateResponse
// @Header      200  {string} X-Cache  "HIT or MISS"
// @Failure     400  {object} handlers.ErrorResponse "Malformed identifier"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     404  {object} handlers.ErrorResponse "Certificate not found"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /certificates/{id} [get]
func (h *Handlers) GetCertificate(c *gin.Context) {
	cert, err := h.certs.Get(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, CertificateResponse{Success: true, Certificate: cert})
}

// RevokeCertificate godoc
// @ID          revokeCertificate
// @Summary     Revoke a certificate
// @Description Moves an active certificate to revoked. Admins may revoke any certificate, issuers only their own.
// @Description Cached copies of the certificate and its verification result are dropped before the response is sent.
// @Tags        Certificates
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-CSRF-Token  header  string  true  "CSRF token from GET /csrf-token"
// @Param       id            path    string  true  "Certificate code"  example(CERT-7Q2K9XW4ZD)
// @Param       body          body    handlers.RevokeRequest  true  "Revocation reason"
//
// @Success     200  {object} handlers.CertificateResponse
// @Failure     400  {object} handlers.ErrorResponse "Missing or too long reason"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden or CSRF token invalid"
// @Failure     404  {object} handlers.ErrorResponse "Certificate not found"
// @Failure     409  {object} handlers.ErrorResponse "Already revoked or expired"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /certificates/{id}/revoke [patch]
func (h *Handlers) RevokeCertificate(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errInvalidJSON)
		return
	}

	cert, err := h.certs.Revoke(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, CertificateResponse{Success: true, Message: "certificate revoked", Certificate: cert})
}

// CertificateHistory godoc
// @ID          certificateHistory
// @Summary     Certificate history
// @Description Returns the audit trail and the most recent verification attempts of a certificate.
// @Tags        Certificates
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Certificate code"  example(CERT-7Q2K9XW4ZD)
//
// @Success     200  {object} handlers.HistoryResponse
// @Failure     400  {object} handlers.ErrorResponse "Malformed identifier"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     403  {object} handlers.ErrorResponse "Forbidden"
// @Failure     404  {object} handlers.ErrorResponse "Certificate not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /certificates/{id}/history [get]
func (h *Handlers) CertificateHistory(c *gin.Context) {
	hist, err := h.certs.History(c.Request.Context(), middleware.ActorFrom(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{
		Success:       true,
		CertificateID: hist.CertificateID,
		Audit:         hist.Audit,
		Verifications: hist.Verifications,
	})
}
