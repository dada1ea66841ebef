package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/domain"
	"github.com/tbourn/go-cert-backend/internal/services"
)

// StatusInfo describes one certificate status.
type StatusInfo struct {
	Status      domain.CertificateStatus `json:"status" example:"active"`
	Terminal    bool                     `json:"terminal" example:"false"`
	Description string                   `json:"description" example:"valid and verifiable"`
}

// StatusesResponse lists certificate statuses and verification reasons.
type StatusesResponse struct {
	Success             bool         `json:"success" example:"true"`
	Statuses            []StatusInfo `json:"statuses"`
	VerificationReasons []string     `json:"verification_reasons" example:"revoked,signature_mismatch,expired,not_found"`
}

var statusDescriptions = map[domain.CertificateStatus]string{
	domain.StatusActive:  "valid and verifiable",
	domain.StatusRevoked: "withdrawn by an administrator or its issuer",
	domain.StatusExpired: "past its expiry date",
}

// Statuses godoc
// @ID          referenceStatuses
// @Summary     Certificate statuses
// @Description Reference data: the certificate lifecycle statuses and the reasons a verification can fail.
// @Tags        Reference
// @Produce     json
//
// @Success     200  {object} handlers.StatusesResponse
// @Header      200  {string} Cache-Control  "public, max-age=86400"
// @Router      /reference/statuses [get]
func (h *Handlers) Statuses(c *gin.Context) {
	out := make([]StatusInfo, 0, len(domain.Statuses))
	for _, s := range domain.Statuses {
		out = append(out, StatusInfo{Status: s, Terminal: s.Terminal(), Description: statusDescriptions[s]})
	}
	ok(c, http.StatusOK, StatusesResponse{
		Success:  true,
		Statuses: out,
		VerificationReasons: []string{
			services.ReasonRevoked,
			services.ReasonSignatureMismatch,
			services.ReasonExpired,
			services.ReasonNotFound,
		},
	})
}
