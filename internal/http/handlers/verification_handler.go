package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/http/middleware"
	"github.com/tbourn/go-cert-backend/internal/services"
)

// VerifyRequest is the payload for POST /validate.
type VerifyRequest struct {
	CertificateID string `json:"certificate_id" example:"CERT-7Q2K9XW4ZD"`
}

// VerificationResponse wraps a verification result. An invalid certificate
// is still a successful request: see result.valid and result.reason.
type VerificationResponse struct {
	Success bool                         `json:"success" example:"true"`
	Result  *services.VerificationResult `json:"result"`
}

// ValidateCertificate godoc
// @ID          validateCertificate
// @Summary     Verify a certificate
// @Description Public verification by certificate code. Codes are normalized (NFKC, trimmed, upper-cased) before lookup.
// @Description Results are cached; a valid result is never cached past the certificate's expiry date.
// @Tags        Verification
// @Produce     json
//
// @Param       id  path  string  true  "Certificate code"  example(CERT-7Q2K9XW4ZD)
//
// @Success     200  {object} handlers.VerificationResponse
// @Header      200  {string} X-Cache  "HIT or MISS"
// @Failure     400  {object} handlers.ErrorResponse "Malformed identifier"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /validate/{id} [get]
func (h *Handlers) ValidateCertificate(c *gin.Context) {
	h.validate(c, c.Param("id"))
}

// ValidateCertificateBody godoc
// @ID          validateCertificateBody
// @Summary     Verify a certificate (body)
// @Description Same as GET /validate/{id} with the code in a JSON body. Responses are not cached.
// @Tags        Verification
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.VerifyRequest  true  "Certificate code"
//
// @Success     200  {object} handlers.VerificationResponse
// @Failure     400  {object} handlers.ErrorResponse "Malformed identifier or body"
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /validate [post]
func (h *Handlers) ValidateCertificateBody(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errInvalidJSON)
		return
	}
	h.validate(c, req.CertificateID)
}

func (h *Handlers) validate(c *gin.Context, raw string) {
	res, err := h.verify.Verify(c.Request.Context(), raw, c.ClientIP())
	if err != nil {
		fail(c, err)
		return
	}
	middleware.SetCacheTTL(c, res.CacheTTL)
	ok(c, http.StatusOK, VerificationResponse{Success: true, Result: res})
}

// VerificationServed logs a GET /validate/{id} answered by the response
// cache, so every verification attempt leaves a log row.
func (h *Handlers) VerificationServed(c *gin.Context, body []byte) {
	var resp VerificationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("cached verification response is not decodable")
		return
	}
	h.verify.RecordServed(c.Request.Context(), resp.Result, c.ClientIP())
}
