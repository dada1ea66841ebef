package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-cert-backend/internal/http/middleware"
)

// CSRFTokenResponse carries a freshly issued CSRF token.
type CSRFTokenResponse struct {
	Success   bool      `json:"success" example:"true"`
	Token     string    `json:"token" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	ExpiresAt time.Time `json:"expires_at"`
	// Header names where the token is expected.
	Header string `json:"header" example:"X-CSRF-Token"`
}

// CSRFToken godoc
// @ID          csrfToken
// @Summary     Issue a CSRF token
// @Description Issues a token bound to the caller. Send it in X-CSRF-Token (or a "_csrf" form/JSON field) on mutating requests.
// @Description A new token replaces the previous one.
// @Tags        Security
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.CSRFTokenResponse
// @Failure     429  {object} handlers.ErrorResponse "Rate limited"
// @Failure     503  {object} handlers.ErrorResponse "Token store unavailable"
// @Router      /csrf-token [get]
func (h *Handlers) CSRFToken(c *gin.Context) {
	token, exp, err := h.tokens.Issue(c.Request.Context(), middleware.ActorFrom(c).Subject())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, CSRFTokenResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: exp,
		Header:    middleware.HeaderCSRFToken,
	})
}
