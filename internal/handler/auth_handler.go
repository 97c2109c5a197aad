package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

type tokenIssuer interface {
	IssueToken(ctx context.Context, req models.IssueTokenRequest) (*models.TokenResponse, error)
}

// AuthHandler mints access tokens for local development.
type AuthHandler struct {
	service tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc tokenIssuer) *AuthHandler {
	return &AuthHandler{service: svc}
}

// IssueToken godoc
// @Summary Issue a development access token
// @Description Signs a token for an existing user. Not mounted in production.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.IssueTokenRequest true "Token request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/dev-token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req models.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid token request"))
		return
	}
	res, err := h.service.IssueToken(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
