package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

// ContextUserKey is the gin context key storing the authenticated principal.
const ContextUserKey = "currentUser"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// PrincipalResolver turns verified claims into a principal with capabilities.
type PrincipalResolver interface {
	Principal(ctx context.Context, claims *models.JWTClaims) (*models.Principal, error)
}

// JWT protects routes by requiring a valid access token. The resolved
// principal is stored under ContextUserKey.
func JWT(tokens TokenValidator, resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal, err := resolver.Principal(c.Request.Context(), claims)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve capabilities"))
			c.Abort()
			return
		}

		c.Set(ContextUserKey, principal)
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by JWT, if any.
func PrincipalFrom(c *gin.Context) *models.Principal {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil
	}
	principal, _ := value.(*models.Principal)
	return principal
}
