package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostelsync-api/internal/middleware"
	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

func principalFromContext(c *gin.Context) (*models.Principal, error) {
	principal := middleware.PrincipalFrom(c)
	if principal == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return principal, nil
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, name+" must be a positive integer")
	}
	return id, nil
}

func dateQuery(c *gin.Context, name string) (models.Date, error) {
	raw := c.Query(name)
	if raw == "" {
		return models.Date{}, appErrors.Clone(appErrors.ErrValidation, name+" is required")
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		return models.Date{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, name+" must be YYYY-MM-DD")
	}
	return date, nil
}
