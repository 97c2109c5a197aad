package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostelsync-api/internal/models"
	"github.com/noah-isme/hostelsync-api/internal/service"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

type manifestRenderer interface {
	Render(ctx context.Context, scheduleID int64, date models.Date, format string) (*service.Manifest, error)
}

// ManifestHandler serves passenger manifests.
type ManifestHandler struct {
	manifests manifestRenderer
}

// NewManifestHandler constructs the handler.
func NewManifestHandler(manifests manifestRenderer) *ManifestHandler {
	return &ManifestHandler{manifests: manifests}
}

// Download godoc
// @Summary Download passenger manifest
// @Tags Schedule Admin
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transport/admin/schedules/{id}/manifest [get]
func (h *ManifestHandler) Download(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	date, err := dateQuery(c, "date")
	if err != nil {
		response.Error(c, err)
		return
	}
	manifest, err := h.manifests.Render(c.Request.Context(), id, date, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, manifest.Filename, manifest.ContentType, manifest.Body)
}
