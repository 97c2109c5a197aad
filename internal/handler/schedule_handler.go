package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostelsync-api/internal/middleware"
	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

type scheduleCatalog interface {
	ListRoutes(ctx context.Context) ([]models.Route, error)
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	Get(ctx context.Context, id int64) (*models.Schedule, error)
	Create(ctx context.Context, req models.CreateScheduleRequest) (*models.Schedule, error)
	Update(ctx context.Context, id int64, req models.UpdateScheduleRequest) (*models.Schedule, error)
	Deactivate(ctx context.Context, id int64) error
}

// ScheduleHandler manages the route catalog and schedule administration.
type ScheduleHandler struct {
	service scheduleCatalog
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(svc scheduleCatalog) *ScheduleHandler {
	return &ScheduleHandler{service: svc}
}

// ListRoutes godoc
// @Summary List routes with active schedules
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /transport/routes [get]
func (h *ScheduleHandler) ListRoutes(c *gin.Context) {
	routes, err := h.service.ListRoutes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, routes)
}

// ListVehicles godoc
// @Summary List vehicles
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /transport/vehicles [get]
func (h *ScheduleHandler) ListVehicles(c *gin.Context) {
	vehicles, err := h.service.ListVehicles(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, vehicles)
}

// Get godoc
// @Summary Get schedule
// @Tags Catalog
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transport/schedules/{id} [get]
func (h *ScheduleHandler) Get(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	schedule, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedule)
}

// Create godoc
// @Summary Create schedule
// @Tags Schedule Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateScheduleRequest true "Schedule payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /transport/admin/schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req models.CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload"))
		return
	}
	schedule, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextResourceIDKey, strconv.FormatInt(schedule.ID, 10))
	response.Created(c, schedule)
}

// Update godoc
// @Summary Update schedule
// @Description Once bookings exist only isActive and maxCapacity may change.
// @Tags Schedule Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Param payload body models.UpdateScheduleRequest true "Partial update"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transport/admin/schedules/{id} [patch]
func (h *ScheduleHandler) Update(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload"))
		return
	}
	schedule, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, schedule)
}

// Deactivate godoc
// @Summary Deactivate schedule
// @Tags Schedule Admin
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /transport/admin/schedules/{id} [delete]
func (h *ScheduleHandler) Deactivate(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Deactivate(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
