package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/hostelsync-api/internal/middleware"
	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/response"
)

type bookingLedger interface {
	CreateBooking(ctx context.Context, riderID, scheduleID int64, date models.Date) (*models.Booking, error)
	CancelBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error)
	CompleteBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error)
	ListAvailability(ctx context.Context, scheduleID int64, date models.Date) (*models.Availability, error)
	ListRiderBookings(ctx context.Context, principal *models.Principal) ([]models.Booking, error)
}

// BookingHandler exposes the booking ledger.
type BookingHandler struct {
	ledger    bookingLedger
	validator *validator.Validate
}

// NewBookingHandler constructs the handler.
func NewBookingHandler(ledger bookingLedger, validate *validator.Validate) *BookingHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &BookingHandler{ledger: ledger, validator: validate}
}

// Create godoc
// @Summary Book a seat
// @Description Admits the caller onto a schedule for one date while seats remain.
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Replay key"
// @Param payload body models.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /transport/bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "scheduleId and bookingDate (YYYY-MM-DD) are required"))
		return
	}
	date, err := models.ParseDate(req.BookingDate)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "bookingDate must be YYYY-MM-DD"))
		return
	}

	booking, err := h.ledger.CreateBooking(c.Request.Context(), principal.UserID, req.ScheduleID, date)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Set(middleware.ContextResourceIDKey, strconv.FormatInt(booking.ID, 10))
	response.Created(c, booking)
}

// Mine godoc
// @Summary List my bookings
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /transport/bookings/me [get]
func (h *BookingHandler) Mine(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	bookings, err := h.ledger.ListRiderBookings(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, bookings, map[string]interface{}{"count": len(bookings)})
}

// Cancel godoc
// @Summary Cancel a booking
// @Description Owners cancel their own bookings; administrators cancel any.
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transport/bookings/{id} [delete]
func (h *BookingHandler) Cancel(c *gin.Context) {
	h.settle(c, h.ledger.CancelBooking)
}

// Complete godoc
// @Summary Mark a booking completed
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /transport/bookings/{id}/complete [post]
func (h *BookingHandler) Complete(c *gin.Context) {
	h.settle(c, h.ledger.CompleteBooking)
}

func (h *BookingHandler) settle(c *gin.Context, op func(context.Context, *models.Principal, int64) (*models.Booking, error)) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	booking, err := op(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, booking)
}

// Availability godoc
// @Summary Seats left on a schedule date
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path int true "Schedule ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /transport/schedules/{id}/availability [get]
func (h *BookingHandler) Availability(c *gin.Context) {
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
	availability, err := h.ledger.ListAvailability(c.Request.Context(), id, date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, availability)
}
