package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
	"github.com/noah-isme/hostelsync-api/pkg/events"
)

type ledgerScheduleReader interface {
	FindByID(ctx context.Context, id int64) (*models.Schedule, error)
}

// ledgerSchedules adds the share-locked read admissions use, which keeps the
// timetable fixed until the booking commits.
type ledgerSchedules interface {
	ledgerScheduleReader
	FindByIDForShare(ctx context.Context, id int64) (*models.Schedule, error)
}

type ledgerBookingStore interface {
	FindByID(ctx context.Context, id int64) (*models.Booking, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Booking, error)
	CountActive(ctx context.Context, slot models.SlotKey) (int, error)
	HasActive(ctx context.Context, slot models.SlotKey, userID int64) (bool, error)
	Create(ctx context.Context, booking *models.Booking) error
	UpdateStatus(ctx context.Context, id int64, status models.BookingStatus, cancelledAt *time.Time) (time.Time, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Booking, error)
}

// SlotLocker serializes work on one schedule/date slot. fn runs inside a
// transaction carried by the context it receives.
type SlotLocker interface {
	WithinSlotLock(ctx context.Context, slot models.SlotKey, fn func(ctx context.Context) error) error
}

// EventDispatcher queues booking events for asynchronous delivery.
type EventDispatcher interface {
	Dispatch(msg events.Message) error
}

// LedgerConfig tunes storage behaviour of the ledger.
type LedgerConfig struct {
	Location         *time.Location
	StorageTimeout   time.Duration
	ReadRetries      int
	ReadRetryBackoff time.Duration
	Now              func() time.Time
}

// LedgerService owns admission control and the booking lifecycle. It is the
// only writer of booking rows.
type LedgerService struct {
	schedules ledgerSchedules
	bookings  ledgerBookingStore
	locker    SlotLocker
	events    EventDispatcher
	metrics   *MetricsService
	cfg       LedgerConfig
	logger    *zap.Logger
}

// NewLedgerService constructs the ledger.
func NewLedgerService(schedules ledgerSchedules, bookings ledgerBookingStore, locker SlotLocker, dispatcher EventDispatcher, metrics *MetricsService, cfg LedgerConfig, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 3 * time.Second
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	if cfg.ReadRetryBackoff <= 0 {
		cfg.ReadRetryBackoff = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &LedgerService{
		schedules: schedules,
		bookings:  bookings,
		locker:    locker,
		events:    dispatcher,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
	}
}

// bounded detaches ctx from caller cancellation and applies the storage
// timeout. Once started, a ledger operation runs to completion or times out.
func (s *LedgerService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StorageTimeout)
}

func (s *LedgerService) today() models.Date {
	return models.DateOf(s.cfg.Now().In(s.cfg.Location))
}

// CreateBooking admits a rider onto a schedule for one date. All checks and
// the insert run under the slot lock. Mutations are never retried here.
func (s *LedgerService) CreateBooking(ctx context.Context, riderID, scheduleID int64, date models.Date) (*models.Booking, error) {
	if riderID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	if scheduleID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
	}
	if date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "booking date is required")
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	slot := models.SlotKey{ScheduleID: scheduleID, Date: date}
	var created *models.Booking
	started := time.Now()

	err := s.locker.WithinSlotLock(ctx, slot, func(txCtx context.Context) error {
		s.metrics.ObserveSlotLockWait(time.Since(started))

		schedule, err := s.schedules.FindByIDForShare(txCtx, scheduleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
			}
			return fmt.Errorf("load schedule: %w", err)
		}
		if !schedule.IsActive {
			return appErrors.ErrScheduleInactive
		}
		if err := s.checkDate(*schedule, date); err != nil {
			return err
		}

		held, err := s.bookings.HasActive(txCtx, slot, riderID)
		if err != nil {
			return err
		}
		if held {
			return appErrors.ErrDuplicateBooking
		}

		count, err := s.bookings.CountActive(txCtx, slot)
		if err != nil {
			return err
		}
		if count >= schedule.MaxCapacity {
			return appErrors.ErrScheduleFull
		}

		booking := &models.Booking{
			UserID:      riderID,
			ScheduleID:  schedule.ID,
			VehicleID:   schedule.VehicleID,
			BookingDate: date,
			Status:      models.BookingConfirmed,
		}
		if err := s.bookings.Create(txCtx, booking); err != nil {
			if isUniqueViolation(err) {
				return appErrors.Wrap(err, appErrors.ErrDuplicateBooking.Code, appErrors.ErrDuplicateBooking.Status, appErrors.ErrDuplicateBooking.Message)
			}
			return err
		}
		created = booking
		return nil
	})
	s.metrics.ObserveDBQuery("create_booking", time.Since(started))

	if err != nil {
		err = storageError(err, "failed to create booking")
		appErr := appErrors.FromError(err)
		s.metrics.RecordAdmission(appErr.Code)
		s.logFailure("booking rejected", err,
			zap.Int64("rider_id", riderID),
			zap.String("slot", slot.String()),
			zap.String("code", appErr.Code),
		)
		return nil, err
	}

	s.metrics.RecordAdmission(AdmissionAccepted)
	s.publish(models.EventBookingConfirmed, created, riderID)
	s.logger.Info("booking confirmed", zap.Int64("booking_id", created.ID), zap.Int64("rider_id", riderID), zap.String("slot", slot.String()))
	return created, nil
}

func (s *LedgerService) checkDate(schedule models.Schedule, date models.Date) error {
	if date.Before(s.today()) {
		return appErrors.Clone(appErrors.ErrInvalidDate, "booking date is in the past")
	}
	if date.Before(schedule.StartDate) || date.After(schedule.EndDate) {
		return appErrors.Clone(appErrors.ErrInvalidDate, fmt.Sprintf("schedule runs from %s to %s", schedule.StartDate, schedule.EndDate))
	}
	if !schedule.Runs(date) {
		return appErrors.Clone(appErrors.ErrInvalidDate, fmt.Sprintf("schedule runs on %s only", schedule.Day))
	}
	return nil
}

// CancelBooking releases a seat. Owners and administrators may cancel; a
// booking that is already cancelled or completed is reported, not ignored.
func (s *LedgerService) CancelBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error) {
	return s.settle(ctx, principal, bookingID, models.BookingCancelled, func(p *models.Principal, b *models.Booking) error {
		if p.Owns(b) || p.Has(models.CapabilityAdministrator) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "booking belongs to another rider")
	})
}

// CompleteBooking marks a confirmed trip as taken. Administrators only.
func (s *LedgerService) CompleteBooking(ctx context.Context, principal *models.Principal, bookingID int64) (*models.Booking, error) {
	return s.settle(ctx, principal, bookingID, models.BookingCompleted, func(p *models.Principal, b *models.Booking) error {
		if p.Has(models.CapabilityAdministrator) {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators can complete bookings")
	})
}

func (s *LedgerService) settle(ctx context.Context, principal *models.Principal, bookingID int64, target models.BookingStatus, authorize func(*models.Principal, *models.Booking) error) (*models.Booking, error) {
	if principal == nil {
		return nil, appErrors.ErrUnauthorized
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	// The unlocked read only locates the slot; every decision is made on the
	// row re-read under the lock.
	located, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, s.failSettle(storageError(err, "failed to load booking"), bookingID, target)
	}

	var updated *models.Booking
	started := time.Now()
	err = s.locker.WithinSlotLock(ctx, located.Slot(), func(txCtx context.Context) error {
		s.metrics.ObserveSlotLockWait(time.Since(started))

		booking, err := s.bookings.FindByIDForUpdate(txCtx, bookingID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "booking not found")
			}
			return err
		}
		if err := authorize(principal, booking); err != nil {
			return err
		}
		if booking.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrAlreadyTerminal, fmt.Sprintf("booking is already %s", booking.Status))
		}
		if !booking.Status.CanTransition(target) {
			return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move booking from %s to %s", booking.Status, target))
		}

		var cancelledAt *time.Time
		if target == models.BookingCancelled {
			now := s.cfg.Now().UTC()
			cancelledAt = &now
		}
		updatedAt, err := s.bookings.UpdateStatus(txCtx, booking.ID, target, cancelledAt)
		if err != nil {
			return err
		}
		booking.Status = target
		if cancelledAt != nil {
			booking.CancelledAt = cancelledAt
		}
		booking.UpdatedAt = updatedAt
		updated = booking
		return nil
	})
	if err != nil {
		return nil, s.failSettle(storageError(err, "failed to update booking"), bookingID, target)
	}

	eventType := models.EventBookingCancelled
	if target == models.BookingCompleted {
		eventType = models.EventBookingCompleted
	}
	s.publish(eventType, updated, principal.UserID)
	s.logger.Info("booking settled", zap.Int64("booking_id", updated.ID), zap.String("status", string(target)), zap.Int64("actor_id", principal.UserID))
	return updated, nil
}

func (s *LedgerService) failSettle(err error, bookingID int64, target models.BookingStatus) error {
	s.logFailure("booking update rejected", err, zap.Int64("booking_id", bookingID), zap.String("target", string(target)))
	return err
}

// ListAvailability derives the seat count of a slot from booking rows. It is
// the only ledger operation retried on storage timeouts.
func (s *LedgerService) ListAvailability(ctx context.Context, scheduleID int64, date models.Date) (*models.Availability, error) {
	if date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrInvalidDate, "date is required")
	}
	slot := models.SlotKey{ScheduleID: scheduleID, Date: date}

	var result *models.Availability
	err := s.retryRead(ctx, "list availability", func(readCtx context.Context) error {
		schedule, err := s.schedules.FindByID(readCtx, scheduleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
			}
			return err
		}
		count, err := s.bookings.CountActive(readCtx, slot)
		if err != nil {
			return err
		}
		availability := models.NewAvailability(*schedule, date, count)
		result = &availability
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListRiderBookings returns the principal's bookings, newest travel date first.
func (s *LedgerService) ListRiderBookings(ctx context.Context, principal *models.Principal) ([]models.Booking, error) {
	if principal == nil {
		return nil, appErrors.ErrUnauthorized
	}
	var bookings []models.Booking
	err := s.retryRead(ctx, "list rider bookings", func(readCtx context.Context) error {
		var err error
		bookings, err = s.bookings.ListByUser(readCtx, principal.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	return bookings, nil
}

// retryRead runs a read-only unit with bounded attempts, backing off between
// storage timeouts and outages.
func (s *LedgerService) retryRead(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := s.cfg.ReadRetryBackoff
	attempts := s.cfg.ReadRetries + 1
	for attempt := 1; ; attempt++ {
		readCtx, cancel := s.bounded(ctx)
		err := storageError(fn(readCtx), "failed to "+op)
		cancel()
		if err == nil {
			return nil
		}
		if !appErrors.Retryable(err) || attempt >= attempts {
			s.logFailure(op+" failed", err, zap.Int("attempt", attempt))
			return err
		}
		s.logger.Warn("storage read retry", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff *= 2
	}
}

func (s *LedgerService) publish(eventType models.BookingEventType, booking *models.Booking, actorID int64) {
	if s.events == nil || booking == nil {
		return
	}
	event := models.BookingEvent{
		Type:        eventType,
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		ScheduleID:  booking.ScheduleID,
		BookingDate: booking.BookingDate,
		Status:      booking.Status,
		ActorID:     actorID,
		OccurredAt:  s.cfg.Now().UTC(),
	}
	event.ID = uuid.NewString()
	msg, err := events.NewMessage(event.ID, string(eventType), strconv.FormatInt(booking.ID, 10), event)
	if err == nil {
		err = s.events.Dispatch(msg)
	}
	if err != nil {
		s.logger.Warn("booking event not queued", zap.String("type", string(eventType)), zap.Int64("booking_id", booking.ID), zap.Error(err))
	}
}

// logFailure logs domain rejections at debug and storage faults at error.
func (s *LedgerService) logFailure(msg string, err error, fields ...zap.Field) {
	appErr := appErrors.FromError(err)
	fields = append(fields, zap.Error(err))
	if appErr.Status >= 500 {
		s.logger.Error(msg, fields...)
		return
	}
	s.logger.Debug(msg, fields...)
}
