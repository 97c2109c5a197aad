package service

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/hostelsync-api/internal/models"
	appErrors "github.com/noah-isme/hostelsync-api/pkg/errors"
)

type scheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, error)
	FindByID(ctx context.Context, id int64) (*models.Schedule, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*models.Schedule, error)
	Create(ctx context.Context, schedule *models.Schedule) error
	Update(ctx context.Context, schedule *models.Schedule) error
	Deactivate(ctx context.Context, id int64) error
}

type routeRepository interface {
	List(ctx context.Context) ([]models.Route, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

type vehicleRepository interface {
	List(ctx context.Context) ([]models.Vehicle, error)
	FindByID(ctx context.Context, id int64) (*models.Vehicle, error)
}

type scheduleBookingCounter interface {
	CountBySchedule(ctx context.Context, scheduleID int64) (int, error)
}

type scheduleTransactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ScheduleService serves the route catalog and schedule administration.
type ScheduleService struct {
	schedules scheduleRepository
	routes    routeRepository
	vehicles  vehicleRepository
	bookings  scheduleBookingCounter
	tx        scheduleTransactor
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	fills     singleflight.Group
}

// NewScheduleService instantiates ScheduleService.
func NewScheduleService(schedules scheduleRepository, routes routeRepository, vehicles vehicleRepository, bookings scheduleBookingCounter, tx scheduleTransactor, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ScheduleService{
		schedules: schedules,
		routes:    routes,
		vehicles:  vehicles,
		bookings:  bookings,
		tx:        tx,
		cache:     cache,
		validator: validate,
		logger:    logger,
	}
	svc.validator.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return models.Weekday(fl.Field().String()).Valid()
	})
	svc.validator.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	return svc
}

// ListRoutes returns routes with their active schedules. The payload is
// cached; seat counts are never part of it.
func (s *ScheduleService) ListRoutes(ctx context.Context) ([]models.Route, error) {
	var cached []models.Route
	if hit, _ := s.cache.Get(ctx, CacheKeyRoutes, &cached); hit {
		return cached, nil
	}

	// Concurrent misses share one load, which must outlive its first caller.
	fillCtx := context.WithoutCancel(ctx)
	v, err, _ := s.fills.Do(CacheKeyRoutes, func() (interface{}, error) {
		routes, err := s.loadRoutes(fillCtx)
		if err != nil {
			return nil, err
		}
		_ = s.cache.Set(fillCtx, CacheKeyRoutes, routes, 0)
		return routes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Route), nil
}

func (s *ScheduleService) loadRoutes(ctx context.Context) ([]models.Route, error) {
	routes, err := s.routes.List(ctx)
	if err != nil {
		return nil, storageError(err, "failed to list routes")
	}
	schedules, err := s.schedules.List(ctx, models.ScheduleFilter{ActiveOnly: true})
	if err != nil {
		return nil, storageError(err, "failed to list schedules")
	}

	byRoute := make(map[int64][]models.Schedule, len(routes))
	for _, sched := range schedules {
		byRoute[sched.RouteID] = append(byRoute[sched.RouteID], sched)
	}
	for i := range routes {
		routes[i].Schedules = byRoute[routes[i].ID]
		if routes[i].Schedules == nil {
			routes[i].Schedules = []models.Schedule{}
		}
	}
	if routes == nil {
		routes = []models.Route{}
	}
	return routes, nil
}

// ListVehicles returns the fleet.
func (s *ScheduleService) ListVehicles(ctx context.Context) ([]models.Vehicle, error) {
	vehicles, err := s.vehicles.List(ctx)
	if err != nil {
		return nil, storageError(err, "failed to list vehicles")
	}
	if vehicles == nil {
		vehicles = []models.Vehicle{}
	}
	return vehicles, nil
}

// Get returns a schedule by id.
func (s *ScheduleService) Get(ctx context.Context, id int64) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, storageError(err, "failed to load schedule")
	}
	return schedule, nil
}

// Create publishes a new schedule.
func (s *ScheduleService) Create(ctx context.Context, req models.CreateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	schedule := &models.Schedule{
		RouteID:     req.RouteID,
		VehicleID:   req.VehicleID,
		Day:         req.Day,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		MaxCapacity: req.MaxCapacity,
		Price:       req.Price,
		IsActive:    true,
	}
	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}
	// The validator already checked both layouts.
	schedule.StartDate, _ = models.ParseDate(req.StartDate)
	schedule.EndDate, _ = models.ParseDate(req.EndDate)

	if err := validateTimetable(schedule); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, schedule.RouteID, schedule.VehicleID); err != nil {
		return nil, err
	}

	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, storageError(err, "failed to create schedule")
	}
	s.invalidateCatalog(ctx)
	s.logger.Info("schedule created", zap.Int64("schedule_id", schedule.ID), zap.Int64("route_id", schedule.RouteID))
	return schedule, nil
}

// Update applies a partial update. Once a schedule holds any booking, live
// or historical, only its active flag and capacity may change. Lowering
// capacity never cancels bookings; it only stops new admissions.
//
// The schedule row stays locked until the update commits. Admissions read
// the schedule with a share lock, so a booking cannot land between the
// booking count and the timetable write.
func (s *ScheduleService) Update(ctx context.Context, id int64, req models.UpdateScheduleRequest) (*models.Schedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}

	var updated *models.Schedule
	err := s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		schedule, err := s.schedules.FindByIDForUpdate(txCtx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
			}
			return storageError(err, "failed to load schedule")
		}

		if req.TouchesTimetable() {
			booked, err := s.bookings.CountBySchedule(txCtx, id)
			if err != nil {
				return storageError(err, "failed to count bookings")
			}
			if booked > 0 {
				return appErrors.Clone(appErrors.ErrConflict, "schedule has bookings; only isActive and maxCapacity may change")
			}
		}

		applyScheduleUpdate(schedule, req)
		if err := validateTimetable(schedule); err != nil {
			return err
		}
		if req.VehicleID != nil {
			if err := s.checkReferences(txCtx, 0, schedule.VehicleID); err != nil {
				return err
			}
		}

		if err := s.schedules.Update(txCtx, schedule); err != nil {
			return storageError(err, "failed to update schedule")
		}
		updated = schedule
		return nil
	})
	if err != nil {
		return nil, storageError(err, "failed to update schedule")
	}

	s.invalidateCatalog(ctx)
	s.logger.Info("schedule updated", zap.Int64("schedule_id", id))
	return updated, nil
}

func applyScheduleUpdate(schedule *models.Schedule, req models.UpdateScheduleRequest) {
	if req.VehicleID != nil {
		schedule.VehicleID = *req.VehicleID
	}
	if req.Day != nil {
		schedule.Day = *req.Day
	}
	if req.StartTime != nil {
		schedule.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		schedule.EndTime = *req.EndTime
	}
	if req.StartDate != nil {
		schedule.StartDate, _ = models.ParseDate(*req.StartDate)
	}
	if req.EndDate != nil {
		schedule.EndDate, _ = models.ParseDate(*req.EndDate)
	}
	if req.MaxCapacity != nil {
		schedule.MaxCapacity = *req.MaxCapacity
	}
	if req.Price != nil {
		schedule.Price = *req.Price
	}
	if req.IsActive != nil {
		schedule.IsActive = *req.IsActive
	}
	schedule.StartTime = models.NormalizeClock(schedule.StartTime)
	schedule.EndTime = models.NormalizeClock(schedule.EndTime)
}

// Deactivate stops new bookings. Existing bookings and history remain.
func (s *ScheduleService) Deactivate(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.schedules.Deactivate(ctx, id); err != nil {
		return storageError(err, "failed to deactivate schedule")
	}
	s.invalidateCatalog(ctx)
	s.logger.Info("schedule deactivated", zap.Int64("schedule_id", id))
	return nil
}

func (s *ScheduleService) checkReferences(ctx context.Context, routeID, vehicleID int64) error {
	if routeID > 0 {
		ok, err := s.routes.Exists(ctx, routeID)
		if err != nil {
			return storageError(err, "failed to check route")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, "route does not exist")
		}
	}
	if _, err := s.vehicles.FindByID(ctx, vehicleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "vehicle does not exist")
		}
		return storageError(err, "failed to check vehicle")
	}
	return nil
}

func (s *ScheduleService) invalidateCatalog(ctx context.Context) {
	// The write already committed; a stale catalog expires with its TTL.
	_ = s.cache.Invalidate(context.WithoutCancel(ctx), CacheKeyRoutes)
}

func validateTimetable(schedule *models.Schedule) error {
	start, err := time.Parse("15:04", schedule.StartTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "startTime must be HH:MM")
	}
	end, err := time.Parse("15:04", schedule.EndTime)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "endTime must be HH:MM")
	}
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrValidation, "endTime must be after startTime")
	}
	if schedule.EndDate.Before(schedule.StartDate) {
		return appErrors.Clone(appErrors.ErrValidation, "endDate must not be before startDate")
	}
	if schedule.MaxCapacity < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "maxCapacity must be at least 1")
	}
	return nil
}
