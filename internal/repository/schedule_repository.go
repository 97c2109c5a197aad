package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

// weekdayOrder sorts the TEXT day column in calendar order.
const weekdayOrder = `array_position(ARRAY['MONDAY','TUESDAY','WEDNESDAY','THURSDAY','FRIDAY','SATURDAY','SUNDAY']::text[], day)`

const scheduleColumns = `id, route_id, vehicle_id, day, start_time, end_time, start_date, end_date, max_capacity, price, is_active, created_at, updated_at`

// ScheduleRepository provides persistence for transport schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns schedules ordered by route, weekday and departure.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.Schedule, error) {
	base := "FROM schedules WHERE 1=1"
	var conditions []string
	var args []interface{}

	if len(filter.RouteIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("route_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Int64Array(filter.RouteIDs))
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY route_id ASC, %s ASC, start_time ASC", scheduleColumns, base, weekdayOrder)
	var schedules []models.Schedule
	if err := executor(ctx, r.db).SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	for i := range schedules {
		normalizeClocks(&schedules[i])
	}
	return schedules, nil
}

// FindByID loads a schedule by id. Missing rows surface as sql.ErrNoRows.
func (r *ScheduleRepository) FindByID(ctx context.Context, id int64) (*models.Schedule, error) {
	return r.findByID(ctx, id, "")
}

// FindByIDForUpdate loads a schedule and row-locks it against concurrent
// admissions until the current transaction ends.
func (r *ScheduleRepository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Schedule, error) {
	return r.findByID(ctx, id, " FOR UPDATE")
}

// FindByIDForShare loads a schedule and holds a share lock on it, so the
// timetable cannot change while the current transaction admits a booking.
func (r *ScheduleRepository) FindByIDForShare(ctx context.Context, id int64) (*models.Schedule, error) {
	return r.findByID(ctx, id, " FOR SHARE")
}

func (r *ScheduleRepository) findByID(ctx context.Context, id int64, lock string) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1` + lock
	var sched models.Schedule
	if err := executor(ctx, r.db).GetContext(ctx, &sched, query, id); err != nil {
		return nil, err
	}
	normalizeClocks(&sched)
	return &sched, nil
}

// Postgres returns TIME columns as HH:MM:SS.
func normalizeClocks(s *models.Schedule) {
	s.StartTime = models.NormalizeClock(s.StartTime)
	s.EndTime = models.NormalizeClock(s.EndTime)
}

// Create stores a new schedule record.
func (r *ScheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	const query = `INSERT INTO schedules (route_id, vehicle_id, day, start_time, end_time, start_date, end_date, max_capacity, price, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	row := executor(ctx, r.db).QueryRowxContext(ctx, query,
		schedule.RouteID,
		schedule.VehicleID,
		schedule.Day,
		schedule.StartTime,
		schedule.EndTime,
		schedule.StartDate,
		schedule.EndDate,
		schedule.MaxCapacity,
		schedule.Price,
		schedule.IsActive,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err := row.Scan(&schedule.ID); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// Update modifies a schedule record.
func (r *ScheduleRepository) Update(ctx context.Context, schedule *models.Schedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schedules SET vehicle_id = $2, day = $3, start_time = $4, end_time = $5, start_date = $6, end_date = $7, max_capacity = $8, price = $9, is_active = $10, updated_at = $11 WHERE id = $1`
	if _, err := executor(ctx, r.db).ExecContext(ctx, query,
		schedule.ID,
		schedule.VehicleID,
		schedule.Day,
		schedule.StartTime,
		schedule.EndTime,
		schedule.StartDate,
		schedule.EndDate,
		schedule.MaxCapacity,
		schedule.Price,
		schedule.IsActive,
		schedule.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Deactivate stops a schedule from accepting new bookings.
func (r *ScheduleRepository) Deactivate(ctx context.Context, id int64) error {
	if _, err := executor(ctx, r.db).ExecContext(ctx, `UPDATE schedules SET is_active = FALSE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate schedule: %w", err)
	}
	return nil
}
