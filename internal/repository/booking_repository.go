package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/hostelsync-api/internal/models"
)

const bookingColumns = `id, user_id, schedule_id, vehicle_id, booking_date, status, cancelled_at, created_at, updated_at`

// BookingRepository persists transport bookings. Methods run inside the
// context transaction when one is present.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindByID loads a booking. Missing rows surface as sql.ErrNoRows.
func (r *BookingRepository) FindByID(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	var booking models.Booking
	if err := executor(ctx, r.db).GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// FindByIDForUpdate loads a booking and row-locks it for the current transaction.
func (r *BookingRepository) FindByIDForUpdate(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	var booking models.Booking
	if err := executor(ctx, r.db).GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// CountActive counts seat-holding bookings of a slot.
func (r *BookingRepository) CountActive(ctx context.Context, slot models.SlotKey) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE schedule_id = $1 AND booking_date = $2 AND status = ANY($3)`
	var count int
	if err := executor(ctx, r.db).GetContext(ctx, &count, query, slot.ScheduleID, slot.Date, seatHoldingStatuses()); err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}
	return count, nil
}

// HasActive reports whether the user already holds a seat on the slot.
func (r *BookingRepository) HasActive(ctx context.Context, slot models.SlotKey, userID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM bookings WHERE schedule_id = $1 AND booking_date = $2 AND user_id = $3 AND status = ANY($4))`
	var exists bool
	if err := executor(ctx, r.db).GetContext(ctx, &exists, query, slot.ScheduleID, slot.Date, userID, seatHoldingStatuses()); err != nil {
		return false, fmt.Errorf("check active booking: %w", err)
	}
	return exists, nil
}

// CountBySchedule counts every booking ever made on a schedule, whatever its
// status. Cancelled and completed rows are history that still references the
// schedule's timetable.
func (r *BookingRepository) CountBySchedule(ctx context.Context, scheduleID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM bookings WHERE schedule_id = $1`
	var count int
	if err := executor(ctx, r.db).GetContext(ctx, &count, query, scheduleID); err != nil {
		return 0, fmt.Errorf("count schedule bookings: %w", err)
	}
	return count, nil
}

// Create inserts a booking and fills its id. Unique violations are returned
// as *pq.Error for the caller to classify.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	const query = `INSERT INTO bookings (user_id, schedule_id, vehicle_id, booking_date, status, cancelled_at, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	row := executor(ctx, r.db).QueryRowxContext(ctx, query,
		booking.UserID,
		booking.ScheduleID,
		booking.VehicleID,
		booking.BookingDate,
		booking.Status,
		booking.CancelledAt,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err := row.Scan(&booking.ID); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// UpdateStatus moves a booking to a new status.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id int64, status models.BookingStatus, cancelledAt *time.Time) (time.Time, error) {
	now := time.Now().UTC()
	const query = `UPDATE bookings SET status = $2, cancelled_at = COALESCE($3, cancelled_at), updated_at = $4 WHERE id = $1`
	res, err := executor(ctx, r.db).ExecContext(ctx, query, id, status, cancelledAt, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, fmt.Errorf("update booking status: %w", err)
	}
	if affected == 0 {
		return time.Time{}, sql.ErrNoRows
	}
	return now, nil
}

// ListByUser returns a rider's bookings, newest travel date first.
func (r *BookingRepository) ListByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY booking_date DESC, created_at DESC`
	var bookings []models.Booking
	if err := executor(ctx, r.db).SelectContext(ctx, &bookings, query, userID); err != nil {
		return nil, fmt.Errorf("list user bookings: %w", err)
	}
	return bookings, nil
}

// ListManifest returns the seat-holding passengers of a slot with rider details.
func (r *BookingRepository) ListManifest(ctx context.Context, slot models.SlotKey) ([]models.ManifestEntry, error) {
	const query = `SELECT b.id AS booking_id, b.user_id, COALESCE(u.name, '') AS name, COALESCE(u.email, '') AS email, b.status, b.created_at AS booked_at
FROM bookings b
LEFT JOIN users u ON u.id = b.user_id
WHERE b.schedule_id = $1 AND b.booking_date = $2 AND b.status = ANY($3)
ORDER BY b.created_at ASC`
	var entries []models.ManifestEntry
	if err := executor(ctx, r.db).SelectContext(ctx, &entries, query, slot.ScheduleID, slot.Date, seatHoldingStatuses()); err != nil {
		return nil, fmt.Errorf("list manifest: %w", err)
	}
	return entries, nil
}

func seatHoldingStatuses() pq.StringArray {
	out := make(pq.StringArray, len(models.SeatHoldingStatuses))
	for i, s := range models.SeatHoldingStatuses {
		out[i] = string(s)
	}
	return out
}
