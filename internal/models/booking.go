package models

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	// BookingPending is reserved; no operation creates pending bookings today.
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCancelled, BookingCompleted},
}

// CanTransition reports whether the status may move to next.
func (s BookingStatus) CanTransition(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// HoldsSeat reports whether the booking counts against schedule capacity.
func (s BookingStatus) HoldsSeat() bool {
	return s == BookingPending || s == BookingConfirmed
}

// SeatHoldingStatuses lists the statuses counted against capacity.
var SeatHoldingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

// Booking is a rider's seat on a schedule for a single date.
type Booking struct {
	ID          int64         `db:"id" json:"id"`
	UserID      int64         `db:"user_id" json:"userId"`
	ScheduleID  int64         `db:"schedule_id" json:"scheduleId"`
	VehicleID   int64         `db:"vehicle_id" json:"vehicleId"`
	BookingDate Date          `db:"booking_date" json:"bookingDate"`
	Status      BookingStatus `db:"status" json:"status"`
	CancelledAt *time.Time    `db:"cancelled_at" json:"cancelledAt,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// Slot returns the slot the booking occupies.
func (b Booking) Slot() SlotKey {
	return SlotKey{ScheduleID: b.ScheduleID, Date: b.BookingDate}
}

// SlotKey identifies one schedule on one date. Admission for a slot is
// serialized; different slots proceed independently.
type SlotKey struct {
	ScheduleID int64
	Date       Date
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%d@%s", k.ScheduleID, k.Date)
}

// Availability is the derived seat count of a slot.
type Availability struct {
	ScheduleID  int64 `json:"scheduleId"`
	BookingDate Date  `json:"bookingDate"`
	MaxCapacity int   `json:"maxCapacity"`
	Booked      int   `json:"confirmedPendingCount"`
	Remaining   int   `json:"remaining"`
}

// NewAvailability derives remaining seats, never below zero.
func NewAvailability(schedule Schedule, date Date, booked int) Availability {
	remaining := schedule.MaxCapacity - booked
	if remaining < 0 {
		remaining = 0
	}
	return Availability{
		ScheduleID:  schedule.ID,
		BookingDate: date,
		MaxCapacity: schedule.MaxCapacity,
		Booked:      booked,
		Remaining:   remaining,
	}
}

// CreateBookingRequest is the rider payload for booking a seat.
type CreateBookingRequest struct {
	ScheduleID  int64  `json:"scheduleId" validate:"required,gt=0"`
	BookingDate string `json:"bookingDate" validate:"required,datetime=2006-01-02"`
}

// ManifestEntry is one passenger line of a slot manifest.
type ManifestEntry struct {
	BookingID int64         `db:"booking_id" json:"bookingId"`
	UserID    int64         `db:"user_id" json:"userId"`
	Name      string        `db:"name" json:"name"`
	Email     string        `db:"email" json:"email"`
	Status    BookingStatus `db:"status" json:"status"`
	BookedAt  time.Time     `db:"booked_at" json:"bookedAt"`
}
