package models

import "time"

// BookingEventType names a booking lifecycle event.
type BookingEventType string

const (
	EventBookingConfirmed BookingEventType = "booking.confirmed"
	EventBookingCancelled BookingEventType = "booking.cancelled"
	EventBookingCompleted BookingEventType = "booking.completed"
)

// BookingEvent is published after a booking mutation commits.
type BookingEvent struct {
	ID          string           `json:"id"`
	Type        BookingEventType `json:"type"`
	BookingID   int64            `json:"bookingId"`
	UserID      int64            `json:"userId"`
	ScheduleID  int64            `json:"scheduleId"`
	BookingDate Date             `json:"bookingDate"`
	Status      BookingStatus    `json:"status"`
	ActorID     int64            `json:"actorId"`
	OccurredAt  time.Time        `json:"occurredAt"`
}
