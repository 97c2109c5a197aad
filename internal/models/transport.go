package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Weekday is the day a schedule runs on.
type Weekday string

const (
	Monday    Weekday = "MONDAY"
	Tuesday   Weekday = "TUESDAY"
	Wednesday Weekday = "WEDNESDAY"
	Thursday  Weekday = "THURSDAY"
	Friday    Weekday = "FRIDAY"
	Saturday  Weekday = "SATURDAY"
	Sunday    Weekday = "SUNDAY"
)

var weekdays = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// WeekdayOf maps a time.Weekday onto the schedule vocabulary.
func WeekdayOf(d time.Weekday) Weekday {
	return weekdays[d]
}

// Valid reports whether w is one of MONDAY..SUNDAY.
func (w Weekday) Valid() bool {
	for _, day := range weekdays {
		if day == w {
			return true
		}
	}
	return false
}

// VehicleStatus describes whether a vehicle can be scheduled.
type VehicleStatus string

const (
	VehicleAvailable     VehicleStatus = "AVAILABLE"
	VehicleInMaintenance VehicleStatus = "IN_MAINTENANCE"
	VehicleUnavailable   VehicleStatus = "UNAVAILABLE"
)

// Route is a named path between two points served by schedules.
type Route struct {
	ID          int64          `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	Description *string        `db:"description" json:"description,omitempty"`
	StartPoint  string         `db:"start_point" json:"startPoint"`
	EndPoint    string         `db:"end_point" json:"endPoint"`
	Stops       pq.StringArray `db:"stops" json:"stops"`
	Schedules   []Schedule     `db:"-" json:"schedules"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// Vehicle is a bus or van assigned to schedules.
type Vehicle struct {
	ID        int64         `db:"id" json:"id"`
	Type      string        `db:"type" json:"type"`
	Number    string        `db:"number" json:"number"`
	Capacity  int           `db:"capacity" json:"capacity"`
	Status    VehicleStatus `db:"status" json:"status"`
	DriverID  *int64        `db:"driver_id" json:"driverId,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time     `db:"updated_at" json:"updatedAt"`
}

// Schedule is a recurring weekly trip bookable on individual dates.
type Schedule struct {
	ID          int64     `db:"id" json:"id"`
	RouteID     int64     `db:"route_id" json:"routeId"`
	VehicleID   int64     `db:"vehicle_id" json:"vehicleId"`
	Day         Weekday   `db:"day" json:"day"`
	StartTime   string    `db:"start_time" json:"startTime"`
	EndTime     string    `db:"end_time" json:"endTime"`
	StartDate   Date      `db:"start_date" json:"startDate"`
	EndDate     Date      `db:"end_date" json:"endDate"`
	MaxCapacity int       `db:"max_capacity" json:"maxCapacity"`
	Price       float64   `db:"price" json:"price"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Runs reports whether the schedule operates on the given date: inside the
// inclusive [StartDate, EndDate] window and on the schedule's weekday.
func (s Schedule) Runs(d Date) bool {
	if d.Before(s.StartDate) || d.After(s.EndDate) {
		return false
	}
	return WeekdayOf(d.Weekday()) == s.Day
}

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	RouteIDs   []int64
	ActiveOnly bool
}

// CreateScheduleRequest is the admin payload for publishing a schedule.
type CreateScheduleRequest struct {
	RouteID     int64   `json:"routeId" validate:"required,gt=0"`
	VehicleID   int64   `json:"vehicleId" validate:"required,gt=0"`
	Day         Weekday `json:"day" validate:"required,weekday"`
	StartTime   string  `json:"startTime" validate:"required,clock"`
	EndTime     string  `json:"endTime" validate:"required,clock"`
	StartDate   string  `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate     string  `json:"endDate" validate:"required,datetime=2006-01-02"`
	MaxCapacity int     `json:"maxCapacity" validate:"required,gte=1"`
	Price       float64 `json:"price" validate:"gte=0"`
	IsActive    *bool   `json:"isActive"`
}

// UpdateScheduleRequest carries a partial schedule update.
type UpdateScheduleRequest struct {
	VehicleID   *int64   `json:"vehicleId" validate:"omitempty,gt=0"`
	Day         *Weekday `json:"day" validate:"omitempty,weekday"`
	StartTime   *string  `json:"startTime" validate:"omitempty,clock"`
	EndTime     *string  `json:"endTime" validate:"omitempty,clock"`
	StartDate   *string  `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string  `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	MaxCapacity *int     `json:"maxCapacity" validate:"omitempty,gte=1"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
	IsActive    *bool    `json:"isActive"`
}

// TouchesTimetable reports whether the update changes anything beyond
// activation and capacity.
func (r UpdateScheduleRequest) TouchesTimetable() bool {
	return r.VehicleID != nil || r.Day != nil || r.StartTime != nil || r.EndTime != nil ||
		r.StartDate != nil || r.EndDate != nil || r.Price != nil
}

// NormalizeClock trims a HH:MM[:SS] value down to HH:MM.
func NormalizeClock(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) > 5 {
		return raw[:5]
	}
	return raw
}
