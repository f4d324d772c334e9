package model

import (
	"fmt"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Active reports whether the status occupies its provider/date/time slot.
// Completed appointments still occupy theirs; only cancelled ones release
// it, kept for audit history without blocking bookings.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

// Changeable reports whether the appointment can still be cancelled or
// rescheduled. Completed and cancelled are final.
func (s AppointmentStatus) Changeable() bool {
	return s == StatusPending || s == StatusConfirmed
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Appointment is a client's reservation against a provider/service/time.
// Date and StartTime are civil values with no timezone attached; they are
// combined into a UTC instant only for duration math (fee windows,
// upcoming/past splits).
type Appointment struct {
	ID              string
	ClientID        string
	ProviderID      string
	ServiceID       string
	SlotID          string // optional link to an availability slot
	Date            string // DateLayout
	StartTime       string // TimeLayout
	DurationMinutes int
	Notes           string
	Status          AppointmentStatus
	CreatedAt       time.Time
}

// ScheduledAt combines the civil date and start time into a UTC instant.
func (a Appointment) ScheduledAt() (time.Time, error) {
	return CombineDateTime(a.Date, a.StartTime)
}

func CombineDateTime(date, start string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	clock, err := time.Parse(TimeLayout, start)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", start, err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, time.UTC), nil
}

// ValidDate reports whether s is a canonical civil date. Parse alone is too
// lenient here: it accepts unpadded fields the schema's CHECK would reject,
// so the round-trip must reproduce the input exactly.
func ValidDate(s string) bool {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	return err == nil && t.Format(DateLayout) == s
}

// ValidClockTime reports whether s is a canonical HH:MM clock time.
func ValidClockTime(s string) bool {
	t, err := time.Parse(TimeLayout, s)
	return err == nil && t.Format(TimeLayout) == s
}
