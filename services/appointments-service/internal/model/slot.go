package model

import "time"

// Slot is a provider's declared window of bookable time for a date.
// ServiceID is empty for generic slots that any of the provider's
// services may book into.
type Slot struct {
	ID         string
	ProviderID string
	ServiceID  string
	Date       string // DateLayout
	StartTime  string // TimeLayout
	EndTime    string // TimeLayout
	Available  bool
	CreatedAt  time.Time
}

// Service is read-only reference data from the booking core's perspective.
type Service struct {
	ID              string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

// Provider is read-only reference data from the booking core's perspective.
type Provider struct {
	ID   string
	Name string
}
