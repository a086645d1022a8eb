package model

import (
	"errors"
	"fmt"
	"time"
)

type Appointment struct {
	ID             string
	TenantID       string
	PractitionerID string
	PatientID      string
	AreaID         string
	ScheduledAt    time.Time
	DurationMins   int
	Status         Status
	Reason         string
	Notes          string
	CancelReason   string
	CreatedBy      string
	CancelledAt    *time.Time
	CreatedAt      time.Time
}

func (a Appointment) Start() time.Time {
	return a.ScheduledAt
}

func (a Appointment) End() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

// AvailabilityTemplate is a recurring weekly booking window for a practitioner.
// Times are wall clock, stored as minutes since midnight. Multiple templates per
// practitioner per weekday are allowed and are treated independently.
type AvailabilityTemplate struct {
	ID               string
	TenantID         string
	PractitionerID   string
	Weekday          int // 0=Sunday .. 6=Saturday, matching time.Weekday
	StartMinute      int
	EndMinute        int
	SlotDurationMins int
	MaxConcurrent    int
	Active           bool
	CreatedAt        time.Time
}

const minutesPerDay = 24 * 60

// Validate rejects malformed templates at write time so slot generation can
// assume well-formed inputs.
func (t AvailabilityTemplate) Validate() error {
	if t.PractitionerID == "" {
		return errors.New("practitioner_id is required")
	}
	if t.Weekday < 0 || t.Weekday > 6 {
		return fmt.Errorf("weekday must be 0..6, got %d", t.Weekday)
	}
	if t.StartMinute < 0 || t.EndMinute > minutesPerDay {
		return fmt.Errorf("window must lie within 00:00..24:00, got [%d,%d)", t.StartMinute, t.EndMinute)
	}
	if t.StartMinute >= t.EndMinute {
		return fmt.Errorf("start_minute %d must be before end_minute %d", t.StartMinute, t.EndMinute)
	}
	if t.SlotDurationMins <= 0 {
		return fmt.Errorf("slot_duration_minutes must be positive, got %d", t.SlotDurationMins)
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}
	return nil
}
