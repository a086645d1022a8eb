package booking

import (
	"context"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/availability"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/outbox"
)

// AppointmentStore is the persistence contract the service orchestrates over.
// Every mutating call runs in a single transaction together with its outbox
// events, and implementations are expected to hold a storage-level overlap
// constraint as the hard backstop behind HasConflict: a write that races past
// the pre-check must fail with ErrSlotUnavailable, never commit an overlap.
type AppointmentStore interface {
	Create(ctx context.Context, appt model.Appointment, events []outbox.Event) (model.Appointment, error)
	GetByID(ctx context.Context, tenantID, id string) (model.Appointment, error)

	// UpdateSchedule persists appt's scheduled_at/duration/practitioner, guarded
	// by a compare-and-swap on the status the caller validated against.
	UpdateSchedule(ctx context.Context, appt model.Appointment, expected model.Status, events []outbox.Event) (model.Appointment, error)

	// UpdateStatus applies a validated transition, also CAS-guarded on the
	// expected current status so concurrent transitions cannot interleave.
	UpdateStatus(ctx context.Context, tenantID, id string, expected, target model.Status, cancelReason string, cancelledAt *time.Time, events []outbox.Event) (model.Appointment, error)

	// HasConflict reports whether any blocking appointment for the practitioner
	// overlaps [start,end), ignoring excludeID when non-empty. This is the
	// single source of truth for "is this time free".
	HasConflict(ctx context.Context, practitionerID string, start, end time.Time, excludeID string) (bool, error)

	ListBlocking(ctx context.Context, practitionerID string, from, to time.Time) ([]availability.Interval, error)
	ListUpcoming(ctx context.Context, tenantID, practitionerID string, from time.Time) ([]model.Appointment, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]model.Appointment, error)
}

type ListFilter struct {
	PractitionerID string
	PatientID      string
	Day            *time.Time
	Status         model.Status
	Limit          int
}

type TemplateStore interface {
	Create(ctx context.Context, tpl model.AvailabilityTemplate) (model.AvailabilityTemplate, error)
	ListByPractitioner(ctx context.Context, tenantID, practitionerID string) ([]model.AvailabilityTemplate, error)
	ListActiveForWeekday(ctx context.Context, tenantID, practitionerID string, weekday int) ([]model.AvailabilityTemplate, error)
	Deactivate(ctx context.Context, tenantID, id string) error
}
