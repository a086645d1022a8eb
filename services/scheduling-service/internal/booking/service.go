package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/availability"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/directory"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/outbox"
)

// Actor identifies the caller on every operation. It is supplied by the auth
// middleware (staff API) or derived from the channel credentials (public API);
// the service trusts it and does not re-resolve tenancy.
type Actor struct {
	Sub      string
	TenantID string
	Role     string
}

const (
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
	RolePractitioner = "practitioner"
	// RoleChannel is the trusted automated booking channel (chat-bot). It may
	// request a confirmed initial status.
	RoleChannel = "channel"
	// RoleSystem is used by internal event handlers.
	RoleSystem = "system"
)

// Service is the single booking core shared by the staff API and the channel
// API so both surfaces apply identical business rules.
type Service struct {
	store     AppointmentStore
	templates TemplateStore
	directory directory.Provider
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(store AppointmentStore, templates TemplateStore, dir directory.Provider, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		templates: templates,
		directory: dir,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

type SlotQuery struct {
	PractitionerID string
	AreaID         string
	Day            time.Time
}

// AvailableSlot carries the practitioner alongside the window so area-wide
// queries stay bookable without a second lookup.
type AvailableSlot struct {
	PractitionerID string
	Start          time.Time
	End            time.Time
}

// Slots recomputes availability from the current templates and bookings on
// every call; there is no slot cache to invalidate.
func (s *Service) Slots(ctx context.Context, actor Actor, q SlotQuery) ([]AvailableSlot, error) {
	if q.Day.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrValidation)
	}
	if q.PractitionerID == "" && q.AreaID == "" {
		return nil, fmt.Errorf("%w: practitioner_id or area_id is required", ErrValidation)
	}

	var practitioners []string
	if q.PractitionerID != "" {
		ok, err := s.directory.PractitionerActive(ctx, actor.TenantID, q.PractitionerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: practitioner %s", ErrNotFound, q.PractitionerID)
		}
		practitioners = []string{q.PractitionerID}
	} else {
		ok, err := s.directory.AreaActive(ctx, actor.TenantID, q.AreaID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: area %s", ErrNotFound, q.AreaID)
		}
		practitioners, err = s.directory.PractitionersInArea(ctx, actor.TenantID, q.AreaID)
		if err != nil {
			return nil, err
		}
	}

	day := q.Day
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	now := s.now()

	var out []AvailableSlot
	for _, practitionerID := range practitioners {
		templates, err := s.templates.ListActiveForWeekday(ctx, actor.TenantID, practitionerID, int(day.Weekday()))
		if err != nil {
			return nil, err
		}
		if len(templates) == 0 {
			continue
		}
		busy, err := s.store.ListBlocking(ctx, practitionerID, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		for _, slot := range availability.GenerateSlots(templates, busy, day, now) {
			out = append(out, AvailableSlot{PractitionerID: practitionerID, Start: slot.Start, End: slot.End})
		}
	}
	sortSlots(out)
	return out, nil
}

type CreateParams struct {
	PractitionerID string
	PatientID      string
	AreaID         string
	ScheduledAt    time.Time
	DurationMins   int
	Reason         string
	Notes          string
	// InitialStatus is honored for trusted channels; empty means scheduled.
	InitialStatus model.Status
}

func (s *Service) Create(ctx context.Context, actor Actor, p CreateParams) (model.Appointment, error) {
	if p.PractitionerID == "" || p.PatientID == "" || p.AreaID == "" {
		return model.Appointment{}, fmt.Errorf("%w: practitioner_id, patient_id and area_id are required", ErrValidation)
	}
	if p.ScheduledAt.IsZero() {
		return model.Appointment{}, fmt.Errorf("%w: scheduled_at is required", ErrValidation)
	}
	if p.DurationMins <= 0 {
		return model.Appointment{}, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
	}
	status := p.InitialStatus
	if status == "" {
		status = model.StatusScheduled
	}
	if status != model.StatusScheduled && status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("%w: initial status %q not allowed", ErrValidation, status)
	}
	if status == model.StatusConfirmed && actor.Role != RoleChannel && actor.Role != RoleAdmin {
		return model.Appointment{}, fmt.Errorf("%w: only trusted channels may create confirmed appointments", ErrForbidden)
	}

	if err := s.checkDirectory(ctx, actor.TenantID, p.PractitionerID, p.PatientID, p.AreaID); err != nil {
		return model.Appointment{}, err
	}

	start := p.ScheduledAt.UTC()
	end := start.Add(time.Duration(p.DurationMins) * time.Minute)
	conflict, err := s.store.HasConflict(ctx, p.PractitionerID, start, end, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, fmt.Errorf("%w: %s already booked at %s", ErrSlotUnavailable, p.PractitionerID, start.Format(time.RFC3339))
	}

	appt := model.Appointment{
		ID:             s.newID(),
		TenantID:       actor.TenantID,
		PractitionerID: p.PractitionerID,
		PatientID:      p.PatientID,
		AreaID:         p.AreaID,
		ScheduledAt:    start,
		DurationMins:   p.DurationMins,
		Status:         status,
		Reason:         p.Reason,
		Notes:          p.Notes,
		CreatedBy:      actor.Sub,
	}

	evt, err := appointmentEvent(outbox.EventAppointmentCreated, appt, nil)
	if err != nil {
		return model.Appointment{}, err
	}
	// The pre-check above can race with a concurrent create; the store's
	// overlap constraint is the backstop and surfaces as ErrSlotUnavailable.
	created, err := s.store.Create(ctx, appt, []outbox.Event{evt})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment created",
		"appointment_id", created.ID,
		"practitioner_id", created.PractitionerID,
		"scheduled_at", created.ScheduledAt.Format(time.RFC3339),
		"status", string(created.Status),
	)
	return created, nil
}

type RescheduleParams struct {
	ScheduledAt    *time.Time
	DurationMins   *int
	PractitionerID *string
}

func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID string, p RescheduleParams) (model.Appointment, error) {
	appt, err := s.store.GetByID(ctx, actor.TenantID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusScheduled && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
	}

	updated := appt
	if p.ScheduledAt != nil {
		if p.ScheduledAt.IsZero() {
			return model.Appointment{}, fmt.Errorf("%w: scheduled_at must not be zero", ErrValidation)
		}
		updated.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.DurationMins != nil {
		if *p.DurationMins <= 0 {
			return model.Appointment{}, fmt.Errorf("%w: duration_minutes must be positive", ErrValidation)
		}
		updated.DurationMins = *p.DurationMins
	}
	if p.PractitionerID != nil {
		if *p.PractitionerID == "" {
			return model.Appointment{}, fmt.Errorf("%w: practitioner_id must not be empty", ErrValidation)
		}
		updated.PractitionerID = *p.PractitionerID
	}

	changed := !updated.ScheduledAt.Equal(appt.ScheduledAt) ||
		updated.DurationMins != appt.DurationMins ||
		updated.PractitionerID != appt.PractitionerID
	if !changed {
		return appt, nil
	}

	if updated.PractitionerID != appt.PractitionerID {
		ok, err := s.directory.PractitionerActive(ctx, actor.TenantID, updated.PractitionerID)
		if err != nil {
			return model.Appointment{}, err
		}
		if !ok {
			return model.Appointment{}, fmt.Errorf("%w: practitioner %s", ErrNotFound, updated.PractitionerID)
		}
	}

	// The appointment's own interval must not count against it.
	conflict, err := s.store.HasConflict(ctx, updated.PractitionerID, updated.Start(), updated.End(), appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, fmt.Errorf("%w: %s already booked at %s", ErrSlotUnavailable, updated.PractitionerID, updated.ScheduledAt.Format(time.RFC3339))
	}

	evt, err := appointmentEvent(outbox.EventAppointmentRescheduled, updated, map[string]any{
		"previous_practitioner_id": appt.PractitionerID,
		"previous_scheduled_at":    appt.ScheduledAt.Format(time.RFC3339),
		"previous_duration_mins":   appt.DurationMins,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	result, err := s.store.UpdateSchedule(ctx, updated, appt.Status, []outbox.Event{evt})
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled",
		"appointment_id", result.ID,
		"practitioner_id", result.PractitionerID,
		"scheduled_at", result.ScheduledAt.Format(time.RFC3339),
	)
	return result, nil
}

func (s *Service) Get(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, error) {
	return s.store.GetByID(ctx, actor.TenantID, appointmentID)
}

func (s *Service) List(ctx context.Context, actor Actor, f ListFilter) ([]model.Appointment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.store.List(ctx, actor.TenantID, f)
}

// TransitionStatus applies one step of the appointment lifecycle. Invalid
// transitions leave the appointment untouched.
func (s *Service) TransitionStatus(ctx context.Context, actor Actor, appointmentID string, target model.Status, cancelReason string) (model.Appointment, error) {
	if !target.Valid() {
		return model.Appointment{}, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	appt, err := s.store.GetByID(ctx, actor.TenantID, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !appt.Status.CanTransitionTo(target) {
		return model.Appointment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, target)
	}
	if target == model.StatusCompleted {
		// Only the treating practitioner may complete their own consultation.
		if actor.Role != RolePractitioner || actor.Sub != appt.PractitionerID {
			return model.Appointment{}, fmt.Errorf("%w: only the treating practitioner may complete a consultation", ErrForbidden)
		}
	}

	var cancelledAt *time.Time
	if target == model.StatusCancelled {
		t := s.now()
		cancelledAt = &t
	}

	var events []outbox.Event
	switch target {
	case model.StatusCancelled:
		evt, err := appointmentEvent(outbox.EventAppointmentCancelled, appt, map[string]any{
			"cancel_reason": cancelReason,
			"cancelled_at":  cancelledAt.Format(time.RFC3339),
		})
		if err != nil {
			return model.Appointment{}, err
		}
		events = append(events, evt)
	case model.StatusCompleted:
		evt, err := appointmentEvent(outbox.EventConsultationCompleted, appt, map[string]any{
			"completed_by": actor.Sub,
		})
		if err != nil {
			return model.Appointment{}, err
		}
		events = append(events, evt)
	}

	result, err := s.store.UpdateStatus(ctx, actor.TenantID, appt.ID, appt.Status, target, cancelReason, cancelledAt, events)
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment status changed",
		"appointment_id", result.ID,
		"from", string(appt.Status),
		"to", string(result.Status),
	)
	return result, nil
}

// Cancel is sugar for TransitionStatus(..., cancelled, reason).
func (s *Service) Cancel(ctx context.Context, actor Actor, appointmentID, reason string) (model.Appointment, error) {
	return s.TransitionStatus(ctx, actor, appointmentID, model.StatusCancelled, reason)
}

// CancelUpcomingForPractitioner cancels every future scheduled/confirmed
// appointment of a practitioner, e.g. after the directory deactivates them.
// Returns the number of appointments cancelled; individual failures are logged
// and skipped so one bad row does not wedge the sweep.
func (s *Service) CancelUpcomingForPractitioner(ctx context.Context, tenantID, practitionerID, reason string) (int, error) {
	actor := Actor{Sub: "scheduling-service", TenantID: tenantID, Role: RoleSystem}
	upcoming, err := s.store.ListUpcoming(ctx, tenantID, practitionerID, s.now())
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, appt := range upcoming {
		if !appt.Status.CanTransitionTo(model.StatusCancelled) {
			continue
		}
		if _, err := s.TransitionStatus(ctx, actor, appt.ID, model.StatusCancelled, reason); err != nil {
			s.logger.Error("bulk cancel failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		cancelled++
	}
	return cancelled, nil
}

func (s *Service) checkDirectory(ctx context.Context, tenantID, practitionerID, patientID, areaID string) error {
	ok, err := s.directory.PractitionerActive(ctx, tenantID, practitionerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: practitioner %s", ErrNotFound, practitionerID)
	}
	ok, err = s.directory.PatientActive(ctx, tenantID, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}
	ok, err = s.directory.AreaActive(ctx, tenantID, areaID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: area %s", ErrNotFound, areaID)
	}
	return nil
}

func appointmentEvent(eventType string, appt model.Appointment, extra map[string]any) (outbox.Event, error) {
	payload := map[string]any{
		"appointment_id":   appt.ID,
		"tenant_id":        appt.TenantID,
		"practitioner_id":  appt.PractitionerID,
		"patient_id":       appt.PatientID,
		"area_id":          appt.AreaID,
		"scheduled_at":     appt.ScheduledAt.UTC().Format(time.RFC3339),
		"duration_minutes": appt.DurationMins,
		"status":           string(appt.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return outbox.Event{}, err
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

func sortSlots(slots []AvailableSlot) {
	sort.Slice(slots, func(i, j int) bool { return slotLess(slots[i], slots[j]) })
}

func slotLess(a, b AvailableSlot) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if !a.End.Equal(b.End) {
		return a.End.Before(b.End)
	}
	return a.PractitionerID < b.PractitionerID
}
