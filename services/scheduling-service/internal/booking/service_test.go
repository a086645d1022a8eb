package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/availability"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/outbox"
)

// fakeStore keeps appointments in memory and enforces the same overlap
// backstop the database constraint provides.
type fakeStore struct {
	appointments map[string]model.Appointment
	events       []outbox.Event
}

func newFakeStore() *fakeStore {
	return &fakeStore{appointments: map[string]model.Appointment{}}
}

func (f *fakeStore) Create(_ context.Context, appt model.Appointment, events []outbox.Event) (model.Appointment, error) {
	if f.overlaps(appt.PractitionerID, appt.Start(), appt.End(), "") {
		return model.Appointment{}, fmt.Errorf("%w: constraint violation", ErrSlotUnavailable)
	}
	appt.CreatedAt = time.Now().UTC()
	f.appointments[appt.ID] = appt
	f.events = append(f.events, events...)
	return appt, nil
}

func (f *fakeStore) GetByID(_ context.Context, tenantID, id string) (model.Appointment, error) {
	appt, ok := f.appointments[id]
	if !ok || appt.TenantID != tenantID {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return appt, nil
}

func (f *fakeStore) UpdateSchedule(_ context.Context, appt model.Appointment, expected model.Status, events []outbox.Event) (model.Appointment, error) {
	current, ok := f.appointments[appt.ID]
	if !ok || current.Status != expected {
		return model.Appointment{}, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
	}
	if f.overlaps(appt.PractitionerID, appt.Start(), appt.End(), appt.ID) {
		return model.Appointment{}, fmt.Errorf("%w: constraint violation", ErrSlotUnavailable)
	}
	current.ScheduledAt = appt.ScheduledAt
	current.DurationMins = appt.DurationMins
	current.PractitionerID = appt.PractitionerID
	f.appointments[appt.ID] = current
	f.events = append(f.events, events...)
	return current, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, tenantID, id string, expected, target model.Status, cancelReason string, cancelledAt *time.Time, events []outbox.Event) (model.Appointment, error) {
	current, ok := f.appointments[id]
	if !ok || current.TenantID != tenantID {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if current.Status != expected {
		return model.Appointment{}, fmt.Errorf("%w: appointment changed concurrently", ErrInvalidTransition)
	}
	current.Status = target
	if cancelReason != "" {
		current.CancelReason = cancelReason
	}
	current.CancelledAt = cancelledAt
	f.appointments[id] = current
	f.events = append(f.events, events...)
	return current, nil
}

func (f *fakeStore) HasConflict(_ context.Context, practitionerID string, start, end time.Time, excludeID string) (bool, error) {
	return f.overlaps(practitionerID, start, end, excludeID), nil
}

func (f *fakeStore) ListBlocking(_ context.Context, practitionerID string, from, to time.Time) ([]availability.Interval, error) {
	var out []availability.Interval
	for _, appt := range f.appointments {
		if appt.PractitionerID != practitionerID || !appt.Status.Blocks() {
			continue
		}
		if availability.Overlaps(appt.Start(), appt.End(), from, to) {
			out = append(out, availability.Interval{Start: appt.Start(), End: appt.End()})
		}
	}
	return out, nil
}

func (f *fakeStore) ListUpcoming(_ context.Context, tenantID, practitionerID string, from time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, appt := range f.appointments {
		if appt.TenantID != tenantID || appt.PractitionerID != practitionerID {
			continue
		}
		if appt.Status != model.StatusScheduled && appt.Status != model.StatusConfirmed {
			continue
		}
		if appt.ScheduledAt.After(from) {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, tenantID string, filter ListFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, appt := range f.appointments {
		if appt.TenantID != tenantID {
			continue
		}
		if filter.PractitionerID != "" && appt.PractitionerID != filter.PractitionerID {
			continue
		}
		if filter.PatientID != "" && appt.PatientID != filter.PatientID {
			continue
		}
		if filter.Status != "" && appt.Status != filter.Status {
			continue
		}
		out = append(out, appt)
	}
	return out, nil
}

func (f *fakeStore) overlaps(practitionerID string, start, end time.Time, excludeID string) bool {
	for _, appt := range f.appointments {
		if appt.ID == excludeID || appt.PractitionerID != practitionerID || !appt.Status.Blocks() {
			continue
		}
		if availability.Overlaps(start, end, appt.Start(), appt.End()) {
			return true
		}
	}
	return false
}

type fakeTemplateStore struct {
	templates map[string]model.AvailabilityTemplate
}

func newFakeTemplateStore() *fakeTemplateStore {
	return &fakeTemplateStore{templates: map[string]model.AvailabilityTemplate{}}
}

func (f *fakeTemplateStore) Create(_ context.Context, tpl model.AvailabilityTemplate) (model.AvailabilityTemplate, error) {
	f.templates[tpl.ID] = tpl
	return tpl, nil
}

func (f *fakeTemplateStore) ListByPractitioner(_ context.Context, tenantID, practitionerID string) ([]model.AvailabilityTemplate, error) {
	var out []model.AvailabilityTemplate
	for _, tpl := range f.templates {
		if tpl.TenantID == tenantID && tpl.PractitionerID == practitionerID {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (f *fakeTemplateStore) ListActiveForWeekday(_ context.Context, tenantID, practitionerID string, weekday int) ([]model.AvailabilityTemplate, error) {
	var out []model.AvailabilityTemplate
	for _, tpl := range f.templates {
		if tpl.TenantID == tenantID && tpl.PractitionerID == practitionerID && tpl.Weekday == weekday && tpl.Active {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (f *fakeTemplateStore) Deactivate(_ context.Context, tenantID, id string) error {
	tpl, ok := f.templates[id]
	if !ok || tpl.TenantID != tenantID {
		return fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	tpl.Active = false
	f.templates[id] = tpl
	return nil
}

// fakeDirectory treats every listed id as active.
type fakeDirectory struct {
	practitioners map[string]bool
	patients      map[string]bool
	areas         map[string]bool
	areaMembers   map[string][]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		practitioners: map[string]bool{"prac-1": true, "prac-2": true},
		patients:      map[string]bool{"pat-1": true},
		areas:         map[string]bool{"area-1": true},
		areaMembers:   map[string][]string{"area-1": {"prac-1", "prac-2"}},
	}
}

func (f *fakeDirectory) PractitionerActive(_ context.Context, _, id string) (bool, error) {
	return f.practitioners[id], nil
}

func (f *fakeDirectory) PatientActive(_ context.Context, _, id string) (bool, error) {
	return f.patients[id], nil
}

func (f *fakeDirectory) AreaActive(_ context.Context, _, id string) (bool, error) {
	return f.areas[id], nil
}

func (f *fakeDirectory) PractitionersInArea(_ context.Context, _, areaID string) ([]string, error) {
	return f.areaMembers[areaID], nil
}

var testNow = time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeStore, *fakeTemplateStore, *fakeDirectory) {
	t.Helper()
	store := newFakeStore()
	templates := newFakeTemplateStore()
	dir := newFakeDirectory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, templates, dir, logger)
	svc.now = func() time.Time { return testNow }
	id := 0
	svc.newID = func() string {
		id++
		return fmt.Sprintf("id-%d", id)
	}
	return svc, store, templates, dir
}

func staffActor() Actor {
	return Actor{Sub: "user-1", TenantID: "clinic-1", Role: RoleStaff}
}

func createParams() CreateParams {
	return CreateParams{
		PractitionerID: "prac-1",
		PatientID:      "pat-1",
		AreaID:         "area-1",
		ScheduledAt:    testNow.Add(24 * time.Hour),
		DurationMins:   30,
		Reason:         "checkup",
	}
}

func TestCreateAppointment(t *testing.T) {
	svc, store, _, _ := newTestService(t)

	appt, err := svc.Create(context.Background(), staffActor(), createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if appt.Status != model.StatusScheduled {
		t.Fatalf("expected scheduled, got %s", appt.Status)
	}
	if appt.TenantID != "clinic-1" || appt.CreatedBy != "user-1" {
		t.Fatalf("actor not stamped: %+v", appt)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.EventAppointmentCreated {
		t.Fatalf("expected created event, got %+v", store.events)
	}
}

func TestCreateAppointment_Conflict(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Create(context.Background(), staffActor(), createParams()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	// Second booking starts 15 minutes into the first.
	p := createParams()
	p.ScheduledAt = p.ScheduledAt.Add(15 * time.Minute)
	if _, err := svc.Create(context.Background(), staffActor(), p); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestCreateAppointment_BackToBackAllowed(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	if _, err := svc.Create(context.Background(), staffActor(), createParams()); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	p := createParams()
	p.ScheduledAt = p.ScheduledAt.Add(30 * time.Minute)
	if _, err := svc.Create(context.Background(), staffActor(), p); err != nil {
		t.Fatalf("back-to-back booking rejected: %v", err)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p := createParams()
	p.DurationMins = 0
	if _, err := svc.Create(context.Background(), staffActor(), p); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	p = createParams()
	p.PatientID = ""
	if _, err := svc.Create(context.Background(), staffActor(), p); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateAppointment_UnknownPractitioner(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p := createParams()
	p.PractitionerID = "prac-missing"
	if _, err := svc.Create(context.Background(), staffActor(), p); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateAppointment_ConfirmedRequiresTrustedRole(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	p := createParams()
	p.InitialStatus = model.StatusConfirmed
	if _, err := svc.Create(context.Background(), staffActor(), p); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}

	channel := Actor{Sub: "channel", TenantID: "clinic-1", Role: RoleChannel}
	appt, err := svc.Create(context.Background(), channel, p)
	if err != nil {
		t.Fatalf("channel confirmed create failed: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}
}

func TestReschedule(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newStart := appt.ScheduledAt.Add(2 * time.Hour)
	moved, err := svc.Reschedule(context.Background(), actor, appt.ID, RescheduleParams{ScheduledAt: &newStart})
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if !moved.ScheduledAt.Equal(newStart) {
		t.Fatalf("expected %s, got %s", newStart, moved.ScheduledAt)
	}
	if store.events[len(store.events)-1].EventType != outbox.EventAppointmentRescheduled {
		t.Fatalf("expected rescheduled event")
	}
}

func TestReschedule_OwnSlotDoesNotConflict(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Shift by 10 minutes: the new window overlaps only the old one.
	newStart := appt.ScheduledAt.Add(10 * time.Minute)
	if _, err := svc.Reschedule(context.Background(), actor, appt.ID, RescheduleParams{ScheduledAt: &newStart}); err != nil {
		t.Fatalf("reschedule over own slot failed: %v", err)
	}
}

func TestReschedule_Conflict(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	first, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	p := createParams()
	p.ScheduledAt = p.ScheduledAt.Add(time.Hour)
	second, err := svc.Create(context.Background(), actor, p)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	if _, err := svc.Reschedule(context.Background(), actor, second.ID, RescheduleParams{ScheduledAt: &first.ScheduledAt}); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestReschedule_TerminalRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), actor, appt.ID, "patient request"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	newStart := appt.ScheduledAt.Add(time.Hour)
	if _, err := svc.Reschedule(context.Background(), actor, appt.ID, RescheduleParams{ScheduledAt: &newStart}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	cancelled, err := svc.Cancel(context.Background(), actor, appt.ID, "patient request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled || cancelled.CancelReason != "patient request" {
		t.Fatalf("cancel not recorded: %+v", cancelled)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(testNow) {
		t.Fatalf("cancelled_at not stamped: %v", cancelled.CancelledAt)
	}

	// The freed window is bookable again.
	if _, err := svc.Create(context.Background(), actor, createParams()); err != nil {
		t.Fatalf("rebooking freed slot failed: %v", err)
	}
}

func TestTransitionStatus_InvalidRejected(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.TransitionStatus(context.Background(), actor, appt.ID, model.StatusCompleted, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for scheduled -> completed, got %v", err)
	}

	got, err := svc.Get(context.Background(), actor, appt.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusScheduled {
		t.Fatalf("appointment mutated by rejected transition: %s", got.Status)
	}
}

func TestTransitionStatus_CompleteOnlyByTreatingPractitioner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	appt, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	for _, step := range []model.Status{model.StatusCheckedIn, model.StatusInProgress} {
		if _, err := svc.TransitionStatus(context.Background(), actor, appt.ID, step, ""); err != nil {
			t.Fatalf("transition to %s failed: %v", step, err)
		}
	}

	if _, err := svc.TransitionStatus(context.Background(), actor, appt.ID, model.StatusCompleted, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff completion, got %v", err)
	}

	otherPrac := Actor{Sub: "prac-2", TenantID: "clinic-1", Role: RolePractitioner}
	if _, err := svc.TransitionStatus(context.Background(), otherPrac, appt.ID, model.StatusCompleted, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other practitioner, got %v", err)
	}

	treating := Actor{Sub: "prac-1", TenantID: "clinic-1", Role: RolePractitioner}
	done, err := svc.TransitionStatus(context.Background(), treating, appt.ID, model.StatusCompleted, "")
	if err != nil {
		t.Fatalf("treating practitioner completion failed: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
}

func TestSlots(t *testing.T) {
	svc, _, templates, _ := newTestService(t)
	actor := staffActor()

	// 2026-01-26 is a Monday.
	day := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	templates.templates["tpl-1"] = model.AvailabilityTemplate{
		ID: "tpl-1", TenantID: "clinic-1", PractitionerID: "prac-1",
		Weekday: 1, StartMinute: 9 * 60, EndMinute: 11 * 60,
		SlotDurationMins: 30, MaxConcurrent: 1, Active: true,
	}

	slots, err := svc.Slots(context.Background(), actor, SlotQuery{PractitionerID: "prac-1", Day: day})
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}

	// Booking 09:30 removes it from the next query.
	p := createParams()
	p.ScheduledAt = day.Add(9*time.Hour + 30*time.Minute)
	if _, err := svc.Create(context.Background(), actor, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	slots, err = svc.Slots(context.Background(), actor, SlotQuery{PractitionerID: "prac-1", Day: day})
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots after booking, got %d", len(slots))
	}
}

func TestSlots_ByArea(t *testing.T) {
	svc, _, templates, _ := newTestService(t)
	actor := staffActor()

	day := time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	templates.templates["tpl-1"] = model.AvailabilityTemplate{
		ID: "tpl-1", TenantID: "clinic-1", PractitionerID: "prac-1",
		Weekday: 1, StartMinute: 9 * 60, EndMinute: 10 * 60,
		SlotDurationMins: 30, MaxConcurrent: 1, Active: true,
	}
	templates.templates["tpl-2"] = model.AvailabilityTemplate{
		ID: "tpl-2", TenantID: "clinic-1", PractitionerID: "prac-2",
		Weekday: 1, StartMinute: 9 * 60, EndMinute: 10 * 60,
		SlotDurationMins: 30, MaxConcurrent: 1, Active: true,
	}

	slots, err := svc.Slots(context.Background(), actor, SlotQuery{AreaID: "area-1", Day: day})
	if err != nil {
		t.Fatalf("slots failed: %v", err)
	}
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots across the area, got %d", len(slots))
	}
	// Sorted by start time first, so the two 09:00 slots lead.
	if !slots[0].Start.Equal(slots[1].Start) {
		t.Fatalf("expected paired starts, got %s and %s", slots[0].Start, slots[1].Start)
	}
	if slots[0].PractitionerID == slots[1].PractitionerID {
		t.Fatalf("expected different practitioners for paired slots")
	}
}

func TestCancelUpcomingForPractitioner(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	actor := staffActor()

	first, err := svc.Create(context.Background(), actor, createParams())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	p := createParams()
	p.ScheduledAt = p.ScheduledAt.Add(2 * time.Hour)
	if _, err := svc.Create(context.Background(), actor, p); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	cancelled, err := svc.CancelUpcomingForPractitioner(context.Background(), "clinic-1", "prac-1", "practitioner deactivated")
	if err != nil {
		t.Fatalf("bulk cancel failed: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("expected 2 cancelled, got %d", cancelled)
	}
	got, err := svc.Get(context.Background(), actor, first.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != model.StatusCancelled || got.CancelReason != "practitioner deactivated" {
		t.Fatalf("bulk cancel not recorded: %+v", got)
	}
}

func TestCreateTemplate(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	admin := Actor{Sub: "admin-1", TenantID: "clinic-1", Role: RoleAdmin}

	tpl, err := svc.CreateTemplate(context.Background(), admin, model.AvailabilityTemplate{
		PractitionerID:   "prac-1",
		Weekday:          1,
		StartMinute:      9 * 60,
		EndMinute:        13 * 60,
		SlotDurationMins: 30,
	})
	if err != nil {
		t.Fatalf("create template failed: %v", err)
	}
	if tpl.TenantID != "clinic-1" || !tpl.Active || tpl.MaxConcurrent != 1 {
		t.Fatalf("template defaults not applied: %+v", tpl)
	}

	if _, err := svc.CreateTemplate(context.Background(), staffActor(), model.AvailabilityTemplate{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for staff, got %v", err)
	}

	bad := model.AvailabilityTemplate{PractitionerID: "prac-1", Weekday: 9, StartMinute: 0, EndMinute: 60, SlotDurationMins: 30}
	if _, err := svc.CreateTemplate(context.Background(), admin, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
