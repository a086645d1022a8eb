package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
)

// StaffHandler is the authenticated clinic-facing surface. It is a thin
// adapter: every business rule lives in the shared booking service, which the
// channel handler delegates to as well.
type StaffHandler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func NewStaffHandler(svc *booking.Service, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{svc: svc, logger: logger}
}

func (h *StaffHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "date must be YYYY-MM-DD"})
		return
	}

	slots, err := h.svc.Slots(r.Context(), actor, booking.SlotQuery{
		PractitionerID: strings.TrimSpace(r.URL.Query().Get("practitioner_id")),
		AreaID:         strings.TrimSpace(r.URL.Query().Get("area_id")),
		Day:            day,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotItems(slots))
}

// Appointments dispatches the collection endpoint: POST creates, GET lists.
func (h *StaffHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.CreateAppointment(w, r)
	case http.MethodGet:
		h.ListAppointments(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Templates dispatches the template collection endpoint: POST creates, GET lists.
func (h *StaffHandler) Templates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.CreateTemplate(w, r)
	case http.MethodGet:
		h.ListTemplates(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createAppointmentRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	AreaID         string `json:"area_id"`
	ScheduledAt    string `json:"scheduled_at"`
	DurationMins   int    `json:"duration_minutes"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes"`
	InitialStatus  string `json:"initial_status"`
}

func (h *StaffHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}

	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid scheduled_at"})
		return
	}

	appt, err := h.svc.Create(r.Context(), actor, booking.CreateParams{
		PractitionerID: strings.TrimSpace(req.PractitionerID),
		PatientID:      strings.TrimSpace(req.PatientID),
		AreaID:         strings.TrimSpace(req.AreaID),
		ScheduledAt:    scheduledAt,
		DurationMins:   req.DurationMins,
		Reason:         strings.TrimSpace(req.Reason),
		Notes:          strings.TrimSpace(req.Notes),
		InitialStatus:  model.Status(strings.TrimSpace(req.InitialStatus)),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentItem(appt))
}

func (h *StaffHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	filter := booking.ListFilter{
		PractitionerID: strings.TrimSpace(r.URL.Query().Get("practitioner_id")),
		PatientID:      strings.TrimSpace(r.URL.Query().Get("patient_id")),
		Status:         model.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		day, err := parseDate(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "date must be YYYY-MM-DD"})
			return
		}
		filter.Day = &day
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}

	appts, err := h.svc.List(r.Context(), actor, filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toAppointmentItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

type rescheduleRequest struct {
	AppointmentID  string  `json:"appointment_id"`
	ScheduledAt    *string `json:"scheduled_at"`
	DurationMins   *int    `json:"duration_minutes"`
	PractitionerID *string `json:"practitioner_id"`
}

func (h *StaffHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "appointment_id is required"})
		return
	}

	var params booking.RescheduleParams
	if req.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ScheduledAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid scheduled_at"})
			return
		}
		params.ScheduledAt = &t
	}
	params.DurationMins = req.DurationMins
	params.PractitionerID = req.PractitionerID

	appt, err := h.svc.Reschedule(r.Context(), actor, strings.TrimSpace(req.AppointmentID), params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	CancelReason  string `json:"cancel_reason"`
}

func (h *StaffHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" || strings.TrimSpace(req.Status) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "appointment_id and status are required"})
		return
	}

	appt, err := h.svc.TransitionStatus(r.Context(), actor,
		strings.TrimSpace(req.AppointmentID),
		model.Status(strings.TrimSpace(req.Status)),
		strings.TrimSpace(req.CancelReason),
	)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

func (h *StaffHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "appointment_id is required"})
		return
	}

	appt, err := h.svc.Cancel(r.Context(), actor, strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentItem(appt))
}

type createTemplateRequest struct {
	PractitionerID   string `json:"practitioner_id"`
	Weekday          int    `json:"weekday"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	SlotDurationMins int    `json:"slot_duration_minutes"`
	MaxConcurrent    int    `json:"max_concurrent"`
}

type templateItem struct {
	TemplateID       string `json:"template_id"`
	PractitionerID   string `json:"practitioner_id"`
	Weekday          int    `json:"weekday"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	SlotDurationMins int    `json:"slot_duration_minutes"`
	MaxConcurrent    int    `json:"max_concurrent"`
	Active           bool   `json:"active"`
}

func (h *StaffHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}

	startMinute, err := parseClock(req.StartTime)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "start_time must be HH:MM"})
		return
	}
	endMinute, err := parseClock(req.EndTime)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "end_time must be HH:MM"})
		return
	}

	tpl, err := h.svc.CreateTemplate(r.Context(), actor, model.AvailabilityTemplate{
		PractitionerID:   strings.TrimSpace(req.PractitionerID),
		Weekday:          req.Weekday,
		StartMinute:      startMinute,
		EndMinute:        endMinute,
		SlotDurationMins: req.SlotDurationMins,
		MaxConcurrent:    req.MaxConcurrent,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateItem(tpl))
}

func (h *StaffHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	templates, err := h.svc.ListTemplates(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("practitioner_id")))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items := make([]templateItem, 0, len(templates))
	for _, tpl := range templates {
		items = append(items, toTemplateItem(tpl))
	}
	writeJSON(w, http.StatusOK, items)
}

type deactivateTemplateRequest struct {
	TemplateID string `json:"template_id"`
}

func (h *StaffHandler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := actorFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req deactivateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "template_id is required"})
		return
	}

	if err := h.svc.DeactivateTemplate(r.Context(), actor, strings.TrimSpace(req.TemplateID)); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toTemplateItem(tpl model.AvailabilityTemplate) templateItem {
	return templateItem{
		TemplateID:       tpl.ID,
		PractitionerID:   tpl.PractitionerID,
		Weekday:          tpl.Weekday,
		StartTime:        formatClock(tpl.StartMinute),
		EndTime:          formatClock(tpl.EndMinute),
		SlotDurationMins: tpl.SlotDurationMins,
		MaxConcurrent:    tpl.MaxConcurrent,
		Active:           tpl.Active,
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), time.UTC)
}

func parseClock(raw string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minute int) string {
	return time.Date(0, 1, 1, minute/60, minute%60, 0, 0, time.UTC).Format("15:04")
}
