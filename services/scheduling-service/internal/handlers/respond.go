package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps booking domain errors onto HTTP statuses. SlotUnavailable
// gets its own error code so clients can offer a "pick another time" flow
// instead of a form error.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, booking.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: err.Error()})
	case errors.Is(err, booking.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, booking.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "slot_unavailable", Message: err.Error()})
	case errors.Is(err, booking.ErrInvalidTransition):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "invalid_transition", Message: err.Error()})
	default:
		logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type appointmentItem struct {
	AppointmentID  string `json:"appointment_id"`
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	AreaID         string `json:"area_id"`
	ScheduledAt    string `json:"scheduled_at"`
	DurationMins   int    `json:"duration_minutes"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	Notes          string `json:"notes,omitempty"`
	CancelReason   string `json:"cancel_reason,omitempty"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
	CreatedBy      string `json:"created_by,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toAppointmentItem(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:  appt.ID,
		PractitionerID: appt.PractitionerID,
		PatientID:      appt.PatientID,
		AreaID:         appt.AreaID,
		ScheduledAt:    appt.ScheduledAt.UTC().Format(time.RFC3339),
		DurationMins:   appt.DurationMins,
		Status:         string(appt.Status),
		Reason:         appt.Reason,
		Notes:          appt.Notes,
		CancelReason:   appt.CancelReason,
		CreatedBy:      appt.CreatedBy,
		CreatedAt:      appt.CreatedAt.UTC().Format(time.RFC3339),
	}
	if appt.CancelledAt != nil {
		item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
	}
	return item
}

type slotItem struct {
	PractitionerID string `json:"practitioner_id"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
}

func toSlotItems(slots []booking.AvailableSlot) []slotItem {
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			PractitionerID: s.PractitionerID,
			StartTime:      s.Start.UTC().Format(time.RFC3339),
			EndTime:        s.End.UTC().Format(time.RFC3339),
		})
	}
	return items
}
