package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/storage"
)

// IdempotencyStore records booking responses keyed by Idempotency-Key so the
// channel API can replay them on retry.
type IdempotencyStore interface {
	Lookup(ctx context.Context, tenantID, key string) (storage.IdempotencyRecord, bool, error)
	Save(ctx context.Context, tenantID, key, appointmentID string, statusCode int, response []byte) error
}

// ChannelHandler is the public booking surface used by external channels
// (chat-bot, patient portal). It authenticates with a shared API key plus an
// X-Tenant-Id header instead of staff JWTs, and supports Idempotency-Key
// replay on booking so channel retries never double-book.
type ChannelHandler struct {
	svc    *booking.Service
	idem   IdempotencyStore
	apiKey string
	logger *slog.Logger
}

func NewChannelHandler(svc *booking.Service, idem IdempotencyStore, apiKey string, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{svc: svc, idem: idem, apiKey: apiKey, logger: logger}
}

func (h *ChannelHandler) authenticate(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Api-Key")), []byte(h.apiKey)) != 1 {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return booking.Actor{}, false
	}
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenantID == "" {
		http.Error(w, "missing X-Tenant-Id", http.StatusUnauthorized)
		return booking.Actor{}, false
	}
	return booking.Actor{Sub: "channel", TenantID: tenantID, Role: booking.RoleChannel}, true
}

func (h *ChannelHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.authenticate(w, r)
	if !ok {
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

type channelBookRequest struct {
	PractitionerID string `json:"practitioner_id"`
	PatientID      string `json:"patient_id"`
	AreaID         string `json:"area_id"`
	ScheduledAt    string `json:"scheduled_at"`
	DurationMins   int    `json:"duration_minutes"`
	Reason         string `json:"reason"`
	Confirm        bool   `json:"confirm"`
}

func (h *ChannelHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" {
		rec, found, err := h.idem.Lookup(r.Context(), actor.TenantID, idemKey)
		if err != nil {
			h.logger.Error("idempotency lookup failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	var req channelBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid json body"})
		return
	}
	scheduledAt, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_failed", Message: "invalid scheduled_at"})
		return
	}

	initial := model.StatusScheduled
	if req.Confirm {
		initial = model.StatusConfirmed
	}
	appt, err := h.svc.Create(r.Context(), actor, booking.CreateParams{
		PractitionerID: strings.TrimSpace(req.PractitionerID),
		PatientID:      strings.TrimSpace(req.PatientID),
		AreaID:         strings.TrimSpace(req.AreaID),
		ScheduledAt:    scheduledAt,
		DurationMins:   req.DurationMins,
		Reason:         strings.TrimSpace(req.Reason),
		InitialStatus:  initial,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	item := toAppointmentItem(appt)
	if idemKey != "" {
		payload, merr := json.Marshal(item)
		if merr == nil {
			if serr := h.idem.Save(r.Context(), actor.TenantID, idemKey, appt.ID, http.StatusCreated, payload); serr != nil {
				// The booking itself succeeded; a retry with the same key will
				// miss the lookup and then fail the overlap check.
				h.logger.Error("idempotency save failed", "err", serr, "appointment_id", appt.ID)
			}
		}
	}
	writeJSON(w, http.StatusCreated, item)
}
