package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
)

// TopicPractitionerDeactivated is published by the directory service when a
// practitioner is taken out of service.
const TopicPractitionerDeactivated = "directory.practitioner.deactivated.v1"

type practitionerDeactivatedPayload struct {
	TenantID       string `json:"tenant_id"`
	PractitionerID string `json:"practitioner_id"`
	Reason         string `json:"reason"`
}

// NewDirectoryHandler cancels every upcoming appointment of a deactivated
// practitioner so their freed hours stop showing up as booked.
func NewDirectoryHandler(svc *booking.Service, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload practitionerDeactivatedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode practitioner deactivated event: %w", err)
		}
		if payload.TenantID == "" || payload.PractitionerID == "" {
			return fmt.Errorf("practitioner deactivated event missing tenant_id or practitioner_id")
		}

		reason := payload.Reason
		if reason == "" {
			reason = "practitioner no longer available"
		}
		cancelled, err := svc.CancelUpcomingForPractitioner(ctx, payload.TenantID, payload.PractitionerID, reason)
		if err != nil {
			return err
		}
		logger.Info("practitioner deactivated, upcoming appointments cancelled",
			"tenant_id", payload.TenantID,
			"practitioner_id", payload.PractitionerID,
			"cancelled", cancelled,
		)
		return nil
	}
}
