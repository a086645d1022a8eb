package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/caredesk/clinicsched/libs/db"
)

// IdempotencyRepository lets the channel API replay the original response for
// a repeated Idempotency-Key instead of double-booking. Duplicate concurrent
// requests that both miss the lookup are still safe: the second insert is a
// no-op and the second booking attempt dies on the overlap constraint.
type IdempotencyRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	TenantID        string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

func (r *IdempotencyRepository) Lookup(ctx context.Context, tenantID, key string) (IdempotencyRecord, bool, error) {
	var rec IdempotencyRecord
	var responseText string
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key).Scan(
		&rec.TenantID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotencyRecord{}, false, nil
		}
		return IdempotencyRecord{}, false, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, true, nil
}

func (r *IdempotencyRepository) Save(ctx context.Context, tenantID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key, appointment_id, status_code, response_payload)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key, appointmentID, statusCode, response)
	return err
}
