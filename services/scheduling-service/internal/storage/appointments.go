package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/caredesk/clinicsched/libs/db"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/availability"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/outbox"
)

// AppointmentRepository persists appointments with pgx. Every mutating method
// runs one transaction covering the row change and its outbox events. The
// schema carries a gist exclusion constraint on
// (practitioner_id, tstzrange(scheduled_at, scheduled_at + duration)) filtered
// to blocking statuses, plus a partial unique index on
// (practitioner_id, scheduled_at); both surface here as ErrSlotUnavailable so
// a race that slips past the application pre-check cannot commit an overlap.
type AppointmentRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewAppointmentRepository(pool *db.Pool, outboxRepo *outbox.Repository) *AppointmentRepository {
	return &AppointmentRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	id::text, tenant_id::text, practitioner_id::text, patient_id::text, area_id::text,
	scheduled_at, duration_minutes, status,
	COALESCE(reason, ''), COALESCE(notes, ''), COALESCE(cancel_reason, ''),
	COALESCE(created_by, ''), cancelled_at, created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	var cancelledAt *time.Time
	err := row.Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.PractitionerID,
		&appt.PatientID,
		&appt.AreaID,
		&appt.ScheduledAt,
		&appt.DurationMins,
		&status,
		&appt.Reason,
		&appt.Notes,
		&appt.CancelReason,
		&appt.CreatedBy,
		&cancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment, events []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, tenant_id, practitioner_id, patient_id, area_id, scheduled_at, duration_minutes, status, reason, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+appointmentColumns,
		appt.ID, appt.TenantID, appt.PractitionerID, appt.PatientID, appt.AreaID,
		appt.ScheduledAt, appt.DurationMins, string(appt.Status), appt.Reason, appt.Notes, appt.CreatedBy,
	))
	if err != nil {
		if isOverlapViolation(err) {
			return model.Appointment{}, fmt.Errorf("%w: overlap rejected by storage constraint", booking.ErrSlotUnavailable)
		}
		return model.Appointment{}, err
	}

	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

func (r *AppointmentRepository) GetByID(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, fmt.Errorf("%w: appointment %s", booking.ErrNotFound, id)
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) UpdateSchedule(ctx context.Context, appt model.Appointment, expected model.Status, events []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET practitioner_id = $3,
			scheduled_at = $4,
			duration_minutes = $5
		WHERE id = $1 AND tenant_id = $2 AND status = $6
		RETURNING `+appointmentColumns,
		appt.ID, appt.TenantID, appt.PractitionerID, appt.ScheduledAt, appt.DurationMins, string(expected),
	))
	if err != nil {
		if isOverlapViolation(err) {
			return model.Appointment{}, fmt.Errorf("%w: overlap rejected by storage constraint", booking.ErrSlotUnavailable)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// The row was loaded moments ago, so a miss means the status moved
			// underneath us rather than the appointment vanishing.
			return model.Appointment{}, fmt.Errorf("%w: appointment %s changed concurrently", booking.ErrInvalidTransition, appt.ID)
		}
		return model.Appointment{}, err
	}

	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

func (r *AppointmentRepository) UpdateStatus(ctx context.Context, tenantID, id string, expected, target model.Status, cancelReason string, cancelledAt *time.Time, events []outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $4,
			cancel_reason = $5,
			cancelled_at = $6
		WHERE id = $1 AND tenant_id = $2 AND status = $3
		RETURNING `+appointmentColumns,
		id, tenantID, string(expected), string(target), cancelReason, cancelledAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Appointment{}, fmt.Errorf("%w: appointment %s changed concurrently", booking.ErrInvalidTransition, id)
		}
		return model.Appointment{}, err
	}

	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

func (r *AppointmentRepository) HasConflict(ctx context.Context, practitionerID string, start, end time.Time, excludeID string) (bool, error) {
	var conflict bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE practitioner_id = $1
				AND status NOT IN ('cancelled', 'no_show')
				AND ($4 = '' OR id::text <> $4)
				AND scheduled_at < $3
				AND scheduled_at + make_interval(mins => duration_minutes) > $2
		)
	`, practitionerID, start, end, excludeID).Scan(&conflict)
	return conflict, err
}

func (r *AppointmentRepository) ListBlocking(ctx context.Context, practitionerID string, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT scheduled_at, duration_minutes
		FROM appointments
		WHERE practitioner_id = $1
			AND status NOT IN ('cancelled', 'no_show')
			AND scheduled_at < $3
			AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at ASC
	`, practitionerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var busy []availability.Interval
	for rows.Next() {
		var start time.Time
		var mins int
		if err := rows.Scan(&start, &mins); err != nil {
			return nil, err
		}
		busy = append(busy, availability.Interval{
			Start: start,
			End:   start.Add(time.Duration(mins) * time.Minute),
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return busy, nil
}

func (r *AppointmentRepository) ListUpcoming(ctx context.Context, tenantID, practitionerID string, from time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND practitioner_id = $2
			AND status IN ('scheduled', 'confirmed')
			AND scheduled_at > $3
		ORDER BY scheduled_at ASC
	`, tenantID, practitionerID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func (r *AppointmentRepository) List(ctx context.Context, tenantID string, f booking.ListFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var dayStart, dayEnd *time.Time
	if f.Day != nil {
		d := f.Day
		start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
		end := start.AddDate(0, 0, 1)
		dayStart, dayEnd = &start, &end
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND ($2 = '' OR practitioner_id::text = $2)
			AND ($3 = '' OR patient_id::text = $3)
			AND ($4 = '' OR status = $4)
			AND ($5::timestamptz IS NULL OR (scheduled_at >= $5 AND scheduled_at < $6))
		ORDER BY scheduled_at DESC
		LIMIT $7
	`, tenantID, f.PractitionerID, f.PatientID, string(f.Status), dayStart, dayEnd, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// isOverlapViolation matches the gist exclusion constraint (23P01) and the
// partial unique index on (practitioner_id, scheduled_at) (23505).
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || pgErr.Code == "23505"
}
