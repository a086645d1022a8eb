package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/caredesk/clinicsched/libs/db"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/booking"
	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
)

type TemplateRepository struct {
	pool *db.Pool
}

func NewTemplateRepository(pool *db.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

const templateColumns = `
	id::text, tenant_id::text, practitioner_id::text,
	weekday, start_minute, end_minute, slot_duration_minutes, max_concurrent, active, created_at`

func scanTemplate(row pgx.Row) (model.AvailabilityTemplate, error) {
	var tpl model.AvailabilityTemplate
	err := row.Scan(
		&tpl.ID,
		&tpl.TenantID,
		&tpl.PractitionerID,
		&tpl.Weekday,
		&tpl.StartMinute,
		&tpl.EndMinute,
		&tpl.SlotDurationMins,
		&tpl.MaxConcurrent,
		&tpl.Active,
		&tpl.CreatedAt,
	)
	return tpl, err
}

func (r *TemplateRepository) Create(ctx context.Context, tpl model.AvailabilityTemplate) (model.AvailabilityTemplate, error) {
	created, err := scanTemplate(r.pool.QueryRow(ctx, `
		INSERT INTO availability_templates
			(id, tenant_id, practitioner_id, weekday, start_minute, end_minute, slot_duration_minutes, max_concurrent, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+templateColumns,
		tpl.ID, tpl.TenantID, tpl.PractitionerID, tpl.Weekday, tpl.StartMinute, tpl.EndMinute,
		tpl.SlotDurationMins, tpl.MaxConcurrent, tpl.Active,
	))
	if err != nil {
		return model.AvailabilityTemplate{}, err
	}
	return created, nil
}

func (r *TemplateRepository) ListByPractitioner(ctx context.Context, tenantID, practitionerID string) ([]model.AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE tenant_id = $1 AND practitioner_id = $2
		ORDER BY weekday ASC, start_minute ASC
	`, tenantID, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (r *TemplateRepository) ListActiveForWeekday(ctx context.Context, tenantID, practitionerID string, weekday int) ([]model.AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE tenant_id = $1 AND practitioner_id = $2 AND weekday = $3 AND active
		ORDER BY start_minute ASC
	`, tenantID, practitionerID, weekday)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTemplates(rows)
}

func (r *TemplateRepository) Deactivate(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_templates
		SET active = false
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %s", booking.ErrNotFound, id)
	}
	return nil
}

func collectTemplates(rows pgx.Rows) ([]model.AvailabilityTemplate, error) {
	var templates []model.AvailabilityTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return templates, nil
}
