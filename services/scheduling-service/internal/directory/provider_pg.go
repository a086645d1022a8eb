package directory

import (
	"context"

	"github.com/caredesk/clinicsched/libs/db"
)

// PGProvider answers directory checks straight from the shared clinic schema.
// It is the default; production deployments that split the directory into its
// own service swap in the gRPC provider instead.
type PGProvider struct {
	pool *db.Pool
}

func NewPGProvider(pool *db.Pool) *PGProvider {
	return &PGProvider{pool: pool}
}

func (p *PGProvider) PractitionerActive(ctx context.Context, tenantID, practitionerID string) (bool, error) {
	return p.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM practitioners
			WHERE id = $1 AND tenant_id = $2 AND is_active
		)
	`, practitionerID, tenantID)
}

func (p *PGProvider) PatientActive(ctx context.Context, tenantID, patientID string) (bool, error) {
	return p.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patients
			WHERE id = $1 AND tenant_id = $2 AND is_active
		)
	`, patientID, tenantID)
}

func (p *PGProvider) AreaActive(ctx context.Context, tenantID, areaID string) (bool, error) {
	return p.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM areas
			WHERE id = $1 AND tenant_id = $2 AND is_active
		)
	`, areaID, tenantID)
}

func (p *PGProvider) PractitionersInArea(ctx context.Context, tenantID, areaID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text
		FROM practitioners
		WHERE tenant_id = $1 AND area_id = $2 AND is_active
		ORDER BY id
	`, tenantID, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}

func (p *PGProvider) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, query, args...).Scan(&ok)
	return ok, err
}
