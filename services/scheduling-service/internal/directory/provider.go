package directory

import "context"

// Provider answers existence/membership questions about the clinic directory.
// The scheduling service trusts these answers and does not re-derive tenant
// scoping itself.
type Provider interface {
	PractitionerActive(ctx context.Context, tenantID, practitionerID string) (bool, error)
	PatientActive(ctx context.Context, tenantID, patientID string) (bool, error)
	AreaActive(ctx context.Context, tenantID, areaID string) (bool, error)
	PractitionersInArea(ctx context.Context, tenantID, areaID string) ([]string, error)
}
