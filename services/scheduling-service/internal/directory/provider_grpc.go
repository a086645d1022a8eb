//go:build protogen

package directory

import (
	"context"
	"time"

	"github.com/caredesk/clinicsched/libs/grpcx"
	directoryv1 "github.com/caredesk/clinicsched/protos/gen/directory/v1"
)

type grpcProvider struct {
	client directoryv1.DirectoryServiceClient
}

// NewRemoteProvider dials the standalone directory service. An empty address
// means "not deployed"; callers fall back to the pg provider.
func NewRemoteProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: directoryv1.NewDirectoryServiceClient(conn)}, nil
}

func (p *grpcProvider) PractitionerActive(ctx context.Context, tenantID, practitionerID string) (bool, error) {
	resp, err := p.client.CheckEntity(ctx, &directoryv1.CheckEntityRequest{
		TenantId: tenantID,
		Kind:     directoryv1.EntityKind_ENTITY_KIND_PRACTITIONER,
		EntityId: practitionerID,
	})
	if err != nil {
		return false, err
	}
	return resp.GetActive(), nil
}

func (p *grpcProvider) PatientActive(ctx context.Context, tenantID, patientID string) (bool, error) {
	resp, err := p.client.CheckEntity(ctx, &directoryv1.CheckEntityRequest{
		TenantId: tenantID,
		Kind:     directoryv1.EntityKind_ENTITY_KIND_PATIENT,
		EntityId: patientID,
	})
	if err != nil {
		return false, err
	}
	return resp.GetActive(), nil
}

func (p *grpcProvider) AreaActive(ctx context.Context, tenantID, areaID string) (bool, error) {
	resp, err := p.client.CheckEntity(ctx, &directoryv1.CheckEntityRequest{
		TenantId: tenantID,
		Kind:     directoryv1.EntityKind_ENTITY_KIND_AREA,
		EntityId: areaID,
	})
	if err != nil {
		return false, err
	}
	return resp.GetActive(), nil
}

func (p *grpcProvider) PractitionersInArea(ctx context.Context, tenantID, areaID string) ([]string, error) {
	resp, err := p.client.ListAreaPractitioners(ctx, &directoryv1.ListAreaPractitionersRequest{
		TenantId: tenantID,
		AreaId:   areaID,
	})
	if err != nil {
		return nil, err
	}
	return resp.GetPractitionerIds(), nil
}
