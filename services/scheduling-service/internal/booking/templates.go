package booking

import (
	"context"
	"fmt"

	"github.com/caredesk/clinicsched/services/scheduling-service/internal/model"
)

// Template administration. Templates are owned by clinic administrators and
// are never mutated by the booking flow; removal is a soft deactivation.

func (s *Service) CreateTemplate(ctx context.Context, actor Actor, tpl model.AvailabilityTemplate) (model.AvailabilityTemplate, error) {
	if actor.Role != RoleAdmin {
		return model.AvailabilityTemplate{}, fmt.Errorf("%w: only administrators may manage availability templates", ErrForbidden)
	}
	tpl.TenantID = actor.TenantID
	if tpl.MaxConcurrent == 0 {
		tpl.MaxConcurrent = 1
	}
	if err := tpl.Validate(); err != nil {
		return model.AvailabilityTemplate{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ok, err := s.directory.PractitionerActive(ctx, actor.TenantID, tpl.PractitionerID)
	if err != nil {
		return model.AvailabilityTemplate{}, err
	}
	if !ok {
		return model.AvailabilityTemplate{}, fmt.Errorf("%w: practitioner %s", ErrNotFound, tpl.PractitionerID)
	}

	tpl.ID = s.newID()
	tpl.Active = true
	created, err := s.templates.Create(ctx, tpl)
	if err != nil {
		return model.AvailabilityTemplate{}, err
	}
	s.logger.Info("availability template created",
		"template_id", created.ID,
		"practitioner_id", created.PractitionerID,
		"weekday", created.Weekday,
	)
	return created, nil
}

func (s *Service) ListTemplates(ctx context.Context, actor Actor, practitionerID string) ([]model.AvailabilityTemplate, error) {
	if practitionerID == "" {
		return nil, fmt.Errorf("%w: practitioner_id is required", ErrValidation)
	}
	return s.templates.ListByPractitioner(ctx, actor.TenantID, practitionerID)
}

func (s *Service) DeactivateTemplate(ctx context.Context, actor Actor, templateID string) error {
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: only administrators may manage availability templates", ErrForbidden)
	}
	if err := s.templates.Deactivate(ctx, actor.TenantID, templateID); err != nil {
		return err
	}
	s.logger.Info("availability template deactivated", "template_id", templateID)
	return nil
}
