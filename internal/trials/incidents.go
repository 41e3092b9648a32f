package trials

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// IncidentFilter narrows incident listings. Type is a severity level.
type IncidentFilter struct {
	Type      models.Severity
	StartDate string
	EndDate   string
}

// Values encodes the filter as query parameters.
func (f IncidentFilter) Values() url.Values {
	v := url.Values{}
	set(v, "type", string(f.Type))
	set(v, "start_date", f.StartDate)
	set(v, "end_date", f.EndDate)

	return v
}

// IncidentService covers /incidents/.
type IncidentService struct {
	api Requester
}

// List returns incidents matching filter.
func (s *IncidentService) List(ctx context.Context, filter IncidentFilter) ([]models.Incident, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("listing incidents: unknown severity %q", filter.Type)
	}

	incidents, err := getJSON[[]models.Incident](ctx, s.api, "/incidents/", filter.Values())
	if err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}

	return incidents, nil
}

// Get returns incident id.
func (s *IncidentService) Get(ctx context.Context, id string) (models.Incident, error) {
	path, err := itemPath("incidents", id)
	if err != nil {
		return models.Incident{}, err
	}

	incident, err := getJSON[models.Incident](ctx, s.api, path, nil)
	if err != nil {
		return models.Incident{}, fmt.Errorf("getting incident %s: %w", id, err)
	}

	return incident, nil
}

// Create validates in and posts it as a new incident.
func (s *IncidentService) Create(ctx context.Context, in models.IncidentInput) (models.Incident, error) {
	if err := in.Validate(); err != nil {
		return models.Incident{}, err
	}

	incident, err := sendJSON[models.Incident](ctx, s.api, http.MethodPost, "/incidents/", in)
	if err != nil {
		return models.Incident{}, fmt.Errorf("creating incident: %w", err)
	}

	return incident, nil
}

// Update validates in and replaces incident id with it.
func (s *IncidentService) Update(ctx context.Context, id string, in models.IncidentInput) (models.Incident, error) {
	if err := in.Validate(); err != nil {
		return models.Incident{}, err
	}

	path, err := itemPath("incidents", id)
	if err != nil {
		return models.Incident{}, err
	}

	incident, err := sendJSON[models.Incident](ctx, s.api, http.MethodPut, path, in)
	if err != nil {
		return models.Incident{}, fmt.Errorf("updating incident %s: %w", id, err)
	}

	return incident, nil
}

// Delete removes incident id.
func (s *IncidentService) Delete(ctx context.Context, id string) error {
	path, err := itemPath("incidents", id)
	if err != nil {
		return err
	}

	if err := deletePath(ctx, s.api, path); err != nil {
		return fmt.Errorf("deleting incident %s: %w", id, err)
	}

	return nil
}

// Summary returns incident counts by type and severity.
func (s *IncidentService) Summary(ctx context.Context) (models.IncidentSummary, error) {
	summary, err := getJSON[models.IncidentSummary](ctx, s.api, "/incidents/summary/", nil)
	if err != nil {
		return models.IncidentSummary{}, fmt.Errorf("getting incident summary: %w", err)
	}

	return summary, nil
}
