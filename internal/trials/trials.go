package trials

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// TrialFilter narrows trial listings, searches and summaries. Dates are
// YYYY-MM-DD. Zero fields are not sent.
type TrialFilter struct {
	StartDate    string
	EndDate      string
	Date         string
	PlotID       string
	PlotLocation string
	CropName     string
	Collector    string
}

// Values encodes the filter as query parameters.
func (f TrialFilter) Values() url.Values {
	v := url.Values{}
	set(v, "start_date", f.StartDate)
	set(v, "end_date", f.EndDate)
	set(v, "date", f.Date)
	set(v, "plot_id", f.PlotID)
	set(v, "plot_location", f.PlotLocation)
	set(v, "crop_name", f.CropName)
	set(v, "collector", f.Collector)

	return v
}

func set(v url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		v.Set(key, value)
	}
}

// TrialService covers /trials/.
type TrialService struct {
	api Requester
}

// List returns trials matching filter.
func (s *TrialService) List(ctx context.Context, filter TrialFilter) ([]models.Trial, error) {
	trials, err := getJSON[[]models.Trial](ctx, s.api, "/trials/", filter.Values())
	if err != nil {
		return nil, fmt.Errorf("listing trials: %w", err)
	}

	return trials, nil
}

// Get returns trial id.
func (s *TrialService) Get(ctx context.Context, id string) (models.Trial, error) {
	path, err := itemPath("trials", id)
	if err != nil {
		return models.Trial{}, err
	}

	trial, err := getJSON[models.Trial](ctx, s.api, path, nil)
	if err != nil {
		return models.Trial{}, fmt.Errorf("getting trial %s: %w", id, err)
	}

	return trial, nil
}

// Create posts body, any JSON-encodable trial document.
func (s *TrialService) Create(ctx context.Context, body any) (models.Trial, error) {
	trial, err := sendJSON[models.Trial](ctx, s.api, http.MethodPost, "/trials/", body)
	if err != nil {
		return models.Trial{}, fmt.Errorf("creating trial: %w", err)
	}

	return trial, nil
}

// Update replaces trial id with body.
func (s *TrialService) Update(ctx context.Context, id string, body any) (models.Trial, error) {
	path, err := itemPath("trials", id)
	if err != nil {
		return models.Trial{}, err
	}

	trial, err := sendJSON[models.Trial](ctx, s.api, http.MethodPut, path, body)
	if err != nil {
		return models.Trial{}, fmt.Errorf("updating trial %s: %w", id, err)
	}

	return trial, nil
}

// Delete removes trial id.
func (s *TrialService) Delete(ctx context.Context, id string) error {
	path, err := itemPath("trials", id)
	if err != nil {
		return err
	}

	if err := deletePath(ctx, s.api, path); err != nil {
		return fmt.Errorf("deleting trial %s: %w", id, err)
	}

	return nil
}

// Search is List against the dedicated search endpoint.
func (s *TrialService) Search(ctx context.Context, filter TrialFilter) ([]models.Trial, error) {
	trials, err := getJSON[[]models.Trial](ctx, s.api, "/trials/search/", filter.Values())
	if err != nil {
		return nil, fmt.Errorf("searching trials: %w", err)
	}

	return trials, nil
}

// Plots lists the plots linked to trial id.
func (s *TrialService) Plots(ctx context.Context, id string) ([]models.Plot, error) {
	path, err := itemPath("trials", id, "plots")
	if err != nil {
		return nil, err
	}

	plots, err := getJSON[[]models.Plot](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing plots for trial %s: %w", id, err)
	}

	return plots, nil
}

// Seeds lists the seeds linked to trial id.
func (s *TrialService) Seeds(ctx context.Context, id string) ([]models.Seed, error) {
	path, err := itemPath("trials", id, "seeds")
	if err != nil {
		return nil, err
	}

	seeds, err := getJSON[[]models.Seed](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing seeds for trial %s: %w", id, err)
	}

	return seeds, nil
}

// Incidents lists the incidents reported against trial id.
func (s *TrialService) Incidents(ctx context.Context, id string) ([]models.Incident, error) {
	path, err := itemPath("trials", id, "incidents")
	if err != nil {
		return nil, err
	}

	incidents, err := getJSON[[]models.Incident](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing incidents for trial %s: %w", id, err)
	}

	return incidents, nil
}

// Summary returns trial counts grouped by crop, plot and collector.
func (s *TrialService) Summary(ctx context.Context, filter TrialFilter) (models.TrialSummary, error) {
	summary, err := getJSON[models.TrialSummary](ctx, s.api, "/trials/summary/", filter.Values())
	if err != nil {
		return models.TrialSummary{}, fmt.Errorf("getting trial summary: %w", err)
	}

	return summary, nil
}

// AddIncident reports an incident against trial id.
func (s *TrialService) AddIncident(ctx context.Context, id string, in models.IncidentInput) (models.Incident, error) {
	if err := in.Validate(); err != nil {
		return models.Incident{}, err
	}

	path, err := itemPath("trials", id, "add_incident")
	if err != nil {
		return models.Incident{}, err
	}

	incident, err := sendJSON[models.Incident](ctx, s.api, http.MethodPost, path, in)
	if err != nil {
		return models.Incident{}, fmt.Errorf("adding incident to trial %s: %w", id, err)
	}

	return incident, nil
}
