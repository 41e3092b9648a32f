package trials

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// PlotService covers /plots/.
type PlotService struct {
	api Requester
}

// List returns every plot.
func (s *PlotService) List(ctx context.Context) ([]models.Plot, error) {
	plots, err := getJSON[[]models.Plot](ctx, s.api, "/plots/", nil)
	if err != nil {
		return nil, fmt.Errorf("listing plots: %w", err)
	}

	return plots, nil
}

// Get returns plot id.
func (s *PlotService) Get(ctx context.Context, id string) (models.Plot, error) {
	path, err := itemPath("plots", id)
	if err != nil {
		return models.Plot{}, err
	}

	plot, err := getJSON[models.Plot](ctx, s.api, path, nil)
	if err != nil {
		return models.Plot{}, fmt.Errorf("getting plot %s: %w", id, err)
	}

	return plot, nil
}

// Create posts body, any JSON-encodable plot document.
func (s *PlotService) Create(ctx context.Context, body any) (models.Plot, error) {
	plot, err := sendJSON[models.Plot](ctx, s.api, http.MethodPost, "/plots/", body)
	if err != nil {
		return models.Plot{}, fmt.Errorf("creating plot: %w", err)
	}

	return plot, nil
}

// Update replaces plot id with body.
func (s *PlotService) Update(ctx context.Context, id string, body any) (models.Plot, error) {
	path, err := itemPath("plots", id)
	if err != nil {
		return models.Plot{}, err
	}

	plot, err := sendJSON[models.Plot](ctx, s.api, http.MethodPut, path, body)
	if err != nil {
		return models.Plot{}, fmt.Errorf("updating plot %s: %w", id, err)
	}

	return plot, nil
}

// Delete removes plot id.
func (s *PlotService) Delete(ctx context.Context, id string) error {
	path, err := itemPath("plots", id)
	if err != nil {
		return err
	}

	if err := deletePath(ctx, s.api, path); err != nil {
		return fmt.Errorf("deleting plot %s: %w", id, err)
	}

	return nil
}

// Search matches q against plot names and locations.
func (s *PlotService) Search(ctx context.Context, q string) ([]models.Plot, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, fmt.Errorf("searching plots: %w", err)
	}

	plots, err := getJSON[[]models.Plot](ctx, s.api, "/plots/search/", url.Values{"q": {q}})
	if err != nil {
		return nil, fmt.Errorf("searching plots: %w", err)
	}

	return plots, nil
}

// ActiveTrials lists the trials on plot id that have not ended.
func (s *PlotService) ActiveTrials(ctx context.Context, id string) ([]models.Trial, error) {
	path, err := itemPath("plots", id, "active_trials")
	if err != nil {
		return nil, err
	}

	trials, err := getJSON[[]models.Trial](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing active trials for plot %s: %w", id, err)
	}

	return trials, nil
}

// Incidents lists the incidents reported on plot id.
func (s *PlotService) Incidents(ctx context.Context, id string) ([]models.Incident, error) {
	path, err := itemPath("plots", id, "incidents")
	if err != nil {
		return nil, err
	}

	incidents, err := getJSON[[]models.Incident](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing incidents for plot %s: %w", id, err)
	}

	return incidents, nil
}
