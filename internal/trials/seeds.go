package trials

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// SeedService covers /seeds/.
type SeedService struct {
	api Requester
}

// List returns every seed.
func (s *SeedService) List(ctx context.Context) ([]models.Seed, error) {
	seeds, err := getJSON[[]models.Seed](ctx, s.api, "/seeds/", nil)
	if err != nil {
		return nil, fmt.Errorf("listing seeds: %w", err)
	}

	return seeds, nil
}

// Get returns seed id.
func (s *SeedService) Get(ctx context.Context, id string) (models.Seed, error) {
	path, err := itemPath("seeds", id)
	if err != nil {
		return models.Seed{}, err
	}

	seed, err := getJSON[models.Seed](ctx, s.api, path, nil)
	if err != nil {
		return models.Seed{}, fmt.Errorf("getting seed %s: %w", id, err)
	}

	return seed, nil
}

// Create posts body, any JSON-encodable seed document.
func (s *SeedService) Create(ctx context.Context, body any) (models.Seed, error) {
	seed, err := sendJSON[models.Seed](ctx, s.api, http.MethodPost, "/seeds/", body)
	if err != nil {
		return models.Seed{}, fmt.Errorf("creating seed: %w", err)
	}

	return seed, nil
}

// Update replaces seed id with body.
func (s *SeedService) Update(ctx context.Context, id string, body any) (models.Seed, error) {
	path, err := itemPath("seeds", id)
	if err != nil {
		return models.Seed{}, err
	}

	seed, err := sendJSON[models.Seed](ctx, s.api, http.MethodPut, path, body)
	if err != nil {
		return models.Seed{}, fmt.Errorf("updating seed %s: %w", id, err)
	}

	return seed, nil
}

// Delete removes seed id.
func (s *SeedService) Delete(ctx context.Context, id string) error {
	path, err := itemPath("seeds", id)
	if err != nil {
		return err
	}

	if err := deletePath(ctx, s.api, path); err != nil {
		return fmt.Errorf("deleting seed %s: %w", id, err)
	}

	return nil
}

// Search matches q against seed names and varieties.
func (s *SeedService) Search(ctx context.Context, q string) ([]models.Seed, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return nil, fmt.Errorf("searching seeds: %w", err)
	}

	seeds, err := getJSON[[]models.Seed](ctx, s.api, "/seeds/search/", url.Values{"q": {q}})
	if err != nil {
		return nil, fmt.Errorf("searching seeds: %w", err)
	}

	return seeds, nil
}

// Trials lists the trials run with seed id.
func (s *SeedService) Trials(ctx context.Context, id string) ([]models.Trial, error) {
	path, err := itemPath("seeds", id, "trials")
	if err != nil {
		return nil, err
	}

	trials, err := getJSON[[]models.Trial](ctx, s.api, path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing trials for seed %s: %w", id, err)
	}

	return trials, nil
}

// Performance returns trial and incident statistics for seed id.
func (s *SeedService) Performance(ctx context.Context, id string) (models.SeedPerformance, error) {
	path, err := itemPath("seeds", id, "performance")
	if err != nil {
		return models.SeedPerformance{}, err
	}

	perf, err := getJSON[models.SeedPerformance](ctx, s.api, path, nil)
	if err != nil {
		return models.SeedPerformance{}, fmt.Errorf("getting performance for seed %s: %w", id, err)
	}

	return perf, nil
}
