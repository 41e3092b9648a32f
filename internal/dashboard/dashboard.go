// Package dashboard builds the overview shown by `trialdesk dashboard`
// and the dashboard MCP tool.
package dashboard

import (
	"context"
	"fmt"

	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/alexjbarnes/trialdesk/internal/trials"
	"golang.org/x/sync/errgroup"
)

// Summary is the aggregate overview of the trial data.
type Summary struct {
	TotalSeeds      int              `json:"total_seeds"`
	TotalPlots      int              `json:"total_plots"`
	TotalTrials     int              `json:"total_trials"`
	RecentIncidents int              `json:"recent_incidents"`
	TrialsByCrop    []models.CountBy `json:"trials_by_crop"`
	TrialsByPlot    []models.CountBy `json:"trials_by_plot"`
}

// Build issues the four dashboard calls concurrently. Any failure fails
// the whole build.
func Build(ctx context.Context, api *trials.Client) (*Summary, error) {
	var (
		seeds     []models.Seed
		plots     []models.Plot
		trialSum  models.TrialSummary
		incidents models.IncidentSummary
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		seeds, err = api.Seeds.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		plots, err = api.Plots.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		trialSum, err = api.Trials.Summary(gctx, trials.TrialFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		incidents, err = api.Incidents.Summary(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load dashboard data: %w", err)
	}

	byCrop := trialSum.TrialsByCrop
	if byCrop == nil {
		byCrop = []models.CountBy{}
	}

	byPlot := trialSum.TrialsByPlot
	if byPlot == nil {
		byPlot = []models.CountBy{}
	}

	return &Summary{
		TotalSeeds:      len(seeds),
		TotalPlots:      len(plots),
		TotalTrials:     trialSum.TotalTrials,
		RecentIncidents: incidents.RecentIncidents,
		TrialsByCrop:    byCrop,
		TrialsByPlot:    byPlot,
	}, nil
}
