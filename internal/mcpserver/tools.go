// Package mcpserver registers MCP tools that expose trial data. It adapts
// the trials client to the MCP SDK's tool handler interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexjbarnes/trialdesk/internal/dashboard"
	"github.com/alexjbarnes/trialdesk/internal/gateway"
	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/alexjbarnes/trialdesk/internal/render"
	"github.com/alexjbarnes/trialdesk/internal/trials"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterTools adds all trial tools to the given MCP server.
func RegisterTools(server *mcp.Server, api *trials.Client) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dashboard",
		Description: "Overview of the trial data: seed, plot and trial totals, incidents in the last 7 days, and trial counts by crop and by plot location.",
	}, dashboardHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_seeds",
		Description: "List every seed variety under trial.",
	}, listSeedsHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_seeds",
		Description: "Search seeds by name or variety. Case-insensitive substring match.",
	}, searchSeedsHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_plots",
		Description: "List every field plot with its location, area and soil type.",
	}, listPlotsHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_trials",
		Description: "List trials, optionally filtered by observation date range, exact date, plot, plot location, crop name or collector. Dates are YYYY-MM-DD.",
	}, listTrialsHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "trial_summary",
		Description: "Aggregate trial counts by crop, plot location and collector, with the same filters as list_trials.",
	}, trialSummaryHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_incidents",
		Description: "List incidents, optionally filtered by severity (low, medium, high) and incident date range.",
	}, listIncidentsHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_incident",
		Description: "Report an incident on a plot. When trial_id is given the incident is attached to that trial.",
	}, createIncidentHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_incident",
		Description: "Change fields of an existing incident, e.g. mark it resolved. Omitted fields keep their current value. Returns the updated incident and a line diff of the change.",
	}, updateIncidentHandler(api))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "whoami",
		Description: "Show the user the session is logged in as.",
	}, whoamiHandler(api))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// EmptyInput is used by tools without parameters.
type EmptyInput struct{}

// SearchInput holds parameters for search_seeds.
type SearchInput struct {
	Query string `json:"query" jsonschema:"search text matched against seed name and variety"`
}

// TrialFilterInput holds the filters shared by list_trials and
// trial_summary.
type TrialFilterInput struct {
	StartDate    string `json:"start_date,omitempty" jsonschema:"earliest observation date, YYYY-MM-DD"`
	EndDate      string `json:"end_date,omitempty" jsonschema:"latest observation date, YYYY-MM-DD"`
	Date         string `json:"date,omitempty" jsonschema:"exact observation date, YYYY-MM-DD"`
	PlotID       string `json:"plot_id,omitempty" jsonschema:"plot id"`
	PlotLocation string `json:"plot_location,omitempty" jsonschema:"plot location, substring match"`
	CropName     string `json:"crop_name,omitempty" jsonschema:"seed name"`
	Collector    string `json:"collector,omitempty" jsonschema:"data collector"`
}

func (in TrialFilterInput) filter() trials.TrialFilter {
	return trials.TrialFilter{
		StartDate:    in.StartDate,
		EndDate:      in.EndDate,
		Date:         in.Date,
		PlotID:       in.PlotID,
		PlotLocation: in.PlotLocation,
		CropName:     in.CropName,
		Collector:    in.Collector,
	}
}

// IncidentFilterInput holds parameters for list_incidents.
type IncidentFilterInput struct {
	Severity  string `json:"severity,omitempty" jsonschema:"low, medium or high"`
	StartDate string `json:"start_date,omitempty" jsonschema:"earliest incident date, YYYY-MM-DD"`
	EndDate   string `json:"end_date,omitempty" jsonschema:"latest incident date, YYYY-MM-DD"`
}

// CreateIncidentInput holds parameters for create_incident.
type CreateIncidentInput struct {
	Title        string `json:"title" jsonschema:"short title"`
	Description  string `json:"description,omitempty" jsonschema:"details"`
	Severity     string `json:"severity" jsonschema:"low, medium or high"`
	PlotID       int64  `json:"plot_id" jsonschema:"plot the incident happened on"`
	IncidentDate string `json:"incident_date" jsonschema:"YYYY-MM-DD"`
	TrialID      string `json:"trial_id,omitempty" jsonschema:"trial to attach the incident to"`
}

// UpdateIncidentInput holds parameters for update_incident.
type UpdateIncidentInput struct {
	ID           string  `json:"id" jsonschema:"incident id"`
	Title        *string `json:"title,omitempty" jsonschema:"new title"`
	Description  *string `json:"description,omitempty" jsonschema:"new description"`
	Severity     *string `json:"severity,omitempty" jsonschema:"low, medium or high"`
	PlotID       *int64  `json:"plot_id,omitempty" jsonschema:"new plot id"`
	IncidentDate *string `json:"incident_date,omitempty" jsonschema:"YYYY-MM-DD"`
	Resolved     *bool   `json:"resolved,omitempty" jsonschema:"whether the incident is resolved"`
}

// --- Output types ---

// SeedsResult wraps a seed list; tool output must be an object.
type SeedsResult struct {
	Count int           `json:"count"`
	Seeds []models.Seed `json:"seeds"`
}

// PlotsResult wraps a plot list.
type PlotsResult struct {
	Count int           `json:"count"`
	Plots []models.Plot `json:"plots"`
}

// TrialsResult wraps a trial list.
type TrialsResult struct {
	Count  int            `json:"count"`
	Trials []models.Trial `json:"trials"`
}

// IncidentsResult wraps an incident list.
type IncidentsResult struct {
	Count     int               `json:"count"`
	Incidents []models.Incident `json:"incidents"`
}

// UpdateIncidentResult is the updated incident and what changed.
type UpdateIncidentResult struct {
	Incident models.Incident `json:"incident"`
	Diff     string          `json:"diff"`
}

// --- Handlers ---

func dashboardHandler(api *trials.Client) mcp.ToolHandlerFor[EmptyInput, *dashboard.Summary] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *dashboard.Summary, error) {
		result, err := dashboard.Build(ctx, api)
		if err != nil {
			return nil, nil, toolError(err)
		}
		return textResult(result), result, nil
	}
}

func listSeedsHandler(api *trials.Client) mcp.ToolHandlerFor[EmptyInput, *SeedsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *SeedsResult, error) {
		seeds, err := api.Seeds.List(ctx)
		if err != nil {
			return nil, nil, toolError(err)
		}
		result := &SeedsResult{Count: len(seeds), Seeds: nonNil(seeds)}
		return textResult(result), result, nil
	}
}

func searchSeedsHandler(api *trials.Client) mcp.ToolHandlerFor[SearchInput, *SeedsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, *SeedsResult, error) {
		seeds, err := api.Seeds.Search(ctx, input.Query)
		if err != nil {
			return nil, nil, toolError(err)
		}
		result := &SeedsResult{Count: len(seeds), Seeds: nonNil(seeds)}
		return textResult(result), result, nil
	}
}

func listPlotsHandler(api *trials.Client) mcp.ToolHandlerFor[EmptyInput, *PlotsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *PlotsResult, error) {
		plots, err := api.Plots.List(ctx)
		if err != nil {
			return nil, nil, toolError(err)
		}
		result := &PlotsResult{Count: len(plots), Plots: nonNil(plots)}
		return textResult(result), result, nil
	}
}

func listTrialsHandler(api *trials.Client) mcp.ToolHandlerFor[TrialFilterInput, *TrialsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TrialFilterInput) (*mcp.CallToolResult, *TrialsResult, error) {
		list, err := api.Trials.List(ctx, input.filter())
		if err != nil {
			return nil, nil, toolError(err)
		}
		result := &TrialsResult{Count: len(list), Trials: nonNil(list)}
		return textResult(result), result, nil
	}
}

func trialSummaryHandler(api *trials.Client) mcp.ToolHandlerFor[TrialFilterInput, *models.TrialSummary] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input TrialFilterInput) (*mcp.CallToolResult, *models.TrialSummary, error) {
		summary, err := api.Trials.Summary(ctx, input.filter())
		if err != nil {
			return nil, nil, toolError(err)
		}
		return textResult(summary), &summary, nil
	}
}

func listIncidentsHandler(api *trials.Client) mcp.ToolHandlerFor[IncidentFilterInput, *IncidentsResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input IncidentFilterInput) (*mcp.CallToolResult, *IncidentsResult, error) {
		list, err := api.Incidents.List(ctx, trials.IncidentFilter{
			Type:      models.Severity(strings.ToLower(input.Severity)),
			StartDate: input.StartDate,
			EndDate:   input.EndDate,
		})
		if err != nil {
			return nil, nil, toolError(err)
		}
		result := &IncidentsResult{Count: len(list), Incidents: nonNil(list)}
		return textResult(result), result, nil
	}
}

func createIncidentHandler(api *trials.Client) mcp.ToolHandlerFor[CreateIncidentInput, *models.Incident] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CreateIncidentInput) (*mcp.CallToolResult, *models.Incident, error) {
		in := models.IncidentInput{
			Title:        input.Title,
			Description:  input.Description,
			Severity:     models.Severity(strings.ToLower(input.Severity)),
			Plot:         input.PlotID,
			IncidentDate: input.IncidentDate,
		}

		var (
			incident models.Incident
			err      error
		)
		if input.TrialID != "" {
			incident, err = api.Trials.AddIncident(ctx, input.TrialID, in)
		} else {
			incident, err = api.Incidents.Create(ctx, in)
		}
		if err != nil {
			return nil, nil, toolError(err)
		}
		return textResult(incident), &incident, nil
	}
}

func updateIncidentHandler(api *trials.Client) mcp.ToolHandlerFor[UpdateIncidentInput, *UpdateIncidentResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UpdateIncidentInput) (*mcp.CallToolResult, *UpdateIncidentResult, error) {
		before, err := api.Incidents.Get(ctx, input.ID)
		if err != nil {
			return nil, nil, toolError(err)
		}

		in, err := mergeIncident(before, input)
		if err != nil {
			return nil, nil, err
		}

		after, err := api.Incidents.Update(ctx, input.ID, in)
		if err != nil {
			return nil, nil, toolError(err)
		}

		diff, err := render.Diff(before, after)
		if err != nil {
			return nil, nil, err
		}

		result := &UpdateIncidentResult{Incident: after, Diff: diff}
		return textResult(result), result, nil
	}
}

// mergeIncident applies the fields set in input over the current
// incident, producing the full write form the API expects.
func mergeIncident(current models.Incident, input UpdateIncidentInput) (models.IncidentInput, error) {
	plot, err := current.Plot.ID.Int()
	if err != nil && input.PlotID == nil {
		return models.IncidentInput{}, fmt.Errorf("incident %s has no usable plot id: %w", input.ID, err)
	}

	in := models.IncidentInput{
		Title:        current.Title,
		Description:  current.Description,
		Severity:     current.Severity,
		Plot:         plot,
		IncidentDate: current.IncidentDate,
		Resolved:     current.Resolved,
	}

	if input.Title != nil {
		in.Title = *input.Title
	}
	if input.Description != nil {
		in.Description = *input.Description
	}
	if input.Severity != nil {
		in.Severity = models.Severity(strings.ToLower(*input.Severity))
	}
	if input.PlotID != nil {
		in.Plot = *input.PlotID
	}
	if input.IncidentDate != nil {
		in.IncidentDate = *input.IncidentDate
	}
	if input.Resolved != nil {
		in.Resolved = *input.Resolved
	}

	return in, nil
}

func whoamiHandler(api *trials.Client) mcp.ToolHandlerFor[EmptyInput, *models.User] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *models.User, error) {
		user, err := api.Users.Me(ctx)
		if err != nil {
			return nil, nil, toolError(err)
		}
		return textResult(user), &user, nil
	}
}

// toolError rewrites session failures into an instruction the user can
// act on. The SDK reports a returned error as a tool error result.
func toolError(err error) error {
	if gateway.IsSessionError(err) {
		return fmt.Errorf("not logged in or session expired, run `trialdesk login` and retry: %w", err)
	}

	return err
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
