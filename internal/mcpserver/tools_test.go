package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alexjbarnes/trialdesk/internal/apitest"
	"github.com/alexjbarnes/trialdesk/internal/dashboard"
	"github.com/alexjbarnes/trialdesk/internal/gateway"
	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/alexjbarnes/trialdesk/internal/state"
	"github.com/alexjbarnes/trialdesk/internal/trials"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSetup starts a fake API with some trial data, logs in, registers
// the tools on an MCP server and returns a connected client session.
func testSetup(t *testing.T) (*mcp.ClientSession, *apitest.Server, *state.Memory) {
	t.Helper()

	api := apitest.New(t)
	api.AddUser("agronomist", "s3cret")

	today := time.Now().Format(time.DateOnly)

	api.Add("seeds", apitest.Record{"name": "Maize", "variety": "Golden Bantam"})
	api.Add("seeds", apitest.Record{"name": "Wheat", "variety": "Red Fife"})
	api.Add("plots", apitest.Record{"name": "North", "location": "Field A"})
	api.Add("trials", apitest.Record{
		"seed":             map[string]any{"id": 1, "name": "Maize"},
		"plot":             map[string]any{"id": 1, "name": "North"},
		"observation_date": today,
	})
	api.Add("incidents", apitest.Record{
		"title": "Hail", "description": "", "severity": "high", "incident_date": today, "resolved": false,
		"plot":        map[string]any{"id": 1, "name": "North"},
		"reported_by": map[string]any{"id": 1, "username": "agronomist"},
	})

	store := state.NewMemory(models.Credentials{})
	g := gateway.New(gateway.Options{BaseURL: api.BaseURL(), HTTPClient: api.Client(), Store: store})

	ctx := context.Background()

	_, err := g.Login(ctx, "agronomist", "s3cret")
	require.NoError(t, err)

	server := mcp.NewServer(
		&mcp.Implementation{Name: "trialdesk-test", Version: "test"},
		nil,
	)
	RegisterTools(server, trials.New(g))

	t1, t2 := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(
		&mcp.Implementation{Name: "test-client", Version: "test"},
		nil,
	)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session, api, store
}

// callTool is a helper that calls a tool and returns the result.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest any) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestListTools(t *testing.T) {
	session, _, _ := testSetup(t)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}

	for _, want := range []string{
		"dashboard", "list_seeds", "search_seeds", "list_plots", "list_trials",
		"trial_summary", "list_incidents", "create_incident", "update_incident", "whoami",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

// --- dashboard ---

func TestDashboard(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "dashboard", nil)
	require.False(t, result.IsError, resultText(t, result))

	var out dashboard.Summary
	extractJSON(t, result, &out)
	assert.Equal(t, 2, out.TotalSeeds)
	assert.Equal(t, 1, out.TotalPlots)
	assert.Equal(t, 1, out.TotalTrials)
	assert.Equal(t, 1, out.RecentIncidents)
	assert.Equal(t, []models.CountBy{{Key: "Maize", Count: 1}}, out.TrialsByCrop)
}

// --- seeds and plots ---

func TestListSeeds(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "list_seeds", nil)
	require.False(t, result.IsError)

	var out SeedsResult
	extractJSON(t, result, &out)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, "Maize", out.Seeds[0].Name)
}

func TestSearchSeeds(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "search_seeds", map[string]any{"query": "fife"})
	require.False(t, result.IsError)

	var out SeedsResult
	extractJSON(t, result, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "Wheat", out.Seeds[0].Name)
}

func TestSearchSeeds_EmptyQuery(t *testing.T) {
	session, api, _ := testSetup(t)
	result := callTool(t, session, "search_seeds", map[string]any{"query": "  "})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "search query is empty")
	assert.Equal(t, 0, api.Hits("GET", "/seeds/search/"))
}

func TestListPlots(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "list_plots", nil)
	require.False(t, result.IsError)

	var out PlotsResult
	extractJSON(t, result, &out)
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "Field A", out.Plots[0].Location)
}

// --- trials ---

func TestListTrials_Filtered(t *testing.T) {
	session, _, _ := testSetup(t)

	result := callTool(t, session, "list_trials", map[string]any{"crop_name": "Maize"})
	require.False(t, result.IsError)

	var out TrialsResult
	extractJSON(t, result, &out)
	assert.Equal(t, 1, out.Count)

	result = callTool(t, session, "list_trials", map[string]any{"crop_name": "Barley"})
	require.False(t, result.IsError)
	extractJSON(t, result, &out)
	assert.Equal(t, 0, out.Count)
	assert.NotNil(t, out.Trials)
}

func TestTrialSummary(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "trial_summary", nil)
	require.False(t, result.IsError)

	var out models.TrialSummary
	extractJSON(t, result, &out)
	assert.Equal(t, 1, out.TotalTrials)
	assert.Equal(t, []models.CountBy{{Key: "Field A", Count: 1}}, out.TrialsByPlot)
}

// --- incidents ---

func TestListIncidents_BySeverity(t *testing.T) {
	session, _, _ := testSetup(t)

	result := callTool(t, session, "list_incidents", map[string]any{"severity": "HIGH"})
	require.False(t, result.IsError)

	var out IncidentsResult
	extractJSON(t, result, &out)
	assert.Equal(t, 1, out.Count)

	result = callTool(t, session, "list_incidents", map[string]any{"severity": "low"})
	require.False(t, result.IsError)
	extractJSON(t, result, &out)
	assert.Equal(t, 0, out.Count)
}

func TestCreateIncident(t *testing.T) {
	session, api, _ := testSetup(t)

	result := callTool(t, session, "create_incident", map[string]any{
		"title":         "Aphids",
		"severity":      "medium",
		"plot_id":       1,
		"incident_date": "2026-10-01",
	})
	require.False(t, result.IsError, resultText(t, result))

	var out models.Incident
	extractJSON(t, result, &out)
	assert.Equal(t, "Aphids", out.Title)
	assert.Equal(t, "North", out.Plot.Name)
	assert.Equal(t, "agronomist", out.ReportedBy.Username)
	assert.Equal(t, 1, api.Hits("POST", "/incidents/"))
}

func TestCreateIncident_OnTrial(t *testing.T) {
	session, api, _ := testSetup(t)

	result := callTool(t, session, "create_incident", map[string]any{
		"title":         "Lodging",
		"severity":      "low",
		"plot_id":       1,
		"incident_date": "2026-10-01",
		"trial_id":      "1",
	})
	require.False(t, result.IsError, resultText(t, result))
	assert.Equal(t, 1, api.Hits("POST", "/trials/1/add_incident/"))
	assert.Equal(t, "1", api.Get("incidents", 2)["trial"])
}

func TestCreateIncident_InvalidSeverity(t *testing.T) {
	session, api, _ := testSetup(t)

	result := callTool(t, session, "create_incident", map[string]any{
		"title":         "Frost",
		"severity":      "catastrophic",
		"plot_id":       1,
		"incident_date": "2026-10-01",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "severity")
	assert.Equal(t, 0, api.Hits("POST", "/incidents/"))
}

func TestUpdateIncident_ResolveShowsDiff(t *testing.T) {
	session, api, _ := testSetup(t)

	result := callTool(t, session, "update_incident", map[string]any{"id": "1", "resolved": true})
	require.False(t, result.IsError, resultText(t, result))

	var out UpdateIncidentResult
	extractJSON(t, result, &out)
	assert.True(t, out.Incident.Resolved)
	assert.Equal(t, "Hail", out.Incident.Title, "unchanged fields are kept")
	assert.Contains(t, out.Diff, `-  "resolved": false`)
	assert.Contains(t, out.Diff, `+  "resolved": true`)

	stored := api.Get("incidents", 1)
	assert.Equal(t, true, stored["resolved"])
	assert.Equal(t, "high", stored["severity"])
}

func TestUpdateIncident_NotFound(t *testing.T) {
	session, _, _ := testSetup(t)

	result := callTool(t, session, "update_incident", map[string]any{"id": "99", "resolved": true})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "404")
}

// --- session handling ---

func TestWhoami(t *testing.T) {
	session, _, _ := testSetup(t)
	result := callTool(t, session, "whoami", nil)
	require.False(t, result.IsError)

	var out models.User
	extractJSON(t, result, &out)
	assert.Equal(t, "agronomist", out.Username)
}

func TestExpiredAccess_RefreshedTransparently(t *testing.T) {
	session, api, _ := testSetup(t)
	api.ExpireAccessTokens()

	result := callTool(t, session, "whoami", nil)
	require.False(t, result.IsError)
	assert.Equal(t, int64(1), api.RefreshCalls())
}

func TestSessionExpired_ToldToLogin(t *testing.T) {
	session, api, store := testSetup(t)
	api.ExpireAccessTokens()
	api.RevokeRefreshTokens()

	result := callTool(t, session, "list_plots", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "trialdesk login")

	creds, _ := store.Credentials()
	assert.True(t, creds.Empty())

	// Nothing left to refresh with: still a login instruction.
	result = callTool(t, session, "list_seeds", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "trialdesk login")
}

func TestMergeIncident(t *testing.T) {
	current := models.Incident{
		Title: "Hail", Severity: models.SeverityHigh, IncidentDate: "2026-10-01",
		Plot: models.Ref{ID: "3"},
	}
	title := "Hail storm"

	in, err := mergeIncident(current, UpdateIncidentInput{ID: "1", Title: &title})
	require.NoError(t, err)
	assert.Equal(t, models.IncidentInput{
		Title: "Hail storm", Severity: models.SeverityHigh, Plot: 3, IncidentDate: "2026-10-01",
	}, in)

	_, err = mergeIncident(models.Incident{}, UpdateIncidentInput{ID: "1"})
	assert.Error(t, err)
}
