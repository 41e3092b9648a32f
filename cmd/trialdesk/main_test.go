package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexjbarnes/trialdesk/internal/apitest"
	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t   *testing.T
	api *apitest.Server
}

func newCLI(t *testing.T) *cli {
	t.Helper()

	api := apitest.New(t)
	api.AddUser("agronomist", "s3cret")

	t.Setenv("TRIALDESK_API_URL", api.BaseURL())
	t.Setenv("TRIALDESK_STATE_PATH", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("TRIALDESK_USERNAME", "")
	t.Setenv("TRIALDESK_PASSWORD", "")
	t.Setenv("LOG_LEVEL", "error")

	return &cli{t: t, api: api}
}

// exec runs one command line and returns its exit code and output.
func (c *cli) exec(stdin string, args ...string) (code int, stdout, stderr string) {
	c.t.Helper()

	var out, errOut bytes.Buffer
	code = run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)

	return code, out.String(), errOut.String()
}

func (c *cli) mustExec(args ...string) string {
	c.t.Helper()

	code, out, errOut := c.exec("", args...)
	require.Equal(c.t, 0, code, "trialdesk %v: %s", args, errOut)

	return out
}

func (c *cli) login() {
	c.t.Helper()
	code, _, errOut := c.exec("s3cret\n", "login", "--username", "agronomist")
	require.Equal(c.t, 0, code, "trialdesk login: %s", errOut)
}

// --- auth ---

func TestLogin_StatusLogout(t *testing.T) {
	c := newCLI(t)

	out := c.mustExec("status", "-o", "json")
	var st sessionStatus
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.LoggedIn)

	code, out, errOut := c.exec("s3cret\n", "login", "-u", "agronomist")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Logged in as agronomist")

	out = c.mustExec("status", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "agronomist", st.User)
	assert.False(t, st.Expired)
	assert.Equal(t, c.api.BaseURL(), st.APIURL)

	out = c.mustExec("logout")
	assert.Contains(t, out, "Logged out")

	out = c.mustExec("status", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.LoggedIn)
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	c := newCLI(t)

	code, out, errOut := c.exec("s3cret\n", "login", "-u", "agronomist")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, errOut, "Password:")
	assert.Contains(t, out, "Logged in")
}

func TestLogin_PasswordFromEnv(t *testing.T) {
	c := newCLI(t)
	t.Setenv("TRIALDESK_USERNAME", "agronomist")
	t.Setenv("TRIALDESK_PASSWORD", "s3cret")

	out := c.mustExec("login")
	assert.Contains(t, out, "Logged in as agronomist")
}

func TestLogin_WrongPassword(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.exec("nope\n", "login", "-u", "agronomist")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid username or password")
}

func TestLogin_PasswordFlagRejected(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.exec("", "login", "-u", "agronomist", "--password", "s3cret")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, errOut, "unknown flag: --password")
}

func TestNotLoggedIn_ToldToLogin(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.exec("", "seeds", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "session expired, run `trialdesk login`")
}

func TestSessionExpired_ToldToLogin(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.ExpireAccessTokens()
	c.api.RevokeRefreshTokens()

	code, _, errOut := c.exec("", "whoami")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "session expired, run `trialdesk login`")
}

func TestExpiredAccess_RefreshedAcrossInvocations(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.ExpireAccessTokens()
	out := c.mustExec("whoami", "-o", "json")
	assert.Contains(t, out, `"username": "agronomist"`)
	assert.Equal(t, int64(1), c.api.RefreshCalls())

	// The refreshed token was persisted: no further refresh needed.
	c.mustExec("whoami")
	assert.Equal(t, int64(1), c.api.RefreshCalls())
}

// --- resources ---

func TestSeeds_Commands(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.Add("seeds", apitest.Record{"name": "Maize", "variety": "Golden Bantam"})

	out := c.mustExec("seeds", "list")
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Golden Bantam")

	code, _, errOut := c.exec(`{"name":"Wheat","variety":"Red Fife"}`, "seeds", "create", "-o", "json")
	require.Equal(t, 0, code, errOut)

	out = c.mustExec("seeds", "search", "fife", "-o", "yaml")
	assert.Contains(t, out, "variety: Red Fife")

	out = c.mustExec("seeds", "delete", "2")
	assert.Contains(t, out, "Deleted seed 2")
	assert.Nil(t, c.api.Get("seeds", 2))

	code, _, errOut = c.exec("", "seeds", "get", "2")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Not found")
}

func TestSeeds_CreateFromFile(t *testing.T) {
	c := newCLI(t)
	c.login()

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Sorghum","variety":"Tx430"}`), 0o600))

	out := c.mustExec("seeds", "create", "--file", path, "-o", "json")

	var seed models.Seed
	require.NoError(t, json.Unmarshal([]byte(out), &seed))
	assert.Equal(t, "Sorghum", seed.Name)
}

func TestCreate_InvalidJSON(t *testing.T) {
	c := newCLI(t)
	c.login()

	code, _, errOut := c.exec("{not json", "plots", "create")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not valid JSON")
	assert.Equal(t, 0, c.api.Hits("POST", "/plots/"))
}

func TestTrials_ListFilters(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.Add("plots", apitest.Record{"name": "North", "location": "Field A"})
	c.api.Add("trials", apitest.Record{"seed": map[string]any{"id": 1, "name": "Maize"}, "plot": map[string]any{"id": 1, "name": "North"}, "observation_date": "2026-03-01"})
	c.api.Add("trials", apitest.Record{"seed": map[string]any{"id": 2, "name": "Wheat"}, "plot": map[string]any{"id": 1, "name": "North"}, "observation_date": "2026-05-01"})

	out := c.mustExec("trials", "list", "--crop", "Wheat", "-o", "json")

	var list []models.Trial
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Wheat", list[0].Seed.Name)

	out = c.mustExec("trials", "list", "--end-date", "2026-04-01", "-o", "json")
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Maize", list[0].Seed.Name)

	out = c.mustExec("trials", "summary", "-o", "json")
	var summary models.TrialSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 2, summary.TotalTrials)
}

func TestTrials_AddIncident(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.Add("plots", apitest.Record{"name": "North", "location": "Field A"})
	c.api.Add("trials", apitest.Record{"seed": map[string]any{"id": 1, "name": "Maize"}, "plot": map[string]any{"id": 1}})

	code, out, errOut := c.exec(`{"title":"Lodging","severity":"low","plot":1,"incident_date":"2026-10-01"}`, "trials", "add-incident", "1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Lodging")
	assert.Equal(t, "1", c.api.Get("incidents", 1)["trial"])
}

func TestIncidents_UpdateShowsDiff(t *testing.T) {
	c := newCLI(t)
	c.login()

	c.api.Add("plots", apitest.Record{"name": "North", "location": "Field A"})
	c.api.Add("incidents", apitest.Record{
		"title": "Hail", "description": "", "severity": "high", "incident_date": "2026-10-01", "resolved": false,
		"plot":        map[string]any{"id": 1, "name": "North"},
		"reported_by": map[string]any{"id": 1, "username": "agronomist"},
	})

	doc := `{"title":"Hail","severity":"high","plot":1,"incident_date":"2026-10-01","resolved":true}`

	code, out, errOut := c.exec(doc, "incidents", "update", "1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `-  "resolved": false`)
	assert.Contains(t, out, `+  "resolved": true`)
	assert.Contains(t, out, "SEVERITY")

	code, out, errOut = c.exec(doc, "incidents", "update", "1", "-o", "json")
	require.Equal(t, 0, code, errOut)
	assert.NotContains(t, out, "-  ")

	var inc models.Incident
	require.NoError(t, json.Unmarshal([]byte(out), &inc))
	assert.True(t, inc.Resolved)
}

func TestDashboard(t *testing.T) {
	c := newCLI(t)
	c.login()

	today := time.Now().Format(time.DateOnly)
	c.api.Add("seeds", apitest.Record{"name": "Maize", "variety": "Golden"})
	c.api.Add("plots", apitest.Record{"name": "North", "location": "Field A"})
	c.api.Add("trials", apitest.Record{"seed": map[string]any{"id": 1, "name": "Maize"}, "plot": map[string]any{"id": 1}, "observation_date": today})

	out := c.mustExec("dashboard")
	assert.Contains(t, out, "Seeds")
	assert.Contains(t, out, "Trials by crop")
	assert.Contains(t, out, "Maize")
}

func TestUnknownOutputFormat(t *testing.T) {
	c := newCLI(t)

	code, _, errOut := c.exec("", "status", "-o", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown output format")
}
