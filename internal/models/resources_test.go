package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ID ---

func TestID_UnmarshalNumber(t *testing.T) {
	var s Seed
	require.NoError(t, json.Unmarshal([]byte(`{"id":42,"name":"Maize"}`), &s))
	assert.Equal(t, ID("42"), s.ID)

	n, err := s.ID.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}

func TestID_UnmarshalString(t *testing.T) {
	var s Seed
	require.NoError(t, json.Unmarshal([]byte(`{"id":"SD_1A2B3C4D"}`), &s))
	assert.Equal(t, ID("SD_1A2B3C4D"), s.ID)

	_, err := s.ID.Int()
	assert.Error(t, err)
}

func TestID_UnmarshalNull(t *testing.T) {
	id := ID("old")
	require.NoError(t, json.Unmarshal([]byte(`null`), &id))
	assert.Equal(t, ID(""), id)
}

func TestID_UnmarshalInvalid(t *testing.T) {
	var id ID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))
}

func TestID_MarshalsAsString(t *testing.T) {
	data, err := json.Marshal(Ref{ID: "7", Name: "North"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","name":"North"}`, string(data))
}

// --- CountBy ---

func TestCountBy_TakesGroupedFieldAsKey(t *testing.T) {
	var summary TrialSummary
	body := `{
		"total_trials": 3,
		"trials_by_crop": [{"seed__crop_name":"Maize","count":2},{"seed__crop_name":"Wheat","count":1}],
		"trials_by_plot": [{"plot__location":"North","count":3}],
		"recent_trials": 1,
		"date_range": null
	}`
	require.NoError(t, json.Unmarshal([]byte(body), &summary))

	assert.Equal(t, 3, summary.TotalTrials)
	require.Len(t, summary.TrialsByCrop, 2)
	assert.Equal(t, CountBy{Key: "Maize", Count: 2}, summary.TrialsByCrop[0])
	assert.Equal(t, CountBy{Key: "North", Count: 3}, summary.TrialsByPlot[0])
	assert.Nil(t, summary.DateRange)
}

func TestCountBy_NullKey(t *testing.T) {
	var c CountBy
	require.NoError(t, json.Unmarshal([]byte(`{"incident_type":null,"count":4}`), &c))
	assert.Equal(t, "", c.Key)
	assert.Equal(t, 4, c.Count)
}

func TestCountBy_BadCount(t *testing.T) {
	var c CountBy
	assert.Error(t, json.Unmarshal([]byte(`{"incident_type":"PEST","count":"many"}`), &c))
}

// --- Incident input ---

func TestIncidentInput_Validate(t *testing.T) {
	valid := IncidentInput{Title: "Hail", Severity: SeverityHigh, Plot: 3}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		mod  func(*IncidentInput)
		want string
	}{
		{"missing title", func(in *IncidentInput) { in.Title = "" }, "title"},
		{"bad severity", func(in *IncidentInput) { in.Severity = "critical" }, "severity"},
		{"missing plot", func(in *IncidentInput) { in.Plot = 0 }, "plot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mod(&in)
			err := in.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCredentials_Empty(t *testing.T) {
	assert.True(t, Credentials{}.Empty())
	assert.False(t, Credentials{Refresh: "r"}.Empty())
	assert.False(t, Credentials{Access: "a"}.Empty())
}
