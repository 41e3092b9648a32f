package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a resource. The API returns numeric primary keys for most
// records and prefixed string keys (SD_..., PL_...) for some, so both
// JSON forms are accepted. The ID is always emitted as a string.
type ID string

// UnmarshalJSON accepts a JSON number, a JSON string, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}

		*id = ID(s)

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}

	*id = ID(n.String())

	return nil
}

// Int returns the numeric form of the ID, used when the API expects a
// foreign key as an integer.
func (id ID) Int() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// Ref is a nested reference to another record, as embedded in list
// responses (e.g. an incident's plot).
type Ref struct {
	ID   ID     `json:"id"`
	Name string `json:"name,omitempty"`
}

// User is the profile returned by /users/me/.
type User struct {
	ID        ID     `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// UserRef is a nested user reference.
type UserRef struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
}

// Seed is a seed variety under trial.
type Seed struct {
	ID                ID     `json:"id"`
	Name              string `json:"name"`
	Variety           string `json:"variety"`
	Description       string `json:"description,omitempty"`
	IdealTemperature  string `json:"ideal_temperature,omitempty"`
	MoistureNeeded    string `json:"moisture_needed,omitempty"`
	DaysToGermination int    `json:"days_to_germination,omitempty"`
	TrialCount        int    `json:"trial_count,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// Plot is a field plot where trials run.
type Plot struct {
	ID          ID      `json:"id"`
	Name        string  `json:"name"`
	Location    string  `json:"location"`
	Area        float64 `json:"area,omitempty"`
	SoilType    string  `json:"soil_type,omitempty"`
	WeatherZone string  `json:"weather_zone,omitempty"`
	CreatedAt   string  `json:"created_at,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// GrowthSummary holds the measured growth of a trial.
type GrowthSummary struct {
	AverageHeight float64 `json:"average_height"`
	HealthScore   float64 `json:"health_score"`
}

// Trial is one trial observation of a seed on a plot.
type Trial struct {
	ID              ID             `json:"id"`
	Seed            Ref            `json:"seed"`
	Plot            Ref            `json:"plot"`
	ObservationDate string         `json:"observation_date,omitempty"`
	StartDate       string         `json:"start_date,omitempty"`
	EndDate         *string        `json:"end_date,omitempty"`
	Status          string         `json:"status,omitempty"`
	GrowthStage     string         `json:"growth_stage,omitempty"`
	GrowthSummary   *GrowthSummary `json:"growth_summary,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// Severity grades an incident.
type Severity string

// Severity levels accepted by the API.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the accepted levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}

	return false
}

// Incident is a reported problem on a plot.
type Incident struct {
	ID           ID       `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Plot         Ref      `json:"plot"`
	ReportedBy   UserRef  `json:"reported_by"`
	IncidentDate string   `json:"incident_date"`
	Resolved     bool     `json:"resolved"`
}

// IncidentInput is the write form of an incident. Plot and ReportedBy
// are foreign keys rather than nested references.
type IncidentInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	Plot         int64    `json:"plot"`
	ReportedBy   int64    `json:"reported_by,omitempty"`
	IncidentDate string   `json:"incident_date"`
	Resolved     bool     `json:"resolved"`
}

// Validate checks the fields the API rejects without a useful message.
func (in IncidentInput) Validate() error {
	if in.Title == "" {
		return fmt.Errorf("incident title is required")
	}

	if !in.Severity.Valid() {
		return fmt.Errorf("incident severity %q must be one of low, medium, high", in.Severity)
	}

	if in.Plot <= 0 {
		return fmt.Errorf("incident plot is required")
	}

	return nil
}

// CountBy is one bucket of a grouped count. The API names the key after
// the grouped field (seed__crop_name, plot__location, incident_type), so
// the key is captured generically.
type CountBy struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// UnmarshalJSON takes the single non-count field as the key.
func (c *CountBy) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding grouped count: %w", err)
	}

	for k, v := range raw {
		if k == "count" {
			if err := json.Unmarshal(v, &c.Count); err != nil {
				return fmt.Errorf("decoding grouped count: %w", err)
			}

			continue
		}

		var s string
		if json.Unmarshal(v, &s) == nil {
			c.Key = s
		}
	}

	return nil
}

// DateRange echoes the requested summary window.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// TrialSummary is the aggregate returned by /trials/summary/.
type TrialSummary struct {
	TotalTrials       int        `json:"total_trials"`
	TrialsByCrop      []CountBy  `json:"trials_by_crop"`
	TrialsByPlot      []CountBy  `json:"trials_by_plot"`
	TrialsByCollector []CountBy  `json:"trials_by_collector"`
	RecentTrials      int        `json:"recent_trials"`
	DateRange         *DateRange `json:"date_range"`
}

// IncidentSummary is the aggregate returned by /incidents/summary/.
type IncidentSummary struct {
	IncidentsByType       []CountBy `json:"incidents_by_type"`
	RecentIncidents       int       `json:"recent_incidents"`
	HighSeverityIncidents int       `json:"high_severity_incidents"`
}

// SeedPerformance is returned by /seeds/{id}/performance/.
type SeedPerformance struct {
	AverageHealthScore float64 `json:"average_health_score"`
	IncidentCount      int     `json:"incident_count"`
	SuccessRate        float64 `json:"success_rate"`
	TotalTrials        int     `json:"total_trials"`
}
