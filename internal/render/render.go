// Package render prints API results as aligned tables, JSON or YAML.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/alexjbarnes/trialdesk/internal/dashboard"
	"github.com/alexjbarnes/trialdesk/internal/models"
	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	Table Format = "table"
	JSON  Format = "json"
	YAML  Format = "yaml"
)

// maxCell truncates long free-text columns in tables.
const maxCell = 40

// ParseFormat accepts table, json or yaml, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case Table, JSON, YAML:
		return f, nil
	case "":
		return Table, nil
	}

	return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
}

// Write encodes v to w in format f.
func Write(w io.Writer, f Format, v any) error {
	switch f {
	case JSON:
		return writeJSON(w, v)
	case YAML:
		return writeYAML(w, v)
	case Table, "":
		return writeTable(w, v)
	}

	return fmt.Errorf("unknown output format %q", f)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}

	_, err = fmt.Fprintln(w, string(b))

	return err
}

// writeYAML goes through JSON first so keys match the API's field names
// rather than yaml.v3's lowercased Go field names.
func writeYAML(w io.Writer, v any) error {
	generic, err := toGeneric(v)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}

	return enc.Close()
}

func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json: %w", err)
	}

	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}

	return generic, nil
}

func writeTable(w io.Writer, v any) error {
	headers, rows, err := tableRows(v)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

func tableRows(v any) ([]string, [][]string, error) {
	switch t := v.(type) {
	case []models.Seed:
		return seedHeaders, mapRows(t, seedRow), nil
	case models.Seed:
		return seedHeaders, [][]string{seedRow(t)}, nil
	case []models.Plot:
		return plotHeaders, mapRows(t, plotRow), nil
	case models.Plot:
		return plotHeaders, [][]string{plotRow(t)}, nil
	case []models.Trial:
		return trialHeaders, mapRows(t, trialRow), nil
	case models.Trial:
		return trialHeaders, [][]string{trialRow(t)}, nil
	case []models.Incident:
		return incidentHeaders, mapRows(t, incidentRow), nil
	case models.Incident:
		return incidentHeaders, [][]string{incidentRow(t)}, nil
	case []models.CountBy:
		return []string{"KEY", "COUNT"}, mapRows(t, func(c models.CountBy) []string {
			return []string{c.Key, strconv.Itoa(c.Count)}
		}), nil
	case *dashboard.Summary:
		return []string{"METRIC", "VALUE"}, dashboardRows(t), nil
	}

	return keyValueRows(v)
}

var (
	seedHeaders     = []string{"ID", "NAME", "VARIETY", "GERMINATION DAYS", "DESCRIPTION"}
	plotHeaders     = []string{"ID", "NAME", "LOCATION", "AREA", "SOIL"}
	trialHeaders    = []string{"ID", "SEED", "PLOT", "OBSERVED", "STATUS", "STAGE"}
	incidentHeaders = []string{"ID", "DATE", "SEVERITY", "PLOT", "TITLE", "RESOLVED", "REPORTED BY"}
)

func mapRows[T any](items []T, row func(T) []string) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, row(item))
	}

	return rows
}

func seedRow(s models.Seed) []string {
	days := ""
	if s.DaysToGermination > 0 {
		days = strconv.Itoa(s.DaysToGermination)
	}

	return []string{string(s.ID), s.Name, s.Variety, days, truncate(s.Description)}
}

func plotRow(p models.Plot) []string {
	area := ""
	if p.Area > 0 {
		area = strconv.FormatFloat(p.Area, 'f', -1, 64)
	}

	return []string{string(p.ID), p.Name, p.Location, area, p.SoilType}
}

func trialRow(t models.Trial) []string {
	return []string{string(t.ID), refLabel(t.Seed), refLabel(t.Plot), t.ObservationDate, t.Status, t.GrowthStage}
}

func incidentRow(i models.Incident) []string {
	resolved := "no"
	if i.Resolved {
		resolved = "yes"
	}

	return []string{string(i.ID), i.IncidentDate, string(i.Severity), refLabel(i.Plot), truncate(i.Title), resolved, i.ReportedBy.Username}
}

func refLabel(r models.Ref) string {
	if r.Name != "" {
		return r.Name
	}

	return string(r.ID)
}

// dashboardRows lists the totals, then each grouped count indented under
// its heading.
func dashboardRows(s *dashboard.Summary) [][]string {
	rows := [][]string{
		{"Seeds", strconv.Itoa(s.TotalSeeds)},
		{"Plots", strconv.Itoa(s.TotalPlots)},
		{"Trials", strconv.Itoa(s.TotalTrials)},
		{"Recent incidents", strconv.Itoa(s.RecentIncidents)},
	}

	groups := []struct {
		title  string
		counts []models.CountBy
	}{
		{"Trials by crop", s.TrialsByCrop},
		{"Trials by location", s.TrialsByPlot},
	}

	for _, g := range groups {
		if len(g.counts) == 0 {
			continue
		}

		rows = append(rows, []string{g.title, ""})
		for _, c := range g.counts {
			rows = append(rows, []string{"  " + c.Key, strconv.Itoa(c.Count)})
		}
	}

	return rows
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxCell {
		return s[:maxCell-3] + "..."
	}

	return s
}

// keyValueRows renders any JSON object as FIELD/VALUE rows, sorted by
// field. Arrays and scalars fall back to one VALUE column.
func keyValueRows(v any) ([]string, [][]string, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, nil, err
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return []string{"VALUE"}, [][]string{{scalar(generic)}}, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, scalar(obj[k])})
	}

	return []string{"FIELD", "VALUE"}, rows, nil
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}

	b, _ := json.Marshal(v)

	return string(b)
}
