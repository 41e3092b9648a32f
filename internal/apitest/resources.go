package apitest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is one stored resource as a JSON object.
type Record map[string]any

type collection struct {
	nextID int
	items  []Record
}

func newCollections() map[string]*collection {
	colls := make(map[string]*collection)
	for _, name := range []string{"seeds", "plots", "trials", "incidents"} {
		colls[name] = &collection{nextID: 1}
	}

	return colls
}

// Add stores rec in the named collection (seeds, plots, trials,
// incidents), assigns it the next numeric id and returns that id.
func (s *Server) Add(coll string, rec Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addLocked(coll, rec)
}

func (s *Server) addLocked(coll string, rec Record) int {
	c := s.colls[coll]
	id := c.nextID
	c.nextID++

	stored := make(Record, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}

	stored["id"] = id
	c.items = append(c.items, stored)

	return id
}

// Get returns a copy of a stored record, or nil.
func (s *Server) Get(coll string, id int) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, rec := s.findLocked(coll, strconv.Itoa(id)); rec != nil {
		out := make(Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}

		return out
	}

	return nil
}

func (s *Server) findLocked(coll, id string) (int, Record) {
	for i, rec := range s.colls[coll].items {
		if idString(rec["id"]) == id {
			return i, rec
		}
	}

	return -1, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case string:
		return id
	}

	return ""
}

func (s *Server) resourceRoutes(mux *http.ServeMux) {
	for _, coll := range []string{"seeds", "plots", "trials", "incidents"} {
		base := BasePath + "/" + coll
		mux.HandleFunc("GET "+base+"/{$}", s.handleList(coll))
		mux.HandleFunc("POST "+base+"/{$}", s.handleCreate(coll))
		mux.HandleFunc("GET "+base+"/{id}/{$}", s.handleGet(coll))
		mux.HandleFunc("PUT "+base+"/{id}/{$}", s.handleUpdate(coll))
		mux.HandleFunc("DELETE "+base+"/{id}/{$}", s.handleDelete(coll))
	}

	mux.HandleFunc("GET "+BasePath+"/seeds/search/{$}", s.handleSearch("seeds", "name", "variety"))
	mux.HandleFunc("GET "+BasePath+"/plots/search/{$}", s.handleSearch("plots", "name", "location"))
	mux.HandleFunc("GET "+BasePath+"/trials/summary/{$}", s.handleTrialSummary)
	mux.HandleFunc("GET "+BasePath+"/incidents/summary/{$}", s.handleIncidentSummary)
	mux.HandleFunc("GET "+BasePath+"/plots/{id}/incidents/{$}", s.handleRelated("incidents", "plot"))
	mux.HandleFunc("GET "+BasePath+"/seeds/{id}/trials/{$}", s.handleRelated("trials", "seed"))
	mux.HandleFunc("GET "+BasePath+"/trials/{id}/incidents/{$}", s.handleRelated("incidents", "trial"))
	mux.HandleFunc("POST "+BasePath+"/trials/{id}/add_incident/{$}", s.handleAddIncident)
	mux.HandleFunc("GET "+BasePath+"/trials/search/{$}", s.handleList("trials"))
	mux.HandleFunc("GET "+BasePath+"/trials/{id}/plots/{$}", s.handleTrialRef("plots", "plot"))
	mux.HandleFunc("GET "+BasePath+"/trials/{id}/seeds/{$}", s.handleTrialRef("seeds", "seed"))
	mux.HandleFunc("GET "+BasePath+"/plots/{id}/active_trials/{$}", s.handleActiveTrials)
	mux.HandleFunc("GET "+BasePath+"/seeds/{id}/performance/{$}", s.handleSeedPerformance)
}

func (s *Server) handleList(coll string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		items := []Record{}

		for _, rec := range s.colls[coll].items {
			if s.matchesLocked(coll, rec, r.URL.Query()) {
				items = append(items, rec)
			}
		}

		writeJSON(w, http.StatusOK, items)
	}
}

// matchesLocked applies the list filters the API accepts for trials
// (plot_id, plot_location, crop_name, collector, date, start_date,
// end_date) and incidents (type, start_date, end_date).
func (s *Server) matchesLocked(coll string, rec Record, q url.Values) bool {
	switch coll {
	case "trials":
		if v := q.Get("plot_id"); v != "" && refID(rec["plot"]) != v {
			return false
		}

		if v := q.Get("crop_name"); v != "" && !strings.EqualFold(refName(rec["seed"]), v) {
			return false
		}

		if v := q.Get("collector"); v != "" && !strings.EqualFold(stringOf(rec["collector"]), v) {
			return false
		}

		if v := q.Get("plot_location"); v != "" {
			_, plot := s.findLocked("plots", refID(rec["plot"]))
			if plot == nil || !strings.Contains(strings.ToLower(stringOf(plot["location"])), strings.ToLower(v)) {
				return false
			}
		}

		return inDateRange(stringOf(rec["observation_date"]), q.Get("date"), q.Get("start_date"), q.Get("end_date"))
	case "incidents":
		if v := q.Get("type"); v != "" && stringOf(rec["severity"]) != v {
			return false
		}

		return inDateRange(stringOf(rec["incident_date"]), "", q.Get("start_date"), q.Get("end_date"))
	}

	return true
}

// inDateRange compares ISO dates lexically.
func inDateRange(d, exact, start, end string) bool {
	if exact != "" && d != exact {
		return false
	}

	if start != "" && d < start {
		return false
	}

	if end != "" && d > end {
		return false
	}

	return true
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func (s *Server) handleGet(coll string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		_, rec := s.findLocked(coll, r.PathValue("id"))
		s.mu.Unlock()

		if rec == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}

		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleCreate(coll string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}

		s.mu.Lock()
		if coll == "incidents" {
			s.expandIncidentLocked(rec, r)
		}
		id := s.addLocked(coll, rec)
		_, stored := s.findLocked(coll, strconv.Itoa(id))
		s.mu.Unlock()

		writeJSON(w, http.StatusCreated, stored)
	}
}

func (s *Server) handleUpdate(coll string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		i, existing := s.findLocked(coll, r.PathValue("id"))
		if existing == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}

		if coll == "incidents" {
			s.expandIncidentLocked(rec, r)
		}

		rec["id"] = existing["id"]
		s.colls[coll].items[i] = rec

		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleDelete(coll string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		i, existing := s.findLocked(coll, r.PathValue("id"))
		if existing == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}

		c := s.colls[coll]
		c.items = append(c.items[:i], c.items[i+1:]...)

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSearch(coll string, fields ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToLower(r.URL.Query().Get("q"))
		if q == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Please provide a search query"})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		matches := []Record{}

		for _, rec := range s.colls[coll].items {
			for _, f := range fields {
				if v, _ := rec[f].(string); strings.Contains(strings.ToLower(v), q) {
					matches = append(matches, rec)
					break
				}
			}
		}

		writeJSON(w, http.StatusOK, matches)
	}
}

// handleRelated lists records of coll whose field references the path id.
func (s *Server) handleRelated(coll, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		s.mu.Lock()
		defer s.mu.Unlock()

		matches := []Record{}

		for _, rec := range s.colls[coll].items {
			if refID(rec[field]) == id {
				matches = append(matches, rec)
			}
		}

		writeJSON(w, http.StatusOK, matches)
	}
}

// handleTrialRef lists the record of coll a trial references through
// field.
func (s *Server) handleTrialRef(coll, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		_, trial := s.findLocked("trials", r.PathValue("id"))
		if trial == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
			return
		}

		matches := []Record{}
		if _, rec := s.findLocked(coll, refID(trial[field])); rec != nil {
			matches = append(matches, rec)
		}

		writeJSON(w, http.StatusOK, matches)
	}
}

func (s *Server) handleActiveTrials(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := []Record{}

	for _, rec := range s.colls["trials"].items {
		if refID(rec["plot"]) == id && rec["end_date"] == nil {
			matches = append(matches, rec)
		}
	}

	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleSeedPerformance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seed := s.findLocked("seeds", id); seed == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	trialIDs := map[string]bool{}
	total, completed := 0, 0
	health := 0.0

	for _, rec := range s.colls["trials"].items {
		if refID(rec["seed"]) != id {
			continue
		}

		total++
		trialIDs[idString(rec["id"])] = true

		if stringOf(rec["status"]) == "completed" {
			completed++
		}

		if g, ok := rec["growth_summary"].(map[string]any); ok {
			if h, ok := g["health_score"].(float64); ok {
				health += h
			}
		}
	}

	incidents := 0

	for _, rec := range s.colls["incidents"].items {
		if trialIDs[idString(rec["trial"])] {
			incidents++
		}
	}

	perf := map[string]any{
		"total_trials":         total,
		"incident_count":       incidents,
		"average_health_score": 0.0,
		"success_rate":         0.0,
	}
	if total > 0 {
		perf["average_health_score"] = health / float64(total)
		perf["success_rate"] = float64(completed) / float64(total) * 100
	}

	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleAddIncident(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	trialID := r.PathValue("id")
	if _, trial := s.findLocked("trials", trialID); trial == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}

	s.expandIncidentLocked(rec, r)
	rec["trial"] = trialID

	id := s.addLocked("incidents", rec)
	_, stored := s.findLocked("incidents", strconv.Itoa(id))

	writeJSON(w, http.StatusCreated, stored)
}

// expandIncidentLocked turns write-form foreign keys into the nested
// references list responses carry.
func (s *Server) expandIncidentLocked(rec Record, r *http.Request) {
	if plotID := idString(rec["plot"]); plotID != "" {
		ref := map[string]any{"id": rec["plot"]}
		if _, plot := s.findLocked("plots", plotID); plot != nil {
			ref["name"] = plot["name"]
		}

		rec["plot"] = ref
	}

	username, _ := r.Context().Value(ctxUsername).(string)
	rec["reported_by"] = map[string]any{"id": s.users[username].id, "username": username}
}

func refID(v any) string {
	if m, ok := v.(map[string]any); ok {
		return idString(m["id"])
	}

	return idString(v)
}

func refName(v any) string {
	if m, ok := v.(map[string]any); ok {
		name, _ := m["name"].(string)
		return name
	}

	return ""
}

func (s *Server) handleTrialSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	trials := append([]Record(nil), s.colls["trials"].items...)
	plots := s.colls["plots"]
	locations := make(map[string]string, len(plots.items))
	for _, p := range plots.items {
		loc, _ := p["location"].(string)
		locations[idString(p["id"])] = loc
	}
	s.mu.Unlock()

	byCrop := map[string]int{}
	byPlot := map[string]int{}
	recent := 0
	cutoff := time.Now().AddDate(0, 0, -7)

	for _, t := range trials {
		byCrop[refName(t["seed"])]++
		byPlot[locations[refID(t["plot"])]]++

		if d, ok := t["observation_date"].(string); ok {
			if at, err := time.Parse(time.DateOnly, d); err == nil && !at.Before(cutoff) {
				recent++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_trials":        len(trials),
		"trials_by_crop":      groupCounts("seed__crop_name", byCrop),
		"trials_by_plot":      groupCounts("plot__location", byPlot),
		"trials_by_collector": []any{},
		"recent_trials":       recent,
		"date_range":          nil,
	})
}

func (s *Server) handleIncidentSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	incidents := append([]Record(nil), s.colls["incidents"].items...)
	s.mu.Unlock()

	bySeverity := map[string]int{}
	recent, high := 0, 0
	cutoff := time.Now().AddDate(0, 0, -7)

	for _, inc := range incidents {
		sev, _ := inc["severity"].(string)
		bySeverity[sev]++

		if sev == "high" {
			high++
		}

		if d, ok := inc["incident_date"].(string); ok {
			if at, err := time.Parse(time.DateOnly, d); err == nil && !at.Before(cutoff) {
				recent++
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"incidents_by_type":       groupCounts("incident_type", bySeverity),
		"recent_incidents":        recent,
		"high_severity_incidents": high,
	})
}

// groupCounts renders counts the way the API does: one object per group
// keyed by the grouped field, sorted for stable output.
func groupCounts(field string, counts map[string]int) []map[string]any {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{field: k, "count": counts[k]})
	}

	return out
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (Record, bool) {
	var rec Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON body"})
		return nil, false
	}

	return rec, true
}
