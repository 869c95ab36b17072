// Package analytics summarizes backed-up sessions for the admin report.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/storage"
)

// Report aggregates the sessions finished inside [From, To).
type Report struct {
	Period      string        `json:"period"`
	Sessions    int           `json:"sessions"`
	UniqueUsers int           `json:"unique_users"`
	Turns       int           `json:"turns"`
	Unrated     int           `json:"unrated_sessions"`
	Aspects     []AspectStats `json:"aspects"`
}

// AspectStats holds the scores given to one aspect.
type AspectStats struct {
	ID           string      `json:"id"`
	Count        int         `json:"count"`
	Mean         float64     `json:"mean"`
	Distribution map[int]int `json:"distribution"`
}

// AnalyzeDay reports the sessions that finished on the calendar day of day.
func AnalyzeDay(records []storage.Record, aspects []evaluation.Aspect, day time.Time) *Report {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	r := analyze(records, aspects, func(rec storage.Record) bool {
		return !rec.FinishedAt.Before(start) && rec.FinishedAt.Before(end)
	})
	r.Period = start.Format("2006-01-02")
	return r
}

// AnalyzeAll reports every stored session.
func AnalyzeAll(records []storage.Record, aspects []evaluation.Aspect) *Report {
	r := analyze(records, aspects, func(storage.Record) bool { return true })
	r.Period = "all time"
	return r
}

func analyze(records []storage.Record, aspects []evaluation.Aspect, keep func(storage.Record) bool) *Report {
	r := &Report{}
	users := make(map[int64]struct{})
	byID := make(map[string]*AspectStats)
	sums := make(map[string]int)
	var order []string
	for _, a := range aspects {
		byID[a.ID] = &AspectStats{ID: a.ID, Distribution: make(map[int]int)}
		order = append(order, a.ID)
	}
	var extra []string

	for _, rec := range records {
		if !keep(rec) {
			continue
		}
		r.Sessions++
		r.Turns += len(rec.Conversation)
		users[rec.UserID] = struct{}{}
		if rec.Evaluation.Len() == 0 {
			r.Unrated++
		}
		for _, s := range rec.Evaluation {
			st, ok := byID[s.Aspect]
			if !ok {
				// aspect no longer configured
				st = &AspectStats{ID: s.Aspect, Distribution: make(map[int]int)}
				byID[s.Aspect] = st
				extra = append(extra, s.Aspect)
			}
			st.Count++
			st.Distribution[s.Value]++
			sums[s.Aspect] += s.Value
		}
	}
	sort.Strings(extra)

	r.UniqueUsers = len(users)
	for _, id := range append(order, extra...) {
		st := byID[id]
		if st.Count > 0 {
			st.Mean = float64(sums[id]) / float64(st.Count)
		}
		r.Aspects = append(r.Aspects, *st)
	}
	return r
}

// Summary renders the report as a plain-text admin message.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TherapyBot report (%s)\n\n", r.Period)
	fmt.Fprintf(&b, "Sessions: %d\nUsers: %d\nUtterances: %d\n", r.Sessions, r.UniqueUsers, r.Turns)
	if r.Unrated > 0 {
		fmt.Fprintf(&b, "Sessions without ratings: %d\n", r.Unrated)
	}
	if r.Sessions == 0 {
		b.WriteString("\nNo sessions were completed in this period.")
		return b.String()
	}

	b.WriteString("\nRatings:\n")
	for _, a := range r.Aspects {
		if a.Count == 0 {
			fmt.Fprintf(&b, "- %s: no ratings\n", a.ID)
			continue
		}
		fmt.Fprintf(&b, "- %s: mean %.2f over %d (%s)\n", a.ID, a.Mean, a.Count, distribution(a.Distribution))
	}
	return strings.TrimRight(b.String(), "\n")
}

func distribution(d map[int]int) string {
	keys := make([]int, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d×%d", k, d[k]))
	}
	return strings.Join(parts, ", ")
}

// ToJSON renders the report for detailed inspection.
func (r *Report) ToJSON() (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
