// Package analytics computes retention statistics from save-attempt records.
// Every function here is a pure batch computation over a snapshot; callers
// fetch the attempts (store query, export file) and pass them in.
package analytics

import (
	"math"
	"sort"

	"github.com/sells-group/saveflow/internal/model"
)

// Stats is the summary view over a set of attempts.
type Stats struct {
	TotalAttempts        int                `json:"totalAttempts"`
	InProgress           int                `json:"inProgress"`
	Saved                int                `json:"saved"`
	Cancelled            int                `json:"cancelled"`
	Paused               int                `json:"paused"`
	Downgraded           int                `json:"downgraded"`
	SuccessRate          float64            `json:"successRate"`
	AvgTimeToSaveMinutes float64            `json:"avgTimeToSaveMinutes"`
	RevenuePreserved     float64            `json:"revenuePreserved"`
	StagePerformance     []StagePerformance `json:"stagePerformance"`
}

// StagePerformance counts direct saves attributed to one stage.
type StagePerformance struct {
	Stage model.Stage `json:"stage"`
	Name  string      `json:"name"`
	Saves int         `json:"saves"`
	Rate  float64     `json:"rate"`
}

// StageDropoff describes where customers leave the flow, derived from stage
// history rather than outcomes.
type StageDropoff struct {
	Stage               model.Stage `json:"stage"`
	Name                string      `json:"name"`
	Entered             int         `json:"entered"`
	Exited              int         `json:"exited"`
	Saved               int         `json:"saved"`
	AvgTimeSpentMinutes float64     `json:"avgTimeSpentMinutes"`
	DropoffRate         float64     `json:"dropoffRate"`
}

// ReasonStats aggregates completed attempts by cancellation reason category.
type ReasonStats struct {
	Category         model.ReasonCategory `json:"category"`
	Count            int                  `json:"count"`
	Saved            int                  `json:"saved"`
	Cancelled        int                  `json:"cancelled"`
	RevenuePreserved float64              `json:"revenuePreserved"`
}

// Summarize computes the summary statistics for a snapshot of attempts.
func Summarize(attempts []model.SaveAttempt) Stats {
	s := Stats{TotalAttempts: len(attempts)}

	var saveMinutes float64
	stageSaves := make(map[model.Stage]int)

	for i := range attempts {
		a := &attempts[i]

		if a.Outcome == "" && a.CompletedAt == nil {
			s.InProgress++
			continue
		}

		// Completed attempts contribute revenue; non-saved ones carry 0.
		s.RevenuePreserved += a.RevenuePreserved

		switch {
		case a.Outcome.Saved():
			s.Saved++
			if a.CompletedAt != nil {
				saveMinutes += a.CompletedAt.Sub(a.CreatedAt).Minutes()
			}
			if stage, ok := a.Outcome.SavedAtStage(); ok {
				stageSaves[stage]++
			}
		case a.Outcome == model.OutcomeCancelled:
			s.Cancelled++
		case a.Outcome == model.OutcomePaused:
			s.Paused++
		case a.Outcome == model.OutcomeDowngraded:
			s.Downgraded++
		}
	}

	if s.TotalAttempts > 0 {
		s.SuccessRate = round2(float64(s.Saved) / float64(s.TotalAttempts))
	}
	if s.Saved > 0 {
		s.AvgTimeToSaveMinutes = saveMinutes / float64(s.Saved)
	}

	denom := float64(s.TotalAttempts)
	if denom < 1 {
		denom = 1
	}
	for _, stage := range model.Stages() {
		s.StagePerformance = append(s.StagePerformance, StagePerformance{
			Stage: stage,
			Name:  stage.String(),
			Saves: stageSaves[stage],
			Rate:  round2(float64(stageSaves[stage]) / denom),
		})
	}

	return s
}

// Dropoff computes per-stage entry/exit counts from stage history. An attempt
// that entered a stage but neither exited it nor was saved there counts as a
// dropoff for that stage.
func Dropoff(attempts []model.SaveAttempt) []StageDropoff {
	type acc struct {
		entered int
		exited  int
		saved   int
		minutes float64
	}
	byStage := make(map[model.Stage]*acc)
	for _, stage := range model.Stages() {
		byStage[stage] = &acc{}
	}

	for i := range attempts {
		a := &attempts[i]

		seen := make(map[model.Stage]bool)
		for _, h := range a.StageHistory {
			st, ok := byStage[h.Stage]
			if !ok {
				continue
			}
			if !seen[h.Stage] {
				seen[h.Stage] = true
				st.entered++
			}
			if h.ExitedAt != nil {
				st.exited++
				st.minutes += h.ExitedAt.Sub(h.EnteredAt).Minutes()
			}
		}

		if stage, ok := a.Outcome.SavedAtStage(); ok {
			if st, found := byStage[stage]; found {
				st.saved++
			}
		}
	}

	var out []StageDropoff
	for _, stage := range model.Stages() {
		st := byStage[stage]
		d := StageDropoff{
			Stage:   stage,
			Name:    stage.String(),
			Entered: st.entered,
			Exited:  st.exited,
			Saved:   st.saved,
		}
		if st.exited > 0 {
			d.AvgTimeSpentMinutes = st.minutes / float64(st.exited)
		}
		if st.entered > 0 {
			d.DropoffRate = round2(float64(st.entered-st.exited-st.saved) / float64(st.entered))
		}
		out = append(out, d)
	}
	return out
}

// ByReason groups completed attempts that carry a reason category, sorted by
// count descending. Attempts still in progress or without a category are
// excluded.
func ByReason(attempts []model.SaveAttempt) []ReasonStats {
	byCat := make(map[model.ReasonCategory]*ReasonStats)

	for i := range attempts {
		a := &attempts[i]
		if a.Outcome == "" || a.ReasonCategory == "" {
			continue
		}

		rs, ok := byCat[a.ReasonCategory]
		if !ok {
			rs = &ReasonStats{Category: a.ReasonCategory}
			byCat[a.ReasonCategory] = rs
		}
		rs.Count++
		rs.RevenuePreserved += a.RevenuePreserved
		if a.Outcome.Saved() {
			rs.Saved++
		} else if a.Outcome == model.OutcomeCancelled {
			rs.Cancelled++
		}
	}

	out := make([]ReasonStats, 0, len(byCat))
	for _, rs := range byCat {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
