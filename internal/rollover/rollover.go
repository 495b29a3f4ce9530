// Package rollover moves open tasks forward to the day being looked at.
package rollover

import (
	"sort"

	"dayroll/internal/models"
)

// Result is the outcome of one Apply call.
type Result struct {
	Tasks []models.Task
	// Moved holds the ids of tasks advanced by this call.
	Moved []string
	// FromDays lists the distinct days tasks were moved away from.
	FromDays []models.Day
}

// Changed reports whether any task was advanced.
func (r Result) Changed() bool {
	return len(r.Moved) > 0
}

// Apply advances every incomplete task whose current day precedes target and
// whose rollover count is below ceiling. The input slice is not modified.
// Running Apply on its own output with the same target is a no-op.
func Apply(tasks []models.Task, target models.Day, ceiling int) Result {
	out := make([]models.Task, len(tasks))
	copy(out, tasks)

	res := Result{Tasks: out}
	seen := make(map[models.Day]bool)
	for i := range out {
		t := &out[i]
		if t.CurrentDate == target || !eligible(*t, target, ceiling) {
			continue
		}
		if !seen[t.CurrentDate] {
			seen[t.CurrentDate] = true
			res.FromDays = append(res.FromDays, t.CurrentDate)
		}
		t.CurrentDate = target
		t.RolloverCount++
		res.Moved = append(res.Moved, t.ID)
	}
	sort.Slice(res.FromDays, func(i, j int) bool { return res.FromDays[i] < res.FromDays[j] })
	return res
}

func eligible(t models.Task, target models.Day, ceiling int) bool {
	return !t.Completed && !Frozen(t, ceiling) && t.CurrentDate.Before(target)
}

// NeedsAttention returns open tasks that rolled over at least
// models.AttentionRolloverThreshold times or are marked urgent, urgent first
// and then by rollover count descending.
func NeedsAttention(tasks []models.Task) []models.Task {
	out := make([]models.Task, 0)
	for _, t := range tasks {
		if t.NeedsAttention() {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ui, uj := out[i].Priority == models.PriorityUrgent, out[j].Priority == models.PriorityUrgent
		if ui != uj {
			return ui
		}
		if out[i].RolloverCount != out[j].RolloverCount {
			return out[i].RolloverCount > out[j].RolloverCount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Frozen reports whether a task has hit the ceiling and stays on its day.
func Frozen(t models.Task, ceiling int) bool {
	return !t.Completed && t.RolloverCount >= ceiling
}
