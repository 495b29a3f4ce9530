// Package classifier sorts tasks into Eisenhower quadrants.
package classifier

import (
	"strings"

	"dayroll/internal/models"
)

const (
	minScore  = 1
	maxScore  = 10
	threshold = 6
	baseScore = 4
)

// Classification is the verdict for one task.
type Classification struct {
	TaskID     string          `json:"task_id"`
	Quadrant   models.Quadrant `json:"quadrant"`
	Urgency    int             `json:"urgency"`
	Importance int             `json:"importance"`
}

type keyword struct {
	word       string
	urgency    int
	importance int
}

// Keyword weights are matched against the lowercased title and description.
var keywords = []keyword{
	{"asap", 3, 0},
	{"urgent", 3, 0},
	{"immediately", 3, 0},
	{"overdue", 3, 1},
	{"deadline", 2, 1},
	{"today", 2, 0},
	{"tonight", 2, 0},
	{"due", 2, 0},
	{"blocker", 2, 2},
	{"outage", 3, 2},
	{"bug", 1, 1},
	{"fix", 1, 1},
	{"call", 1, 0},
	{"reply", 1, 0},
	{"email", 1, -1},
	{"meeting", 1, 0},
	{"important", 0, 3},
	{"client", 1, 2},
	{"customer", 1, 2},
	{"launch", 1, 3},
	{"release", 1, 2},
	{"strategy", 0, 3},
	{"plan", 0, 2},
	{"report", 0, 2},
	{"review", 0, 1},
	{"goal", 0, 2},
	{"health", 0, 2},
	{"learn", 0, 2},
	{"tax", 1, 2},
	{"invoice", 1, 2},
	{"maybe", -1, -2},
	{"someday", -2, -2},
	{"optional", -1, -2},
	{"idea", -1, -1},
	{"browse", -1, -2},
}

var priorityWeights = map[models.Priority][2]int{
	models.PriorityCritical: {3, 3},
	models.PriorityUrgent:   {4, 1},
	models.PriorityHigh:     {1, 3},
	models.PriorityMedium:   {0, 0},
	models.PriorityLow:      {-1, -2},
}

// QuadrantFor maps scores to a quadrant. Six is the boundary on both axes.
func QuadrantFor(urgency, importance int) models.Quadrant {
	urgent := urgency >= threshold
	important := importance >= threshold
	switch {
	case urgent && important:
		return models.QuadrantDoFirst
	case important:
		return models.QuadrantSchedule
	case urgent:
		return models.QuadrantDelegate
	default:
		return models.QuadrantEliminate
	}
}

// Classify scores a task in the context of the other tasks on its card.
func Classify(task models.Task, siblings []models.Task) Classification {
	u, i := Score(task, siblings)
	return Classification{
		TaskID:     task.ID,
		Quadrant:   QuadrantFor(u, i),
		Urgency:    u,
		Importance: i,
	}
}

// Score returns the clamped urgency and importance of task.
func Score(task models.Task, siblings []models.Task) (urgency, importance int) {
	urgency, importance = baseScore, baseScore

	text := strings.ToLower(task.Title + " " + task.Description)
	for _, k := range keywords {
		if strings.Contains(text, k.word) {
			urgency += k.urgency
			importance += k.importance
		}
	}

	if w, ok := priorityWeights[task.Priority]; ok {
		urgency += w[0]
		importance += w[1]
	}

	switch task.WorkType {
	case models.WorkDeep:
		importance++
	case models.WorkLight:
		importance--
	}

	// Every rollover makes the task a little more pressing, up to +3.
	urgency += min(task.RolloverCount, 3)

	open := 0
	deep := 0
	for _, s := range siblings {
		if s.ID == task.ID || s.Completed {
			continue
		}
		open++
		if s.WorkType == models.WorkDeep {
			deep++
		}
	}
	if task.WorkType == models.WorkDeep && deep == 0 && open > 0 {
		importance++
	}
	if task.WorkType == models.WorkLight && open >= 6 {
		importance--
	}

	return clamp(urgency), clamp(importance)
}

func clamp(v int) int {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
