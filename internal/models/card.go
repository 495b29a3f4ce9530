package models

import "sort"

// TaskCard is the read model of one logical day.
type TaskCard struct {
	Date      Day    `json:"date"`
	Tasks     []Task `json:"tasks"`
	Completed bool   `json:"completed"`
}

// NewTaskCard sorts tasks by priority descending, then creation time
// ascending, and derives the completed flag.
func NewTaskCard(day Day, tasks []Task) TaskCard {
	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	SortTasks(sorted)

	completed := len(sorted) > 0
	for _, t := range sorted {
		if !t.Completed {
			completed = false
			break
		}
	}

	return TaskCard{Date: day, Tasks: sorted, Completed: completed}
}

// SortTasks applies the card order in place.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
