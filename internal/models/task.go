package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type WorkType string

const (
	WorkDeep  WorkType = "deep"
	WorkLight WorkType = "light"
)

func (w WorkType) Valid() bool {
	return w == WorkDeep || w == WorkLight
}

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 5,
	PriorityUrgent:   4,
	PriorityHigh:     3,
	PriorityMedium:   2,
	PriorityLow:      1,
}

// Rank orders priorities, critical highest. Unknown values rank 0.
func (p Priority) Rank() int {
	return priorityRank[p]
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Task is a unit of work assigned to a logical day.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	WorkType      WorkType   `json:"work_type"`
	Priority      Priority   `json:"priority"`
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	OriginalDate  Day        `json:"original_date"`
	CurrentDate   Day        `json:"current_date"`
	RolloverCount int        `json:"rollover_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TaskDraft carries the caller-supplied fields of a new task.
type TaskDraft struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	WorkType    WorkType `json:"work_type,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
}

// TaskPatch is a shallow update. Nil fields are left untouched; the id,
// original date and rollover count cannot be changed through it.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	WorkType    *WorkType `json:"work_type,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	CurrentDate *Day      `json:"current_date,omitempty"`
}

// NewTask builds a task from a draft, filling every default.
func NewTask(draft TaskDraft, day Day, now time.Time) Task {
	workType := draft.WorkType
	if !workType.Valid() {
		workType = WorkDeep
	}
	priority := draft.Priority
	if !priority.Valid() {
		priority = PriorityMedium
	}
	return Task{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(draft.Title),
		Description:  strings.TrimSpace(draft.Description),
		WorkType:     workType,
		Priority:     priority,
		OriginalDate: day,
		CurrentDate:  day,
		CreatedAt:    now,
	}
}

// SetCompleted moves the task to the given completion state, keeping
// CompletedAt consistent with it.
func (t *Task) SetCompleted(done bool, now time.Time) {
	if t.Completed == done {
		return
	}
	t.Completed = done
	if done {
		at := now
		t.CompletedAt = &at
		return
	}
	t.CompletedAt = nil
}

// NeedsAttention reports whether an open task has rolled over repeatedly
// or is marked urgent.
func (t Task) NeedsAttention() bool {
	if t.Completed {
		return false
	}
	return t.RolloverCount >= AttentionRolloverThreshold || t.Priority == PriorityUrgent
}
