package service

import (
	"context"
	"errors"
	"fmt"

	"dayroll/internal/classifier"
	"dayroll/internal/domain"
	"dayroll/internal/models"
	"dayroll/internal/store"

	"github.com/rs/zerolog"
)

// ErrInvalidInput marks caller errors such as malformed days.
var ErrInvalidInput = errors.New("invalid input")

// TaskService is the entry point used by the HTTP API and the CLI.
type TaskService struct {
	store     domain.TaskStore
	reorderer *classifier.Reorderer
	logger    *zerolog.Logger
}

func NewTaskService(st domain.TaskStore, logger *zerolog.Logger) *TaskService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TaskService{store: st, reorderer: classifier.NewReorderer(st, logger), logger: logger}
}

// IsInvalidInput reports whether err was caused by the request rather than
// by the storage.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, store.ErrInvalidTask) ||
		errors.Is(err, store.ErrDateBeforeOrigin)
}

// ParseDay accepts YYYY-MM-DD or "" for today.
func (s *TaskService) ParseDay(raw string) (models.Day, error) {
	if raw == "" {
		return s.store.Today(), nil
	}
	day, err := models.ParseDay(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return day, nil
}

func (s *TaskService) Today() models.Day { return s.store.Today() }

func (s *TaskService) Card(ctx context.Context, day models.Day) (models.TaskCard, error) {
	return s.store.GetTasksForDate(ctx, day)
}

func (s *TaskService) Add(ctx context.Context, drafts []models.TaskDraft, day models.Day) ([]models.Task, error) {
	if len(drafts) == 0 {
		return nil, fmt.Errorf("%w: no tasks given", ErrInvalidInput)
	}
	return s.store.AddTasks(ctx, drafts, day)
}

func (s *TaskService) Toggle(ctx context.Context, id string) (bool, error) {
	return s.store.ToggleTask(ctx, id)
}

func (s *TaskService) Update(ctx context.Context, id string, patch models.TaskPatch) (bool, error) {
	if patch.WorkType != nil && !patch.WorkType.Valid() {
		return false, fmt.Errorf("%w: unknown work type %q", ErrInvalidInput, *patch.WorkType)
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return false, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, *patch.Priority)
	}
	return s.store.UpdateTask(ctx, id, patch)
}

func (s *TaskService) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteTask(ctx, id)
}

func (s *TaskService) ReplaceCard(ctx context.Context, day models.Day, tasks []models.Task) (int, error) {
	return s.store.ReplaceTasks(ctx, tasks, day)
}

// Classify reorders the card of day by Eisenhower quadrant and stores the
// resulting priorities.
func (s *TaskService) Classify(ctx context.Context, day models.Day) (models.TaskCard, []classifier.Classification, error) {
	card, err := s.store.GetTasksForDate(ctx, day)
	if err != nil {
		return models.TaskCard{}, nil, err
	}
	return s.reorderer.ApplyClassification(ctx, card)
}

func (s *TaskService) Attention(ctx context.Context) ([]models.Task, error) {
	return s.store.TasksNeedingAttention(ctx)
}

// AttentionDigest renders today's attention list, "" when empty.
func (s *TaskService) AttentionDigest(ctx context.Context) (string, error) {
	tasks, err := s.store.TasksNeedingAttention(ctx)
	if err != nil {
		return "", err
	}
	return FormatAttentionDigest(s.store.Today(), tasks), nil
}

// Find returns the task with id from any day.
func (s *TaskService) Find(ctx context.Context, id string) (models.Task, bool, error) {
	all, err := s.store.AllTasks(ctx)
	if err != nil {
		return models.Task{}, false, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, true, nil
		}
	}
	return models.Task{}, false, nil
}
