// Package store owns the canonical local task collection.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dayroll/internal/domain"
	"dayroll/internal/events"
	"dayroll/internal/metrics"
	"dayroll/internal/models"
	"dayroll/internal/rollover"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	OpAdd      = "add"
	OpToggle   = "toggle"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpReplace  = "replace"
	OpRollover = "rollover"
)

var (
	ErrInvalidTask      = errors.New("invalid task")
	ErrDateBeforeOrigin = errors.New("current date before original date")
)

var _ domain.TaskStore = (*Store)(nil)

type Store struct {
	mu      sync.RWMutex
	tasks   []models.Task
	kv      domain.KVStore
	bus     domain.EventPublisher
	logger  *zerolog.Logger
	ceiling int
	loc     *time.Location
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the wall clock, used to compute today.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the timezone logical days are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithCeiling(ceiling int) Option {
	return func(s *Store) {
		if ceiling > 0 {
			s.ceiling = ceiling
		}
	}
}

// New loads the persisted collection. Unparseable data is moved aside and the
// store starts empty.
func New(ctx context.Context, kv domain.KVStore, bus domain.EventPublisher, logger *zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		kv:      kv,
		bus:     bus,
		logger:  logger,
		ceiling: models.DefaultRolloverCeiling,
		loc:     time.Local,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, models.KeyTasks)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	if len(raw) == 0 {
		s.tasks = []models.Task{}
		return nil
	}

	var tasks []models.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		s.logger.Error().Err(err).Int("bytes", len(raw)).Str("moved_to", models.KeyTasksCorrupt).
			Msg("persisted tasks are unreadable, starting with an empty collection")
		if err := s.kv.Set(ctx, models.KeyTasksCorrupt, raw); err != nil {
			return fmt.Errorf("keep corrupt tasks: %w", err)
		}
		s.tasks = []models.Task{}
		return s.persist(ctx, s.tasks)
	}

	for i := range tasks {
		if tasks[i].CurrentDate.Before(tasks[i].OriginalDate) {
			s.logger.Warn().Str("task_id", tasks[i].ID).Msg("current date before original date, repaired")
			tasks[i].CurrentDate = tasks[i].OriginalDate
		}
	}
	s.tasks = tasks
	return nil
}

// Today returns the current logical day.
func (s *Store) Today() models.Day {
	return models.DayOf(s.now().In(s.loc))
}

func (s *Store) Ceiling() int {
	return s.ceiling
}

func (s *Store) persist(ctx context.Context, tasks []models.Task) error {
	raw, err := json.Marshal(tasks)
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := s.kv.Set(ctx, models.KeyTasks, raw); err != nil {
		return fmt.Errorf("persist tasks: %w", err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, op string, days []models.Day, ids []string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.EventTasksChanged, events.TasksChanged{
		Operation: op,
		Days:      uniqueDays(days),
		TaskIDs:   ids,
		Origin:    OriginFrom(ctx),
	})
}

// GetTasksForDate returns the card of day. For today and later days open
// tasks from earlier days are rolled over first; past days are read-only.
func (s *Store) GetTasksForDate(ctx context.Context, day models.Day) (models.TaskCard, error) {
	if day.IsZero() {
		day = s.Today()
	}
	if day.Before(s.Today()) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return models.NewTaskCard(day, filterDay(s.tasks, day)), nil
	}

	s.mu.RLock()
	pending := s.needsRollover(day)
	if !pending {
		card := models.NewTaskCard(day, filterDay(s.tasks, day))
		s.mu.RUnlock()
		return card, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	res := rollover.Apply(s.tasks, day, s.ceiling)
	if res.Changed() {
		if err := s.persist(ctx, res.Tasks); err != nil {
			s.mu.Unlock()
			return models.TaskCard{}, err
		}
		s.tasks = res.Tasks
	}
	card := models.NewTaskCard(day, filterDay(s.tasks, day))
	s.mu.Unlock()

	if res.Changed() {
		metrics.AddRollovers(len(res.Moved))
		s.logger.Debug().Str("day", day.String()).Int("moved", len(res.Moved)).Msg("tasks rolled over")
		s.publish(ctx, OpRollover, append(res.FromDays, day), res.Moved)
	}
	return card, nil
}

func (s *Store) needsRollover(day models.Day) bool {
	for _, t := range s.tasks {
		if !t.Completed && t.CurrentDate.Before(day) && t.RolloverCount < s.ceiling {
			return true
		}
	}
	return false
}

// AddTasks creates one task per draft on day. The batch is stored atomically.
func (s *Store) AddTasks(ctx context.Context, drafts []models.TaskDraft, day models.Day) ([]models.Task, error) {
	if len(drafts) == 0 {
		return []models.Task{}, nil
	}
	if day.IsZero() {
		day = s.Today()
	}

	now := s.now()
	created := make([]models.Task, 0, len(drafts))
	for i, d := range drafts {
		if strings.TrimSpace(d.Title) == "" {
			return nil, fmt.Errorf("%w: draft %d has an empty title", ErrInvalidTask, i)
		}
		created = append(created, models.NewTask(d, day, now))
	}

	s.mu.Lock()
	next := make([]models.Task, 0, len(s.tasks)+len(created))
	next = append(next, s.tasks...)
	next = append(next, created...)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.tasks = next
	s.mu.Unlock()

	ids := make([]string, len(created))
	for i, t := range created {
		ids[i] = t.ID
	}
	s.publish(ctx, OpAdd, []models.Day{day}, ids)
	return created, nil
}

// ToggleTask flips the completion state. It returns false for an unknown id.
func (s *Store) ToggleTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	idx := indexOf(s.tasks, id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	next := cloneTasks(s.tasks)
	next[idx].SetCompleted(!next[idx].Completed, s.now())
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.tasks = next
	day := next[idx].CurrentDate
	s.mu.Unlock()

	s.publish(ctx, OpToggle, []models.Day{day}, []string{id})
	return true, nil
}

// UpdateTask merges the non-nil patch fields into the task.
func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (bool, error) {
	if patch.WorkType != nil && !patch.WorkType.Valid() {
		return false, fmt.Errorf("%w: work type %q", ErrInvalidTask, *patch.WorkType)
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return false, fmt.Errorf("%w: priority %q", ErrInvalidTask, *patch.Priority)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return false, fmt.Errorf("%w: empty title", ErrInvalidTask)
	}

	s.mu.Lock()
	idx := indexOf(s.tasks, id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	next := cloneTasks(s.tasks)
	t := &next[idx]
	days := []models.Day{t.CurrentDate}

	if patch.CurrentDate != nil {
		if patch.CurrentDate.Before(t.OriginalDate) {
			s.mu.Unlock()
			return false, fmt.Errorf("%w: %s < %s", ErrDateBeforeOrigin, *patch.CurrentDate, t.OriginalDate)
		}
		t.CurrentDate = *patch.CurrentDate
		days = append(days, t.CurrentDate)
	}
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.WorkType != nil {
		t.WorkType = *patch.WorkType
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}

	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.tasks = next
	s.mu.Unlock()

	s.publish(ctx, OpUpdate, days, []string{id})
	return true, nil
}

// DeleteTask removes the task permanently.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	idx := indexOf(s.tasks, id)
	if idx < 0 {
		s.mu.Unlock()
		return false, nil
	}
	day := s.tasks[idx].CurrentDate
	next := make([]models.Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:idx]...)
	next = append(next, s.tasks[idx+1:]...)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.tasks = next
	s.mu.Unlock()

	s.publish(ctx, OpDelete, []models.Day{day}, []string{id})
	return true, nil
}

// ReplaceTasks swaps the whole set of day for tasks. Every stored task gets
// CurrentDate = day; a task that also lives on another day is moved. Tasks
// created after day cannot be placed on it and are dropped.
func (s *Store) ReplaceTasks(ctx context.Context, tasks []models.Task, day models.Day) (int, error) {
	if day.IsZero() {
		return 0, fmt.Errorf("%w: replace needs a day", ErrInvalidTask)
	}

	now := s.now()
	incoming := make([]models.Task, 0, len(tasks))
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		t = s.normalize(t, day, now)
		if t.OriginalDate.After(day) {
			s.logger.Warn().Str("task_id", t.ID).Str("original_date", t.OriginalDate.String()).Str("day", day.String()).
				Msg("task created after target day dropped from replace")
			continue
		}
		if ids[t.ID] {
			continue
		}
		ids[t.ID] = true
		t.CurrentDate = day
		incoming = append(incoming, t)
	}

	s.mu.Lock()
	days := []models.Day{day}
	next := make([]models.Task, 0, len(s.tasks)+len(incoming))
	for _, t := range s.tasks {
		if t.CurrentDate == day {
			continue
		}
		if ids[t.ID] {
			days = append(days, t.CurrentDate)
			continue
		}
		next = append(next, t)
	}
	next = append(next, incoming...)
	if err := s.persist(ctx, next); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.tasks = next
	s.mu.Unlock()

	changed := make([]string, 0, len(incoming))
	for _, t := range incoming {
		changed = append(changed, t.ID)
	}
	s.publish(ctx, OpReplace, days, changed)
	return len(incoming), nil
}

// normalize fills what a remote or hand-built task may lack.
func (s *Store) normalize(t models.Task, day models.Day, now time.Time) models.Task {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OriginalDate.IsZero() {
		t.OriginalDate = day
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if !t.WorkType.Valid() {
		t.WorkType = models.WorkDeep
	}
	if !t.Priority.Valid() {
		t.Priority = models.PriorityMedium
	}
	if t.Completed && t.CompletedAt == nil {
		at := now
		t.CompletedAt = &at
	}
	if !t.Completed {
		t.CompletedAt = nil
	}
	if t.RolloverCount < 0 {
		t.RolloverCount = 0
	}
	return t
}

// TasksNeedingAttention lists open tasks that keep slipping or are urgent.
func (s *Store) TasksNeedingAttention(ctx context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rollover.NeedsAttention(s.tasks), nil
}

// Task returns one task by id.
func (s *Store) Task(ctx context.Context, id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := indexOf(s.tasks, id)
	if idx < 0 {
		return models.Task{}, false
	}
	return s.tasks[idx], true
}

func (s *Store) AllTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks), nil
}

// Days lists the distinct current days holding tasks, ascending.
func (s *Store) Days(ctx context.Context) ([]models.Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days := make([]models.Day, 0, len(s.tasks))
	for _, t := range s.tasks {
		days = append(days, t.CurrentDate)
	}
	return uniqueDays(days), nil
}

func filterDay(tasks []models.Task, day models.Day) []models.Task {
	out := make([]models.Task, 0)
	for _, t := range tasks {
		if t.CurrentDate == day {
			out = append(out, t)
		}
	}
	return out
}

func indexOf(tasks []models.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTasks(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	copy(out, tasks)
	return out
}

func uniqueDays(days []models.Day) []models.Day {
	seen := make(map[models.Day]bool, len(days))
	out := make([]models.Day, 0, len(days))
	for _, d := range days {
		if d.IsZero() || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
