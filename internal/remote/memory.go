package remote

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"dayroll/internal/models"
)

// MemoryProvider keeps remote copies in process memory. Failures can be
// injected for a whole provider or for single days.
type MemoryProvider struct {
	mu       sync.RWMutex
	data     map[string]map[models.Day][]models.Task
	fail     error
	failDays map[models.Day]error
	calls    atomic.Int64
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		data:     make(map[string]map[models.Day][]models.Task),
		failDays: make(map[models.Day]error),
	}
}

func (m *MemoryProvider) Name() string { return "memory" }

// Calls returns how many provider operations were attempted.
func (m *MemoryProvider) Calls() int64 { return m.calls.Load() }

// FailWith makes every call return err until cleared with nil.
func (m *MemoryProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// FailDay makes calls touching day return err until cleared with nil.
func (m *MemoryProvider) FailDay(day models.Day, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failDays, day)
		return
	}
	m.failDays[day] = err
}

func (m *MemoryProvider) check(day models.Day) error {
	if m.fail != nil {
		return m.fail
	}
	if day != "" {
		if err := m.failDays[day]; err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryProvider) ListDays(ctx context.Context, p models.Principal) ([]models.Day, error) {
	m.calls.Add(1)
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(""); err != nil {
		return nil, err
	}
	days := make([]models.Day, 0, len(m.data[p.ID]))
	for d := range m.data[p.ID] {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func (m *MemoryProvider) GetTasksForDate(ctx context.Context, p models.Principal, day models.Day) ([]models.Task, error) {
	m.calls.Add(1)
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(day); err != nil {
		return nil, err
	}
	return append([]models.Task{}, m.data[p.ID][day]...), nil
}

func (m *MemoryProvider) ReplaceTasks(ctx context.Context, p models.Principal, tasks []models.Task, day models.Day) error {
	m.calls.Add(1)
	if err := requirePrincipal(p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(day); err != nil {
		return err
	}
	if len(tasks) == 0 {
		delete(m.data[p.ID], day)
		return nil
	}
	if m.data[p.ID] == nil {
		m.data[p.ID] = make(map[models.Day][]models.Task)
	}
	m.data[p.ID][day] = append([]models.Task(nil), tasks...)
	return nil
}
