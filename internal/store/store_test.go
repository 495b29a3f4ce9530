package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"dayroll/internal/events"
	"dayroll/internal/models"
	"dayroll/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(day models.Day) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = day.Time(time.UTC).Add(9 * time.Hour)
}

type recorder struct {
	mu     sync.Mutex
	events []events.TasksChanged
}

func (r *recorder) handle(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Data.(events.TasksChanged))
	return nil
}

func (r *recorder) last() events.TasksChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	store *Store
	kv    *repository.MemoryKVStore
	clock *clock
	rec   *recorder
}

func newFixture(t *testing.T, today models.Day) *fixture {
	t.Helper()
	kv := repository.NewMemoryKVStore()
	return newFixtureWithKV(t, kv, today)
}

func newFixtureWithKV(t *testing.T, kv *repository.MemoryKVStore, today models.Day) *fixture {
	t.Helper()
	c := &clock{}
	c.Set(today)
	rec := &recorder{}
	bus := events.NewEventBus(nil)
	bus.Subscribe(events.EventTasksChanged, rec.handle)
	logger := zerolog.Nop()

	s, err := New(context.Background(), kv, bus, &logger, WithClock(c.Now), WithLocation(time.UTC))
	require.NoError(t, err)
	return &fixture{store: s, kv: kv, clock: c, rec: rec}
}

func TestAddTasks_Defaults(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	created, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "Write report"}}, "2024-01-10")
	require.NoError(t, err)
	require.Len(t, created, 1)

	task := created[0]
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.Day("2024-01-10"), task.CurrentDate)
	assert.Equal(t, models.Day("2024-01-10"), task.OriginalDate)
	assert.Equal(t, 0, task.RolloverCount)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, models.WorkDeep, task.WorkType)
	assert.False(t, task.Completed)

	ev := f.rec.last()
	assert.Equal(t, OpAdd, ev.Operation)
	assert.Equal(t, []models.Day{"2024-01-10"}, ev.Days)
	assert.Equal(t, events.OriginLocal, ev.Origin)
}

func TestAddTasks_DefaultDayAndValidation(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	ctx := context.Background()

	created, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "a"}, {Title: "b", Priority: models.PriorityHigh}}, "")
	require.NoError(t, err)
	assert.Equal(t, models.Day("2024-03-01"), created[0].CurrentDate)
	assert.Equal(t, models.PriorityHigh, created[1].Priority)

	_, err = f.store.AddTasks(ctx, []models.TaskDraft{{Title: "ok"}, {Title: "  "}}, "")
	assert.ErrorIs(t, err, ErrInvalidTask)

	all, _ := f.store.AllTasks(ctx)
	assert.Len(t, all, 2, "a rejected batch stores nothing")

	none, err := f.store.AddTasks(ctx, nil, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetTasksForDate_Rollover(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	created, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "Write report"}}, "2024-01-10")
	require.NoError(t, err)

	f.clock.Set("2024-01-12")
	card, err := f.store.GetTasksForDate(ctx, "2024-01-12")
	require.NoError(t, err)

	require.Len(t, card.Tasks, 1)
	assert.Equal(t, created[0].ID, card.Tasks[0].ID)
	assert.Equal(t, models.Day("2024-01-12"), card.Tasks[0].CurrentDate)
	assert.Equal(t, 1, card.Tasks[0].RolloverCount)

	ev := f.rec.last()
	assert.Equal(t, OpRollover, ev.Operation)
	assert.Equal(t, []models.Day{"2024-01-10", "2024-01-12"}, ev.Days)

	// reading again does not roll over twice
	before := f.rec.count()
	card, err = f.store.GetTasksForDate(ctx, "2024-01-12")
	require.NoError(t, err)
	assert.Equal(t, 1, card.Tasks[0].RolloverCount)
	assert.Equal(t, before, f.rec.count())
}

func TestGetTasksForDate_PastIsReadOnly(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	_, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "old"}}, "2024-01-08")
	require.NoError(t, err)
	before := f.rec.count()

	card, err := f.store.GetTasksForDate(ctx, "2024-01-09")
	require.NoError(t, err)
	assert.Empty(t, card.Tasks)
	assert.False(t, card.Completed)

	card, err = f.store.GetTasksForDate(ctx, "2024-01-08")
	require.NoError(t, err)
	require.Len(t, card.Tasks, 1)
	assert.Equal(t, 0, card.Tasks[0].RolloverCount)
	assert.Equal(t, before, f.rec.count())
}

func TestGetTasksForDate_Ceiling(t *testing.T) {
	f := newFixture(t, "2024-01-01")
	ctx := context.Background()
	_, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "stale"}}, "2024-01-01")
	require.NoError(t, err)

	day := models.Day("2024-01-01")
	for i := 0; i < 10; i++ {
		day = day.AddDays(1)
		f.clock.Set(day)
		_, err := f.store.GetTasksForDate(ctx, day)
		require.NoError(t, err)
	}

	all, _ := f.store.AllTasks(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, models.DefaultRolloverCeiling, all[0].RolloverCount)
	assert.Equal(t, models.Day("2024-01-08"), all[0].CurrentDate)

	attention, err := f.store.TasksNeedingAttention(ctx)
	require.NoError(t, err)
	require.Len(t, attention, 1)
	assert.Equal(t, all[0].ID, attention[0].ID)
}

func TestCardOrderAndCompleted(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	created, err := f.store.AddTasks(ctx, []models.TaskDraft{
		{Title: "low", Priority: models.PriorityLow},
		{Title: "critical", Priority: models.PriorityCritical},
	}, "")
	require.NoError(t, err)

	card, _ := f.store.GetTasksForDate(ctx, "2024-01-10")
	assert.Equal(t, "critical", card.Tasks[0].Title)
	assert.False(t, card.Completed)

	for _, c := range created {
		ok, err := f.store.ToggleTask(ctx, c.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
	card, _ = f.store.GetTasksForDate(ctx, "2024-01-10")
	assert.True(t, card.Completed)
}

func TestToggleTask_Symmetry(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()
	created, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "t"}}, "")
	id := created[0].ID

	ok, err := f.store.ToggleTask(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	task, _ := f.store.Task(ctx, id)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)

	ok, err = f.store.ToggleTask(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	task, _ = f.store.Task(ctx, id)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)

	ok, err = f.store.ToggleTask(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateTask(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()
	created, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "t"}}, "")
	id := created[0].ID

	title := "  renamed "
	prio := models.PriorityUrgent
	moved := models.Day("2024-01-15")
	ok, err := f.store.UpdateTask(ctx, id, models.TaskPatch{Title: &title, Priority: &prio, CurrentDate: &moved})
	require.NoError(t, err)
	require.True(t, ok)

	task, _ := f.store.Task(ctx, id)
	assert.Equal(t, "renamed", task.Title)
	assert.Equal(t, models.PriorityUrgent, task.Priority)
	assert.Equal(t, moved, task.CurrentDate)
	assert.Equal(t, models.Day("2024-01-10"), task.OriginalDate)
	assert.Equal(t, 0, task.RolloverCount)
	assert.Equal(t, []models.Day{"2024-01-10", "2024-01-15"}, f.rec.last().Days)

	early := models.Day("2024-01-09")
	ok, err = f.store.UpdateTask(ctx, id, models.TaskPatch{CurrentDate: &early})
	assert.ErrorIs(t, err, ErrDateBeforeOrigin)
	assert.False(t, ok)

	bad := models.Priority("whenever")
	_, err = f.store.UpdateTask(ctx, id, models.TaskPatch{Priority: &bad})
	assert.ErrorIs(t, err, ErrInvalidTask)

	ok, err = f.store.UpdateTask(ctx, "missing", models.TaskPatch{Title: &title})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()
	created, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "a"}, {Title: "b"}}, "")

	ok, err := f.store.DeleteTask(ctx, created[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, OpDelete, f.rec.last().Operation)

	ok, err = f.store.DeleteTask(ctx, created[0].ID)
	require.NoError(t, err)
	assert.False(t, ok)

	all, _ := f.store.AllTasks(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, created[1].ID, all[0].ID)
}

func TestReplaceTasks(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	onDay, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "replaced away"}}, "2024-01-10")
	elsewhere, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "from the 9th"}}, "2024-01-09")
	keep, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "other day"}}, "2024-01-11")

	moving := elsewhere[0]
	future := models.NewTask(models.TaskDraft{Title: "too new"}, "2024-01-20", time.Now())
	fresh := models.Task{Title: "from remote", CurrentDate: "1999-01-01"}

	n, err := f.store.ReplaceTasks(ctx, []models.Task{moving, future, fresh, moving}, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	card, _ := f.store.GetTasksForDate(ctx, "2024-01-10")
	require.Len(t, card.Tasks, 2)
	for _, task := range card.Tasks {
		assert.Equal(t, models.Day("2024-01-10"), task.CurrentDate)
		assert.False(t, task.CurrentDate.Before(task.OriginalDate))
		assert.NotEqual(t, onDay[0].ID, task.ID)
		assert.NotEmpty(t, task.ID)
	}

	all, _ := f.store.AllTasks(ctx)
	assert.Len(t, all, 3, "moved task must not be duplicated")
	_, found := f.store.Task(ctx, keep[0].ID)
	assert.True(t, found)

	ev := f.rec.last()
	assert.Equal(t, OpReplace, ev.Operation)
	assert.Equal(t, []models.Day{"2024-01-09", "2024-01-10"}, ev.Days)

	_, err = f.store.ReplaceTasks(ctx, nil, "")
	assert.ErrorIs(t, err, ErrInvalidTask)
}

func TestReplaceTasks_RemoteOrigin(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := WithRemoteOrigin(context.Background())

	_, err := f.store.ReplaceTasks(ctx, []models.Task{{Title: "pulled"}}, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, events.OriginRemote, f.rec.last().Origin)
	assert.Equal(t, events.OriginLocal, OriginFrom(context.Background()))
}

func TestDays(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()
	_, _ = f.store.AddTasks(ctx, []models.TaskDraft{{Title: "a"}}, "2024-01-12")
	_, _ = f.store.AddTasks(ctx, []models.TaskDraft{{Title: "b"}, {Title: "c"}}, "2024-01-10")

	days, err := f.store.Days(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Day{"2024-01-10", "2024-01-12"}, days)
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := repository.NewMemoryKVStore()
	f := newFixtureWithKV(t, kv, "2024-01-10")
	ctx := context.Background()
	created, _ := f.store.AddTasks(ctx, []models.TaskDraft{{Title: "persisted", Description: "desc"}}, "")
	_, _ = f.store.ToggleTask(ctx, created[0].ID)

	reopened := newFixtureWithKV(t, kv, "2024-01-10")
	task, ok := reopened.store.Task(ctx, created[0].ID)
	require.True(t, ok)
	assert.Equal(t, "persisted", task.Title)
	assert.True(t, task.Completed)
	assert.NotNil(t, task.CompletedAt)
}

func TestCorruptDataResets(t *testing.T) {
	kv := repository.NewMemoryKVStore()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, models.KeyTasks, []byte("{not json")))
	require.NoError(t, kv.Set(ctx, models.KeyLastSync, []byte("2024-01-01T00:00:00Z")))

	f := newFixtureWithKV(t, kv, "2024-01-10")

	all, err := f.store.AllTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	corrupt, _ := kv.Get(ctx, models.KeyTasksCorrupt)
	assert.Equal(t, "{not json", string(corrupt))
	stored, _ := kv.Get(ctx, models.KeyTasks)
	assert.Equal(t, "[]", string(stored))
	lastSync, _ := kv.Get(ctx, models.KeyLastSync)
	assert.Equal(t, "2024-01-01T00:00:00Z", string(lastSync), "other records are untouched")

	_, err = f.store.AddTasks(ctx, []models.TaskDraft{{Title: "works"}}, "")
	assert.NoError(t, err)
}

func TestLoadRepairsBackdatedTasks(t *testing.T) {
	kv := repository.NewMemoryKVStore()
	ctx := context.Background()
	raw := `[{"id":"x","title":"t","work_type":"deep","priority":"medium","original_date":"2024-01-10","current_date":"2024-01-05","created_at":"2024-01-10T00:00:00Z"}]`
	require.NoError(t, kv.Set(ctx, models.KeyTasks, []byte(raw)))

	f := newFixtureWithKV(t, kv, "2024-01-10")
	task, ok := f.store.Task(ctx, "x")
	require.True(t, ok)
	assert.Equal(t, models.Day("2024-01-10"), task.CurrentDate)
}

type failingKV struct {
	*repository.MemoryKVStore
	fail bool
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryKVStore.Set(ctx, key, value)
}

func TestPersistFailureKeepsState(t *testing.T) {
	kv := &failingKV{MemoryKVStore: repository.NewMemoryKVStore()}
	logger := zerolog.Nop()
	ctx := context.Background()
	s, err := New(ctx, kv, nil, &logger, WithLocation(time.UTC))
	require.NoError(t, err)

	created, err := s.AddTasks(ctx, []models.TaskDraft{{Title: "a"}}, "")
	require.NoError(t, err)

	kv.fail = true
	_, err = s.AddTasks(ctx, []models.TaskDraft{{Title: "b"}}, "")
	assert.Error(t, err)
	ok, err := s.ToggleTask(ctx, created[0].ID)
	assert.Error(t, err)
	assert.False(t, ok)

	all, _ := s.AllTasks(ctx)
	require.Len(t, all, 1)
	assert.False(t, all[0].Completed)
}

func TestConcurrentAccess(t *testing.T) {
	f := newFixture(t, "2024-01-10")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := f.store.AddTasks(ctx, []models.TaskDraft{{Title: fmt.Sprintf("t%d", i)}}, "2024-01-09")
			if err != nil {
				return
			}
			_, _ = f.store.ToggleTask(ctx, created[0].ID)
			_, _ = f.store.GetTasksForDate(ctx, "2024-01-10")
		}(i)
	}
	wg.Wait()

	all, _ := f.store.AllTasks(ctx)
	assert.Len(t, all, 20)
}
