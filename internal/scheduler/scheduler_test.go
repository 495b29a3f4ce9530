package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dayroll/internal/models"
	"dayroll/internal/syncer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeUntil(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 1, 10, 8, 30, 0, 0, loc)

	assert.Equal(t, 30*time.Minute, timeUntil(now, 9, 0))
	assert.Equal(t, 15*time.Hour+30*time.Minute, timeUntil(now, 0, 0))
	assert.Equal(t, 24*time.Hour, timeUntil(now, 8, 30))
}

func TestAdd_Validation(t *testing.T) {
	s := New(time.UTC, nil)
	run := func(context.Context) error { return nil }

	require.NoError(t, s.Add(Job{Name: "a", Run: run}))
	assert.Error(t, s.Add(Job{Name: "a", Run: run}))
	assert.Error(t, s.Add(Job{Name: "", Run: run}))
	assert.Error(t, s.Add(Job{Name: "b"}))
	assert.Equal(t, []string{"a"}, s.Jobs())

	s.Start(context.Background())
	defer s.Stop()
	assert.Error(t, s.Add(Job{Name: "c", Run: run}))
}

func TestEveryJobRunsAndStops(t *testing.T) {
	s := New(time.UTC, nil)
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Every: 5 * time.Millisecond, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestTrigger(t *testing.T) {
	s := New(time.UTC, nil)
	ran := make(chan struct{}, 4)
	require.NoError(t, s.Add(Job{Name: "manual", Run: func(context.Context) error {
		ran <- struct{}{}
		return errors.New("failures are logged")
	}}))

	assert.False(t, s.Trigger("missing"))
	s.Start(context.Background())
	defer s.Stop()

	assert.True(t, s.Trigger("manual"))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}
}

func TestPanickingJobKeepsLoopAlive(t *testing.T) {
	s := New(time.UTC, nil)
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{Name: "flaky", Run: func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}}))
	s.Start(context.Background())
	defer s.Stop()

	s.Trigger("flaky")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	s.Trigger("flaky")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	New(nil, nil).Stop()
}

type fakeSyncer struct {
	mu      sync.Mutex
	pending int
	err     error
	calls   []models.SyncDirection
}

func (f *fakeSyncer) GetSyncStatus() models.SyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.SyncStatus{PendingChangeCount: f.pending}
}

func (f *fakeSyncer) Sync(_ context.Context, dir models.SyncDirection) (*syncer.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dir)
	return &syncer.Report{Direction: dir}, f.err
}

func TestAutoSync(t *testing.T) {
	ctx := context.Background()
	f := &fakeSyncer{}
	job := AutoSync(f, time.Minute)
	assert.Equal(t, JobAutoSync, job.Name)

	require.NoError(t, job.Run(ctx))
	assert.Empty(t, f.calls, "nothing pending")

	f.pending = 2
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, []models.SyncDirection{models.SyncUpload}, f.calls)

	f.err = syncer.ErrSyncInProgress
	assert.NoError(t, job.Run(ctx))
	f.err = syncer.ErrLocalOnly
	assert.NoError(t, job.Run(ctx))
	f.err = errors.New("provider exploded")
	assert.Error(t, job.Run(ctx))
}

func TestDailySyncIgnoresPending(t *testing.T) {
	f := &fakeSyncer{}
	job := DailySync(f, Clock{Hour: 23})
	require.NotNil(t, job.At)
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, f.calls, 1)
}

type fakeCards struct {
	read []models.Day
}

func (f *fakeCards) Today() models.Day { return "2024-01-11" }

func (f *fakeCards) GetTasksForDate(_ context.Context, day models.Day) (models.TaskCard, error) {
	f.read = append(f.read, day)
	return models.TaskCard{Date: day}, nil
}

func TestDayRollover(t *testing.T) {
	f := &fakeCards{}
	job := DayRollover(f)
	assert.Equal(t, &Clock{}, job.At)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []models.Day{"2024-01-11"}, f.read)
}

type digestFunc func(ctx context.Context) (string, error)

func (f digestFunc) AttentionDigest(ctx context.Context) (string, error) { return f(ctx) }

type notes struct{ sent []string }

func (n *notes) Notify(_ context.Context, text string) error {
	n.sent = append(n.sent, text)
	return nil
}

func TestAttentionDigest(t *testing.T) {
	ctx := context.Background()
	n := &notes{}

	empty := AttentionDigest(digestFunc(func(context.Context) (string, error) { return "", nil }), n, Clock{Hour: 8})
	require.NoError(t, empty.Run(ctx))
	assert.Empty(t, n.sent)

	full := AttentionDigest(digestFunc(func(context.Context) (string, error) { return "2 tasks", nil }), n, Clock{Hour: 8})
	require.NoError(t, full.Run(ctx))
	assert.Equal(t, []string{"2 tasks"}, n.sent)
}
