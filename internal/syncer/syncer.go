// Package syncer replicates the local task store to a remote provider and
// owns the process-wide sync status.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dayroll/internal/domain"
	"dayroll/internal/events"
	"dayroll/internal/identity"
	"dayroll/internal/metrics"
	"dayroll/internal/models"
	"dayroll/internal/remote"
	"dayroll/internal/store"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 30 * time.Second

// Report summarizes one sync run.
type Report struct {
	Direction  models.SyncDirection `json:"direction"`
	Provider   string               `json:"provider"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	DaysOK     int                  `json:"days_ok"`
	DaysFailed int                  `json:"days_failed"`
}

type Option func(*Syncer)

func WithConflictPolicy(p models.ConflictPolicy) Option {
	return func(s *Syncer) {
		if p.Valid() {
			s.policy = p
		}
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithRecorder stores a history row for every finished run.
func WithRecorder(r domain.SyncRunRecorder) Option {
	return func(s *Syncer) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

type Syncer struct {
	store    domain.TaskStore
	kv       domain.KVStore
	provider remote.Provider
	identity identity.Provider
	recorder domain.SyncRunRecorder
	bus      domain.EventPublisher
	logger   *zerolog.Logger

	policy      models.ConflictPolicy
	callTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	status models.SyncStatus
	// dirty maps a day to the generation of its last local change.
	dirty    map[models.Day]uint64
	dirtyGen uint64
	// dirtyVer orders dirty list snapshots; persistMu guards persistedVer.
	dirtyVer     uint64
	persistMu    sync.Mutex
	persistedVer uint64
	onWrite      func()

	subsMu  sync.RWMutex
	subs    map[uint64]func(models.SyncStatus)
	nextSub uint64
}

// New restores the last sync time and dirty days from kv. provider may be
// nil, which keeps the orchestrator local-only.
func New(ctx context.Context, st domain.TaskStore, kv domain.KVStore, provider remote.Provider, ident identity.Provider,
	bus domain.EventPublisher, logger *zerolog.Logger, opts ...Option) (*Syncer, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if ident == nil {
		ident = identity.None{}
	}
	s := &Syncer{
		store:       st,
		kv:          kv,
		provider:    provider,
		identity:    ident,
		bus:         bus,
		logger:      logger,
		policy:      models.LocalWins,
		callTimeout: defaultCallTimeout,
		now:         time.Now,
		dirty:       make(map[models.Day]uint64),
		subs:        make(map[uint64]func(models.SyncStatus)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.restore(ctx); err != nil {
		return nil, err
	}
	_, hasPrincipal := ident.Current(ctx)
	s.status.RemoteAvailable = provider != nil && hasPrincipal
	metrics.SetPending(0)
	return s, nil
}

func (s *Syncer) restore(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, models.KeyLastSync)
	if err != nil {
		return fmt.Errorf("load last sync: %w", err)
	}
	if len(raw) > 0 {
		ts, err := time.Parse(time.RFC3339, string(raw))
		if err != nil {
			s.logger.Warn().Err(err).Str("value", string(raw)).Msg("ignoring unparseable last sync timestamp")
		} else {
			s.status.LastSyncTimestamp = &ts
		}
	}

	raw, err = s.kv.Get(ctx, models.KeySyncDirtyDays)
	if err != nil {
		return fmt.Errorf("load dirty days: %w", err)
	}
	if len(raw) > 0 {
		var days []models.Day
		if err := json.Unmarshal(raw, &days); err != nil {
			s.logger.Warn().Err(err).Msg("ignoring unparseable dirty days")
			return nil
		}
		for _, d := range days {
			s.dirtyGen++
			s.dirty[d] = s.dirtyGen
		}
	}
	return nil
}

// Attach subscribes the orchestrator to local task changes.
func (s *Syncer) Attach(bus *events.EventBus) func() {
	return bus.Subscribe(events.EventTasksChanged, s.HandleTasksChanged)
}

// SetWriteHook registers fn to run after every local change while a
// principal is present. fn must not block.
func (s *Syncer) SetWriteHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// HandleTasksChanged counts a local mutation as pending and marks its days
// dirty. Changes applied from the remote copy are ignored.
func (s *Syncer) HandleTasksChanged(e events.Event) error {
	change, ok := e.Data.(events.TasksChanged)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", e.Type, e.Data)
	}
	if change.Origin == events.OriginRemote {
		return nil
	}

	s.mu.Lock()
	s.status.PendingChangeCount++
	for _, d := range change.Days {
		s.dirtyGen++
		s.dirty[d] = s.dirtyGen
	}
	snap := s.bump()
	days, ver := s.dirtySnapshotLocked()
	hook := s.onWrite
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.persistDirty(ctx, days, ver); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist dirty days")
	}
	s.broadcast(snap)

	if _, ok := s.identity.Current(ctx); ok && hook != nil && s.provider != nil {
		hook()
	}
	return nil
}

// GetSyncStatus returns a snapshot of the current status.
func (s *Syncer) GetSyncStatus() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// OnSyncStatusChange registers fn for every status transition. The
// returned func removes it.
func (s *Syncer) OnSyncStatusChange(fn func(models.SyncStatus)) func() {
	s.subsMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// SyncWithCloud runs a sync and reports whether it fully succeeded.
func (s *Syncer) SyncWithCloud(ctx context.Context, dir models.SyncDirection) bool {
	_, err := s.Sync(ctx, dir)
	return err == nil
}

// Sync runs one transfer in the given direction. Cancelling ctx does not
// abort a started run; each provider call is bounded by the call timeout.
func (s *Syncer) Sync(ctx context.Context, dir models.SyncDirection) (*Report, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, dir)
	}
	principal, ok := s.identity.Current(ctx)
	if s.provider == nil || !ok {
		s.logger.Warn().Str("direction", string(dir)).Msg("sync skipped: no remote provider or identity")
		return nil, ErrLocalOnly
	}

	s.mu.Lock()
	if s.status.SyncInProgress {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.status.SyncInProgress = true
	pendingAtStart := s.status.PendingChangeCount
	dirtyAtStart := make(map[models.Day]uint64, len(s.dirty))
	for d, g := range s.dirty {
		dirtyAtStart[d] = g
	}
	snap := s.bump()
	s.mu.Unlock()
	s.broadcast(snap)

	runCtx := context.WithoutCancel(ctx)
	report := &Report{Direction: dir, Provider: s.provider.Name(), StartedAt: s.now()}

	var err error
	switch dir {
	case models.SyncDownload:
		err = s.download(runCtx, principal, report)
	default:
		err = s.upload(runCtx, principal, dirtyAtStart, report)
	}
	report.FinishedAt = s.now()

	s.finish(runCtx, dir, report, pendingAtStart, err)
	if err != nil {
		s.logger.Error().Err(err).Str("direction", string(dir)).Str("provider", report.Provider).
			Int("days_ok", report.DaysOK).Int("days_failed", report.DaysFailed).Msg("sync failed")
		return report, err
	}
	s.logger.Info().Str("direction", string(dir)).Str("provider", report.Provider).
		Int("days_ok", report.DaysOK).Dur("took", report.FinishedAt.Sub(report.StartedAt)).Msg("sync completed")
	return report, nil
}

func (s *Syncer) finish(ctx context.Context, dir models.SyncDirection, report *Report, pendingAtStart int, err error) {
	s.mu.Lock()
	s.status.SyncInProgress = false
	s.status.RemoteAvailable = err == nil || report.DaysOK > 0 || !allUnavailable(err)
	if err == nil {
		ts := report.FinishedAt.UTC().Truncate(time.Second)
		s.status.LastSyncTimestamp = &ts
		if dir.ResetsPending() {
			// Changes made while the run was in flight stay pending.
			s.status.PendingChangeCount -= pendingAtStart
			if s.status.PendingChangeCount < 0 {
				s.status.PendingChangeCount = 0
			}
		}
	}
	snap := s.bump()
	s.mu.Unlock()

	if err == nil {
		if perr := s.kv.Set(ctx, models.KeyLastSync, []byte(snap.LastSyncTimestamp.Format(time.RFC3339))); perr != nil {
			s.logger.Error().Err(perr).Msg("failed to persist last sync timestamp")
		}
	}

	metrics.ObserveSyncRun(string(dir), err == nil)
	s.record(ctx, report, err)
	completed := events.SyncCompleted{Direction: dir, OK: err == nil, DaysOK: report.DaysOK, DaysFailed: report.DaysFailed}
	if err != nil {
		completed.Error = err.Error()
	}
	if s.bus != nil {
		s.bus.Publish(events.EventSyncCompleted, completed)
	}
	s.broadcast(snap)
}

func (s *Syncer) record(ctx context.Context, report *Report, err error) {
	if s.recorder == nil {
		return
	}
	run := &models.SyncRun{
		Direction:  report.Direction,
		Provider:   report.Provider,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		OK:         err == nil,
		DaysOK:     report.DaysOK,
		DaysFailed: report.DaysFailed,
	}
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}
	if rerr := s.recorder.RecordSyncRun(ctx, run); rerr != nil {
		s.logger.Error().Err(rerr).Msg("failed to record sync run")
	}
}

func (s *Syncer) upload(ctx context.Context, p models.Principal, dirty map[models.Day]uint64, report *Report) error {
	tasks, err := s.store.AllTasks(ctx)
	if err != nil {
		return fmt.Errorf("read local tasks: %w", err)
	}

	byDay := make(map[models.Day][]models.Task)
	for _, t := range tasks {
		byDay[t.CurrentDate] = append(byDay[t.CurrentDate], t)
	}
	for d := range dirty {
		if _, ok := byDay[d]; !ok {
			byDay[d] = []models.Task{}
		}
	}
	days := make([]models.Day, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	failed := make(map[models.Day]error)
	var cleared []models.Day
	for _, day := range days {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		err := s.provider.ReplaceTasks(callCtx, p, byDay[day], day)
		cancel()
		if err != nil {
			failed[day] = err
			continue
		}
		report.DaysOK++
		if _, ok := dirty[day]; ok {
			cleared = append(cleared, day)
		}
	}
	report.DaysFailed = len(failed)
	s.clearDirty(ctx, cleared, dirty)

	if len(failed) > 0 {
		return newPartialSyncError(models.SyncUpload, failed)
	}
	return nil
}

func (s *Syncer) download(ctx context.Context, p models.Principal, report *Report) error {
	listCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	days, err := s.provider.ListDays(listCtx, p)
	cancel()
	if err != nil {
		return fmt.Errorf("list remote days: %w", err)
	}

	applyCtx := store.WithRemoteOrigin(ctx)
	failed := make(map[models.Day]error)
	for _, day := range days {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		tasks, err := s.provider.GetTasksForDate(callCtx, p, day)
		cancel()
		if err != nil {
			failed[day] = err
			continue
		}

		if s.policy == models.CloudWins {
			if _, err := s.store.ReplaceTasks(applyCtx, tasks, day); err != nil {
				failed[day] = fmt.Errorf("apply remote day: %w", err)
				continue
			}
		} else {
			s.logger.Debug().Str("day", string(day)).Int("tasks", len(tasks)).Msg("local-wins: remote copy discarded")
		}
		report.DaysOK++
	}
	report.DaysFailed = len(failed)

	if len(failed) > 0 {
		return newPartialSyncError(models.SyncDownload, failed)
	}
	return nil
}

// allUnavailable reports whether err, or every day of a partial failure,
// is remote.ErrUnavailable.
func allUnavailable(err error) bool {
	var partial *PartialSyncError
	if errors.As(err, &partial) && len(partial.Failed) > 0 {
		for _, derr := range partial.Failed {
			if !errors.Is(derr, remote.ErrUnavailable) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, remote.ErrUnavailable)
}

// clearDirty drops days uploaded in this run unless they changed again
// after the run started.
func (s *Syncer) clearDirty(ctx context.Context, days []models.Day, gens map[models.Day]uint64) {
	if len(days) == 0 {
		return
	}
	s.mu.Lock()
	for _, d := range days {
		if s.dirty[d] == gens[d] {
			delete(s.dirty, d)
		}
	}
	remaining, ver := s.dirtySnapshotLocked()
	s.mu.Unlock()

	if err := s.persistDirty(ctx, remaining, ver); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist dirty days")
	}
}

// DirtyDays lists days with local changes not yet uploaded.
func (s *Syncer) DirtyDays() []models.Day {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyDaysLocked()
}

func (s *Syncer) dirtyDaysLocked() []models.Day {
	days := make([]models.Day, 0, len(s.dirty))
	for d := range s.dirty {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// dirtySnapshotLocked returns the dirty list with a version that orders it
// against other snapshots. Callers hold mu.
func (s *Syncer) dirtySnapshotLocked() ([]models.Day, uint64) {
	s.dirtyVer++
	return s.dirtyDaysLocked(), s.dirtyVer
}

// persistDirty stores days unless a newer snapshot was already written.
func (s *Syncer) persistDirty(ctx context.Context, days []models.Day, ver uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if ver <= s.persistedVer {
		return nil
	}
	raw, err := json.Marshal(days)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, models.KeySyncDirtyDays, raw); err != nil {
		return err
	}
	s.persistedVer = ver
	return nil
}

// bump advances the status version. Callers hold mu.
func (s *Syncer) bump() models.SyncStatus {
	s.status.Version++
	return s.snapshotLocked()
}

func (s *Syncer) snapshotLocked() models.SyncStatus {
	snap := s.status
	if snap.LastSyncTimestamp != nil {
		ts := *snap.LastSyncTimestamp
		snap.LastSyncTimestamp = &ts
	}
	return snap
}

func (s *Syncer) broadcast(snap models.SyncStatus) {
	metrics.SetPending(snap.PendingChangeCount)

	s.subsMu.RLock()
	fns := make([]func(models.SyncStatus), 0, len(s.subs))
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.RUnlock()

	for _, fn := range fns {
		s.deliver(fn, snap)
	}
}

func (s *Syncer) deliver(fn func(models.SyncStatus), snap models.SyncStatus) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Uint64("version", snap.Version).Msg("sync status subscriber panicked")
		}
	}()
	fn(snap)
}
