// Package scheduler runs the background jobs: periodic and daily sync,
// midnight rollover, backups and the attention digest.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// Job runs either every Every or once a day at At. A job with neither only
// runs when triggered.
type Job struct {
	Name  string
	Every time.Duration
	At    *Clock
	Run   func(ctx context.Context) error
}

type entry struct {
	job     Job
	trigger chan struct{}
}

// Scheduler owns one goroutine per job. Runs of the same job never overlap.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*entry
	order   []string
	loc     *time.Location
	now     func() time.Time
	logger  *zerolog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(loc *time.Location, logger *zerolog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		jobs:   make(map[string]*entry),
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run func")
	}
	if s.started {
		return fmt.Errorf("scheduler already started, cannot add %s", job.Name)
	}
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = &entry{job: job, trigger: make(chan struct{}, 1)}
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs lists registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches the job loops. They stop when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		e := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.logger.Info().Strs("jobs", s.order).Msg("scheduler started")
}

// Stop cancels every loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// Trigger asks the job to run as soon as possible without waiting for it.
// Multiple triggers before the run collapse into one.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	defer s.wg.Done()

	var timer *time.Timer
	var tick <-chan time.Time
	if d := s.nextDelay(e.job); d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
		tick = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.run(ctx, e.job)
			timer.Reset(s.nextDelay(e.job))
		case <-e.trigger:
			s.run(ctx, e.job)
		}
	}
}

func (s *Scheduler) nextDelay(job Job) time.Duration {
	switch {
	case job.At != nil:
		return timeUntil(s.now().In(s.loc), job.At.Hour, job.At.Minute)
	case job.Every > 0:
		return job.Every
	default:
		return 0
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("job", job.Name).Msg("job panicked")
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", job.Name).Msg("job failed")
		return
	}
	s.logger.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job finished")
}

// timeUntil returns the wait from now to the next hour:minute in now's location.
func timeUntil(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
