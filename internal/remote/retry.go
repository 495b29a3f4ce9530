package remote

import (
	"context"
	"math"
	"time"

	"dayroll/internal/metrics"
	"dayroll/internal/models"

	"github.com/rs/zerolog"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns delay for a given attempt (1-based) with clamping.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Retrying repeats retryable calls of the wrapped provider with backoff.
type Retrying struct {
	next   Provider
	policy RetryPolicy
	logger *zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Provider, policy RetryPolicy, logger *zerolog.Logger) *Retrying {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Retrying{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Retrying) Name() string { return r.next.Name() }

// Unwrap returns the decorated provider.
func (r *Retrying) Unwrap() Provider { return r.next }

func (r *Retrying) call(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObserveProviderCall(r.next.Name(), op, start, err)
	return err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	err := r.call(op, fn)
	for attempt := 1; attempt <= r.policy.MaxRetries && Retryable(err) && ctx.Err() == nil; attempt++ {
		delay := r.policy.NextDelay(attempt)
		r.logger.Warn().Err(err).Str("provider", r.next.Name()).Str("op", op).
			Int("attempt", attempt).Dur("delay", delay).Msg("remote call failed, retrying")
		if serr := r.sleep(ctx, delay); serr != nil {
			return err
		}
		err = r.call(op, fn)
	}
	return err
}

func (r *Retrying) ListDays(ctx context.Context, p models.Principal) ([]models.Day, error) {
	var days []models.Day
	err := r.do(ctx, "list_days", func() error {
		var err error
		days, err = r.next.ListDays(ctx, p)
		return err
	})
	return days, err
}

func (r *Retrying) GetTasksForDate(ctx context.Context, p models.Principal, day models.Day) ([]models.Task, error) {
	var tasks []models.Task
	err := r.do(ctx, "get_day", func() error {
		var err error
		tasks, err = r.next.GetTasksForDate(ctx, p, day)
		return err
	})
	return tasks, err
}

func (r *Retrying) ReplaceTasks(ctx context.Context, p models.Principal, tasks []models.Task, day models.Day) error {
	return r.do(ctx, "replace_day", func() error {
		return r.next.ReplaceTasks(ctx, p, tasks, day)
	})
}
