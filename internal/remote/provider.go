// Package remote holds the cloud copies of the task collection. Every
// backend implements Provider and is chosen once at startup.
package remote

import (
	"context"
	"errors"
	"fmt"

	"dayroll/internal/models"
)

// ErrUnavailable marks a provider that cannot be reached, refused the
// credentials or is throttling. These failures are worth retrying.
var ErrUnavailable = errors.New("remote provider unavailable")

// Provider stores one task set per principal and day.
type Provider interface {
	Name() string
	ListDays(ctx context.Context, p models.Principal) ([]models.Day, error)
	GetTasksForDate(ctx context.Context, p models.Principal, day models.Day) ([]models.Task, error)
	// ReplaceTasks overwrites the remote set of day. An empty list removes it.
	ReplaceTasks(ctx context.Context, p models.Principal, tasks []models.Task, day models.Day) error
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Retryable reports whether a failed call may succeed when repeated.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func requirePrincipal(p models.Principal) error {
	if p.ID == "" {
		return fmt.Errorf("%w: no principal", ErrUnavailable)
	}
	return nil
}
