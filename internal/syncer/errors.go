package syncer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dayroll/internal/models"
)

var (
	// ErrSyncInProgress is returned when another run holds the sync slot.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrLocalOnly is returned when there is no provider or no principal.
	ErrLocalOnly = errors.New("sync disabled: running local-only")
	// ErrInvalidDirection rejects unknown sync directions.
	ErrInvalidDirection = errors.New("invalid sync direction")
)

// PartialSyncError reports the days whose transfer failed. Days missing
// from Failed were written successfully.
type PartialSyncError struct {
	Direction models.SyncDirection
	Failed    map[models.Day]error
	err       error
}

func newPartialSyncError(dir models.SyncDirection, failed map[models.Day]error) *PartialSyncError {
	days := make([]models.Day, 0, len(failed))
	for d := range failed {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	errs := make([]error, 0, len(days))
	for _, d := range days {
		errs = append(errs, fmt.Errorf("%s: %w", d, failed[d]))
	}
	return &PartialSyncError{Direction: dir, Failed: failed, err: errors.Join(errs...)}
}

func (e *PartialSyncError) Error() string {
	days := make([]string, 0, len(e.Failed))
	for d := range e.Failed {
		days = append(days, string(d))
	}
	sort.Strings(days)
	return fmt.Sprintf("%s sync failed for %d day(s) [%s]: %v", e.Direction, len(days), strings.Join(days, ", "), e.err)
}

func (e *PartialSyncError) Unwrap() error { return e.err }
