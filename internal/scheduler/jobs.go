package scheduler

import (
	"context"
	"errors"
	"time"

	"dayroll/internal/domain"
	"dayroll/internal/models"
	"dayroll/internal/syncer"
)

const (
	JobAutoSync        = "auto-sync"
	JobDailySync       = "daily-sync"
	JobDayRollover     = "day-rollover"
	JobBackup          = "backup"
	JobAttentionDigest = "attention-digest"
)

type SyncRunner interface {
	GetSyncStatus() models.SyncStatus
	Sync(ctx context.Context, dir models.SyncDirection) (*syncer.Report, error)
}

type CardReader interface {
	Today() models.Day
	GetTasksForDate(ctx context.Context, day models.Day) (models.TaskCard, error)
}

type BackupRunner interface {
	Run(ctx context.Context) error
}

type DigestSource interface {
	AttentionDigest(ctx context.Context) (string, error)
}

// upload runs one upload. A busy or local-only orchestrator is not a job
// failure.
func upload(ctx context.Context, s SyncRunner) error {
	_, err := s.Sync(ctx, models.SyncUpload)
	if errors.Is(err, syncer.ErrSyncInProgress) || errors.Is(err, syncer.ErrLocalOnly) {
		return nil
	}
	return err
}

// AutoSync uploads every interval while there are pending changes.
func AutoSync(s SyncRunner, every time.Duration) Job {
	return Job{
		Name:  JobAutoSync,
		Every: every,
		Run: func(ctx context.Context) error {
			if s.GetSyncStatus().PendingChangeCount == 0 {
				return nil
			}
			return upload(ctx, s)
		},
	}
}

// DailySync uploads once a day regardless of pending changes.
func DailySync(s SyncRunner, at Clock) Job {
	return Job{
		Name: JobDailySync,
		At:   &at,
		Run: func(ctx context.Context) error {
			return upload(ctx, s)
		},
	}
}

// DayRollover reads today's card right after midnight so open tasks move
// forward before anyone asks for them.
func DayRollover(r CardReader) Job {
	return Job{
		Name: JobDayRollover,
		At:   &Clock{Hour: 0, Minute: 0},
		Run: func(ctx context.Context) error {
			_, err := r.GetTasksForDate(ctx, r.Today())
			return err
		},
	}
}

func Backup(b BackupRunner, every time.Duration) Job {
	return Job{Name: JobBackup, Every: every, Run: b.Run}
}

// AttentionDigest sends the attention list once a day when it is not empty.
func AttentionDigest(src DigestSource, n domain.Notifier, at Clock) Job {
	return Job{
		Name: JobAttentionDigest,
		At:   &at,
		Run: func(ctx context.Context) error {
			text, err := src.AttentionDigest(ctx)
			if err != nil || text == "" {
				return err
			}
			return n.Notify(ctx, text)
		},
	}
}
