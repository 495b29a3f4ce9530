package domain

import (
	"context"

	"dayroll/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// KVStore persists opaque records. Get returns nil, nil for a missing key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type EventPublisher interface {
	Publish(eventType string, data any)
}

type TaskStore interface {
	Today() models.Day
	GetTasksForDate(ctx context.Context, day models.Day) (models.TaskCard, error)
	AddTasks(ctx context.Context, drafts []models.TaskDraft, day models.Day) ([]models.Task, error)
	ToggleTask(ctx context.Context, id string) (bool, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (bool, error)
	DeleteTask(ctx context.Context, id string) (bool, error)
	ReplaceTasks(ctx context.Context, tasks []models.Task, day models.Day) (int, error)
	TasksNeedingAttention(ctx context.Context) ([]models.Task, error)
	AllTasks(ctx context.Context) ([]models.Task, error)
	Days(ctx context.Context) ([]models.Day, error)
}

type SyncRunRecorder interface {
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier delivers short operator messages.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
