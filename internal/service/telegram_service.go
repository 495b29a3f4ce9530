package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dayroll/internal/domain"
	"dayroll/internal/events"
	"dayroll/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramService delivers digests and alerts to one chat.
type TelegramService struct {
	bot    domain.TelegramSender
	chatID int64
	logger *zerolog.Logger
}

func NewTelegramService(bot domain.TelegramSender, chatID int64, logger *zerolog.Logger) *TelegramService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramService{bot: bot, chatID: chatID, logger: logger}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func (s *TelegramService) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// HandleSyncCompleted alerts the chat about failed sync runs.
func (s *TelegramService) HandleSyncCompleted(e events.Event) error {
	done, ok := e.Data.(events.SyncCompleted)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", e.Type, e.Data)
	}
	if done.OK {
		return nil
	}
	text := fmt.Sprintf("Sync (%s) failed: %d day(s) written, %d failed.\n%s",
		done.Direction, done.DaysOK, done.DaysFailed, done.Error)
	return s.Notify(context.Background(), text)
}

// LogNotifier writes notifications to the log when no chat is configured.
type LogNotifier struct {
	Logger *zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, text string) error {
	if n.Logger == nil {
		return errors.New("log notifier without logger")
	}
	n.Logger.Info().Str("notification", text).Msg("notify")
	return nil
}

// FormatAttentionDigest renders the tasks that need attention on day. It
// returns "" when there is nothing to report.
func FormatAttentionDigest(day models.Day, tasks []models.Task) string {
	if len(tasks) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d task(s) need attention\n", day, len(tasks))
	for _, t := range tasks {
		marker := "-"
		if t.Priority == models.PriorityUrgent || t.Priority == models.PriorityCritical {
			marker = "!"
		}
		fmt.Fprintf(&b, "%s %s [%s]", marker, t.Title, t.Priority)
		if t.RolloverCount > 0 {
			fmt.Fprintf(&b, " rolled over %dx since %s", t.RolloverCount, t.OriginalDate)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
