package bot

import (
	"context"
	"time"

	"dayroll/internal/metrics"
	"dayroll/internal/models"
	"dayroll/internal/service"
	"dayroll/internal/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// API is the part of the Telegram client the bot needs.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

type SyncControl interface {
	GetSyncStatus() models.SyncStatus
	Sync(ctx context.Context, dir models.SyncDirection) (*syncer.Report, error)
}

// Bot answers task commands from a single owner chat.
type Bot struct {
	api    API
	chatID int64
	tasks  *service.TaskService
	sync   SyncControl
	logger *zerolog.Logger
}

func New(api API, chatID int64, tasks *service.TaskService, sync SyncControl, logger *zerolog.Logger) *Bot {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bot{api: api, chatID: chatID, tasks: tasks, sync: sync, logger: logger}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info().Int64("chat_id", b.chatID).Msg("bot listening for commands")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.api == nil {
		return
	}
	b.api.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer metrics.ObserveBotUpdate(start)

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		msg := update.Message
		if msg == nil || msg.Chat == nil {
			return
		}
		if msg.Chat.ID != b.chatID {
			l.Warn().Int64("chat_id", msg.Chat.ID).Msg("ignoring message from unknown chat")
			return
		}
		if !msg.IsCommand() {
			b.reply(msg.Chat.ID, "Send /help for the list of commands.")
			return
		}
		b.handleCommand(updateCtx, msg)
	})
}

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("recovered from panic in update handler")
		}
	}()
	handler()
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send reply")
	}
}
