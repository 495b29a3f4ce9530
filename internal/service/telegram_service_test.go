package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"dayroll/internal/events"
	"dayroll/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func (m *mockTelegramSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	args := m.Called(c)
	return args.Get(0).(*tgbotapi.APIResponse), args.Error(1)
}

func TestTelegramService(t *testing.T) {
	mockSender := new(mockTelegramSender)
	svc := NewTelegramService(mockSender, 123, nil)
	ctx := context.Background()

	t.Run("Notify", func(t *testing.T) {
		mockSender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && msg.Text == "hello" && msg.ChatID == 123
		})).Return(tgbotapi.Message{}, nil).Once()

		assert.NoError(t, svc.Notify(ctx, "hello"))
		mockSender.AssertExpectations(t)
	})

	t.Run("NotifyError", func(t *testing.T) {
		mockSender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("flood")).Once()
		assert.Error(t, svc.Notify(ctx, "hello"))
		mockSender.AssertExpectations(t)
	})

	t.Run("SyncFailureAlert", func(t *testing.T) {
		mockSender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && msg.ChatID == 123 && strings.Contains(msg.Text, "remote unavailable")
		})).Return(tgbotapi.Message{}, nil).Once()

		err := svc.HandleSyncCompleted(events.Event{Type: events.EventSyncCompleted, Data: events.SyncCompleted{
			Direction: models.SyncUpload, DaysFailed: 2, Error: "remote unavailable",
		}})
		assert.NoError(t, err)
		mockSender.AssertExpectations(t)
	})

	t.Run("SuccessfulSyncIsSilent", func(t *testing.T) {
		err := svc.HandleSyncCompleted(events.Event{Data: events.SyncCompleted{OK: true}})
		assert.NoError(t, err)
		mockSender.AssertNumberOfCalls(t, "Send", 3)
	})

	t.Run("WrongPayload", func(t *testing.T) {
		assert.Error(t, svc.HandleSyncCompleted(events.Event{Data: "nope"}))
	})
}

func TestLogNotifier(t *testing.T) {
	logger := zerolog.Nop()
	assert.NoError(t, LogNotifier{Logger: &logger}.Notify(context.Background(), "hi"))
	assert.Error(t, LogNotifier{}.Notify(context.Background(), "hi"))
}

func TestFormatAttentionDigest(t *testing.T) {
	assert.Empty(t, FormatAttentionDigest("2024-01-10", nil))

	text := FormatAttentionDigest("2024-01-10", []models.Task{
		{Title: "pay rent", Priority: models.PriorityUrgent},
		{Title: "clean garage", Priority: models.PriorityLow, RolloverCount: 4, OriginalDate: "2024-01-06"},
	})
	assert.Equal(t, "2024-01-10: 2 task(s) need attention\n"+
		"! pay rent [urgent]\n"+
		"- clean garage [low] rolled over 4x since 2024-01-06", text)
}
