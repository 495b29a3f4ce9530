package bot

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"dayroll/internal/events"
	"dayroll/internal/models"
	"dayroll/internal/repository"
	"dayroll/internal/service"
	"dayroll/internal/store"
	"dayroll/internal/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerChat int64 = 42

type mockTelegram struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []string
	stopped bool
}

func (m *mockTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (m *mockTelegram) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockTelegram) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

type stubSync struct {
	status models.SyncStatus
	err    error
	dirs   []models.SyncDirection
}

func (s *stubSync) GetSyncStatus() models.SyncStatus { return s.status }

func (s *stubSync) Sync(_ context.Context, dir models.SyncDirection) (*syncer.Report, error) {
	if !dir.Valid() {
		return nil, syncer.ErrInvalidDirection
	}
	s.dirs = append(s.dirs, dir)
	if s.err != nil {
		return nil, s.err
	}
	return &syncer.Report{Direction: dir, Provider: "memory", DaysOK: 1}, nil
}

func newTestBot(t *testing.T) (*Bot, *mockTelegram, *stubSync, *service.TaskService) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	now := func() time.Time { return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC) }
	st, err := store.New(context.Background(), repository.NewMemoryKVStore(), events.NewEventBus(&logger), &logger,
		store.WithClock(now), store.WithLocation(time.UTC))
	require.NoError(t, err)

	tasks := service.NewTaskService(st, &logger)
	tg := &mockTelegram{updates: make(chan tgbotapi.Update, 4)}
	sy := &stubSync{status: models.SyncStatus{RemoteAvailable: true, PendingChangeCount: 3}}
	return New(tg, ownerChat, tasks, sy, &logger), tg, sy, tasks
}

func commandUpdate(chatID int64, text string) tgbotapi.Update {
	length := len(text)
	if i := strings.IndexByte(text, ' '); i > 0 {
		length = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID},
		From:     &tgbotapi.User{ID: chatID},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func send(b *Bot, text string) {
	b.processUpdate(context.Background(), commandUpdate(ownerChat, text))
}

func TestBotStart(t *testing.T) {
	b, tg, _, _ := newTestBot(t)

	tg.updates <- commandUpdate(ownerChat, "/help")
	close(tg.updates)

	done := make(chan struct{})
	go func() {
		b.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bot did not stop after the updates channel closed")
	}
	assert.Contains(t, tg.last(), "/today")

	b.Stop()
	assert.True(t, tg.stopped)
}

func TestBot_AddTodayDone(t *testing.T) {
	b, tg, _, tasks := newTestBot(t)

	send(b, "/add write report; call bank")
	assert.Equal(t, "✅ Added 2 task(s) to 2024-01-10", tg.last())

	send(b, "/today")
	assert.Contains(t, tg.last(), "☐ write report")
	assert.Contains(t, tg.last(), "☐ call bank")

	card, err := tasks.Card(context.Background(), "2024-01-10")
	require.NoError(t, err)
	id := card.Tasks[0].ID

	send(b, "/done "+id[:8])
	assert.Equal(t, "✅ Done: write report", tg.last())
	send(b, "/done "+id)
	assert.Equal(t, "↩️ Reopened: write report", tg.last())

	send(b, "/delete "+card.Tasks[1].ID)
	assert.Contains(t, tg.last(), "Deleted")
	send(b, "/delete nope")
	assert.Equal(t, `No single task matches "nope".`, tg.last())
}

func TestBot_InvalidInput(t *testing.T) {
	b, tg, _, _ := newTestBot(t)

	send(b, "/today 10.01.2024")
	assert.True(t, strings.HasPrefix(tg.last(), "⚠️ "))

	send(b, "/add")
	assert.Contains(t, tg.last(), "Usage")

	send(b, "/done")
	assert.Contains(t, tg.last(), "task id")
}

func TestBot_SyncAndStatus(t *testing.T) {
	b, tg, sy, _ := newTestBot(t)

	send(b, "/sync")
	assert.Equal(t, "✅ Sync upload via memory: 1 day(s)", tg.last())
	send(b, "/sync download")
	assert.Equal(t, []models.SyncDirection{models.SyncUpload, models.SyncDownload}, sy.dirs)

	send(b, "/sync sideways")
	assert.Contains(t, tg.last(), "Usage")

	sy.err = syncer.ErrLocalOnly
	send(b, "/sync")
	assert.Contains(t, tg.last(), "Local-only")

	send(b, "/status")
	assert.Contains(t, tg.last(), "State: idle")
	assert.Contains(t, tg.last(), "Pending changes: 3")
}

func TestBot_ClassifyAndAttention(t *testing.T) {
	b, tg, _, _ := newTestBot(t)

	send(b, "/attention")
	assert.Equal(t, "Nothing needs attention.", tg.last())

	send(b, "/add urgent deadline today")
	send(b, "/classify")
	assert.Contains(t, tg.last(), "2024-01-10 ranked:")
	assert.Contains(t, tg.last(), "urgent deadline today")
}

func TestBot_IgnoresOtherChats(t *testing.T) {
	b, tg, _, _ := newTestBot(t)

	b.processUpdate(context.Background(), commandUpdate(7, "/today"))
	assert.Empty(t, tg.sent)

	b.processUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: ownerChat}}})
	assert.Contains(t, tg.last(), "/help")
}

func TestFormatCard(t *testing.T) {
	card := models.TaskCard{Date: "2024-01-12", Completed: true, Tasks: []models.Task{{
		ID: "0123456789abcdef", Title: "ship", Priority: models.PriorityHigh, WorkType: models.WorkDeep,
		Completed: true, RolloverCount: 2,
	}}}
	out := formatCard(card)
	assert.Contains(t, out, "☑ ship  [high, deep] #01234567 ↻2")
	assert.Contains(t, out, "All done")
	assert.Equal(t, "📅 2024-01-13: no tasks", formatCard(models.TaskCard{Date: "2024-01-13"}))
}
