package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dayroll/internal/metrics"
	"dayroll/internal/models"
	"dayroll/internal/service"
	"dayroll/internal/syncer"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Commands:
/today [YYYY-MM-DD] - show a card
/add title; another title - add tasks for today
/done <id> - toggle a task
/delete <id> - delete a task
/attention - tasks stuck at the rollover ceiling
/classify [YYYY-MM-DD] - rank a card
/sync [upload|download|bidirectional] - sync now
/status - sync status`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	metrics.IncBotCommand(command)

	var (
		text string
		err  error
	)
	switch command {
	case "start", "help":
		text = helpText
	case "today":
		text, err = b.handleToday(ctx, args)
	case "add":
		text, err = b.handleAdd(ctx, args)
	case "done":
		text, err = b.handleDone(ctx, args)
	case "delete":
		text, err = b.handleDelete(ctx, args)
	case "attention":
		text, err = b.handleAttention(ctx)
	case "classify":
		text, err = b.handleClassify(ctx, args)
	case "sync":
		text, err = b.handleSync(ctx, args)
	case "status":
		text = formatStatus(b.sync.GetSyncStatus())
	default:
		text = "Unknown command. " + helpText
	}

	if err != nil {
		if service.IsInvalidInput(err) {
			text = "⚠️ " + err.Error()
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Str("command", command).Msg("command failed")
			text = "⚠️ Something went wrong, try again later."
		}
	}
	b.reply(msg.Chat.ID, text)
}

func (b *Bot) handleToday(ctx context.Context, args string) (string, error) {
	day, err := b.tasks.ParseDay(args)
	if err != nil {
		return "", err
	}
	card, err := b.tasks.Card(ctx, day)
	if err != nil {
		return "", err
	}
	return formatCard(card), nil
}

func (b *Bot) handleAdd(ctx context.Context, args string) (string, error) {
	var drafts []models.TaskDraft
	for _, title := range strings.Split(args, ";") {
		if title = strings.TrimSpace(title); title != "" {
			drafts = append(drafts, models.TaskDraft{Title: title})
		}
	}
	if len(drafts) == 0 {
		return "Usage: /add title; another title", nil
	}
	created, err := b.tasks.Add(ctx, drafts, b.tasks.Today())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Added %d task(s) to %s", len(created), b.tasks.Today()), nil
}

func (b *Bot) handleDone(ctx context.Context, args string) (string, error) {
	id, err := b.resolveID(ctx, args)
	if err != nil || id == "" {
		return notFound(args), err
	}
	ok, err := b.tasks.Toggle(ctx, id)
	if err != nil || !ok {
		return notFound(args), err
	}
	task, _, err := b.tasks.Find(ctx, id)
	if err != nil {
		return "", err
	}
	if task.Completed {
		return "✅ Done: " + task.Title, nil
	}
	return "↩️ Reopened: " + task.Title, nil
}

func (b *Bot) handleDelete(ctx context.Context, args string) (string, error) {
	id, err := b.resolveID(ctx, args)
	if err != nil || id == "" {
		return notFound(args), err
	}
	ok, err := b.tasks.Delete(ctx, id)
	if err != nil || !ok {
		return notFound(args), err
	}
	return "🗑 Deleted " + shortID(id), nil
}

func (b *Bot) handleAttention(ctx context.Context) (string, error) {
	digest, err := b.tasks.AttentionDigest(ctx)
	if err != nil {
		return "", err
	}
	if digest == "" {
		return "Nothing needs attention.", nil
	}
	return digest, nil
}

func (b *Bot) handleClassify(ctx context.Context, args string) (string, error) {
	day, err := b.tasks.ParseDay(args)
	if err != nil {
		return "", err
	}
	card, classes, err := b.tasks.Classify(ctx, day)
	if err != nil {
		return "", err
	}
	if len(card.Tasks) == 0 {
		return fmt.Sprintf("No tasks on %s", card.Date), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s ranked:\n", card.Date)
	for i, t := range card.Tasks {
		fmt.Fprintf(&sb, "%s %s (%s)\n", quadrantIcon(classes[i].Quadrant), t.Title, classes[i].Quadrant)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (b *Bot) handleSync(ctx context.Context, args string) (string, error) {
	dir := models.SyncUpload
	if args != "" {
		dir = models.SyncDirection(args)
	}
	report, err := b.sync.Sync(ctx, dir)
	switch {
	case errors.Is(err, syncer.ErrInvalidDirection):
		return "Usage: /sync [upload|download|bidirectional]", nil
	case errors.Is(err, syncer.ErrSyncInProgress):
		return "⏳ A sync is already running.", nil
	case errors.Is(err, syncer.ErrLocalOnly):
		return "Local-only: no remote provider or identity configured.", nil
	case err != nil && report == nil:
		return "", err
	case err != nil:
		return fmt.Sprintf("⚠️ Sync %s: %d day(s) ok, %d failed", dir, report.DaysOK, report.DaysFailed), nil
	}
	return fmt.Sprintf("✅ Sync %s via %s: %d day(s)", dir, report.Provider, report.DaysOK), nil
}

// resolveID accepts a full id or a unique prefix of one of today's tasks.
func (b *Bot) resolveID(ctx context.Context, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", nil
	}
	if _, ok, err := b.tasks.Find(ctx, arg); err != nil || ok {
		return arg, err
	}
	card, err := b.tasks.Card(ctx, b.tasks.Today())
	if err != nil {
		return "", err
	}
	match := ""
	for _, t := range card.Tasks {
		if strings.HasPrefix(t.ID, arg) {
			if match != "" {
				return "", nil
			}
			match = t.ID
		}
	}
	return match, nil
}

func notFound(arg string) string {
	if strings.TrimSpace(arg) == "" {
		return "Give the task id shown by /today."
	}
	return fmt.Sprintf("No single task matches %q.", arg)
}
