package bot

import (
	"fmt"
	"strings"
	"time"

	"dayroll/internal/models"
)

func formatCard(card models.TaskCard) string {
	if len(card.Tasks) == 0 {
		return fmt.Sprintf("📅 %s: no tasks", card.Date)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 %s\n", card.Date)
	for _, t := range card.Tasks {
		box := "☐"
		if t.Completed {
			box = "☑"
		}
		fmt.Fprintf(&sb, "%s %s  [%s, %s] #%s", box, t.Title, t.Priority, t.WorkType, shortID(t.ID))
		if t.RolloverCount > 0 {
			fmt.Fprintf(&sb, " ↻%d", t.RolloverCount)
		}
		sb.WriteByte('\n')
	}
	if card.Completed {
		sb.WriteString("🎉 All done")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatStatus(st models.SyncStatus) string {
	last := "never"
	if st.LastSyncTimestamp != nil {
		last = st.LastSyncTimestamp.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("State: %s\nLast sync: %s\nPending changes: %d", st.State(), last, st.PendingChangeCount)
}

func quadrantIcon(q models.Quadrant) string {
	switch q {
	case models.QuadrantDoFirst:
		return "🔥"
	case models.QuadrantSchedule:
		return "📌"
	case models.QuadrantDelegate:
		return "📤"
	default:
		return "🗑"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
