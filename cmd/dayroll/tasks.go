package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"dayroll/internal/models"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add [title...]",
	Short: "Add tasks to a day's card",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAdd,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show a day's card (rolls open tasks forward)",
	RunE:  runList,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle [task-id]",
	Short: "Flip a task between open and done",
	Args:  cobra.ExactArgs(1),
	RunE:  runToggle,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var attentionCmd = &cobra.Command{
	Use:   "attention",
	Short: "List open tasks stuck at the rollover ceiling",
	RunE:  runAttention,
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Rank a day's card on the Eisenhower matrix",
	RunE:  runClassify,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a date range to an xlsx file",
	RunE:  runExport,
}

var (
	taskDate     string
	taskDesc     string
	taskPriority string
	taskWorkType string
	exportFrom   string
	exportTo     string
	exportDir    string
)

func init() {
	for _, c := range []*cobra.Command{addCmd, listCmd, classifyCmd} {
		c.Flags().StringVar(&taskDate, "date", "", "Day as YYYY-MM-DD (default today)")
	}
	addCmd.Flags().StringVar(&taskDesc, "desc", "", "Description for every added task")
	addCmd.Flags().StringVar(&taskPriority, "priority", "", "critical, urgent, high, medium or low")
	addCmd.Flags().StringVar(&taskWorkType, "work-type", "", "deep or light")

	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First day (default a week ago)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last day (default today)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Output directory (default exports.path)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		day, err := a.tasks.ParseDay(taskDate)
		if err != nil {
			return err
		}
		drafts := make([]models.TaskDraft, 0, len(args))
		for _, title := range args {
			drafts = append(drafts, models.TaskDraft{
				Title:       title,
				Description: taskDesc,
				Priority:    models.Priority(taskPriority),
				WorkType:    models.WorkType(taskWorkType),
			})
		}
		created, err := a.tasks.Add(cmd.Context(), drafts, day)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), created)
		}
		for _, t := range created {
			fmt.Fprintf(cmd.OutOrStdout(), "Created task %s on %s: %s\n", t.ID, t.CurrentDate, t.Title)
		}
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		day, err := a.tasks.ParseDay(taskDate)
		if err != nil {
			return err
		}
		card, err := a.tasks.Card(cmd.Context(), day)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), card)
		}
		if len(card.Tasks) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No tasks on %s\n", card.Date)
			return nil
		}
		printTasks(cmd.OutOrStdout(), card.Tasks)
		if card.Completed {
			fmt.Fprintln(cmd.OutOrStdout(), "All done.")
		}
		return nil
	})
}

func runToggle(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ok, err := a.tasks.Toggle(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s not found", args[0])
		}
		task, _, err := a.tasks.Find(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		state := "open"
		if task.Completed {
			state = "done"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s is %s\n", task.ID, state)
		return nil
	})
}

func runDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ok, err := a.tasks.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
		return nil
	})
}

func runAttention(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		tasks, err := a.tasks.Attention(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing needs attention")
			return nil
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	})
}

func runClassify(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		day, err := a.tasks.ParseDay(taskDate)
		if err != nil {
			return err
		}
		card, classes, err := a.tasks.Classify(cmd.Context(), day)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"card": card, "classifications": classes})
		}
		if len(card.Tasks) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No tasks on %s\n", card.Date)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tQUADRANT\tURGENCY\tIMPORTANCE")
		for i, t := range card.Tasks {
			c := classes[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", truncateID(t.ID), truncate(t.Title, 40), c.Quadrant, c.Urgency, c.Importance)
		}
		return w.Flush()
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		var from, to models.Day
		var err error
		if exportFrom != "" {
			if from, err = a.tasks.ParseDay(exportFrom); err != nil {
				return err
			}
		}
		if exportTo != "" {
			if to, err = a.tasks.ParseDay(exportTo); err != nil {
				return err
			}
		}
		dir := exportDir
		if dir == "" {
			dir = a.cfg.Exports.Path
		}
		path, err := a.tasks.Export(cmd.Context(), dir, from, to)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
		return nil
	})
}

func printTasks(out io.Writer, tasks []models.Task) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDONE\tTITLE\tPRIORITY\tTYPE\tDAY\tROLLED")
	for _, t := range tasks {
		done := " "
		if t.Completed {
			done = "x"
		}
		fmt.Fprintf(w, "%s\t[%s]\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(t.ID), done, truncate(t.Title, 40), t.Priority, t.WorkType, t.CurrentDate, t.RolloverCount)
	}
	w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// truncateID keeps the first block of a uuid, enough to tell tasks apart on screen.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
