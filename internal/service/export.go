package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"dayroll/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Tasks"

var exportHeader = []string{
	"Date", "Title", "Description", "Work type", "Priority", "Completed",
	"Completed at", "Original date", "Rollovers", "Created at",
}

// WriteWorkbook renders every task whose current day is within [from, to]
// as an xlsx workbook, one row per task grouped by day.
func WriteWorkbook(w io.Writer, tasks []models.Task, from, to models.Day) error {
	rows := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.CurrentDate.Before(from) || t.CurrentDate.After(to) {
			continue
		}
		rows = append(rows, t)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CurrentDate != rows[j].CurrentDate {
			return rows[i].CurrentDate < rows[j].CurrentDate
		}
		ri, rj := rows[i].Priority.Rank(), rows[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(exportSheet, "A1", fmt.Sprintf("Tasks %s - %s", from, to))
	_ = f.MergeCell(exportSheet, "A1", "J1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(exportSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(exportSheet, cell, h)
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
	}

	doneStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})
	attentionStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FCE4D6"}, Pattern: 1},
	})

	for i, t := range rows {
		row := i + 3
		completedAt := ""
		if t.CompletedAt != nil {
			completedAt = t.CompletedAt.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			string(t.CurrentDate), t.Title, t.Description, string(t.WorkType), string(t.Priority),
			t.Completed, completedAt, string(t.OriginalDate), t.RolloverCount,
			t.CreatedAt.Format("2006-01-02 15:04"),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(exportSheet, start, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}

		end, _ := excelize.CoordinatesToCellName(len(values), row)
		switch {
		case t.Completed:
			_ = f.SetCellStyle(exportSheet, start, end, doneStyle)
		case t.NeedsAttention():
			_ = f.SetCellStyle(exportSheet, start, end, attentionStyle)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 12)
	_ = f.SetColWidth(exportSheet, "B", "C", 40)
	_ = f.SetColWidth(exportSheet, "D", "J", 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// ExportFileName names an export of [from, to].
func ExportFileName(from, to models.Day) string {
	return fmt.Sprintf("tasks_%s_to_%s.xlsx", from, to)
}

// Export writes the workbook for [from, to] into dir and returns its path.
func (s *TaskService) Export(ctx context.Context, dir string, from, to models.Day) (string, error) {
	from, to, err := s.exportRange(from, to)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}
	tasks, err := s.store.AllTasks(ctx)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, ExportFileName(from, to))
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("error creating file: %w", err)
	}
	if err := WriteWorkbook(file, tasks, from, to); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	s.logger.Info().Str("file_path", path).Str("from", string(from)).Str("to", string(to)).Msg("export created")
	return path, nil
}

// ExportTo streams the workbook for [from, to] into w.
func (s *TaskService) ExportTo(ctx context.Context, w io.Writer, from, to models.Day) error {
	from, to, err := s.exportRange(from, to)
	if err != nil {
		return err
	}
	tasks, err := s.store.AllTasks(ctx)
	if err != nil {
		return err
	}
	return WriteWorkbook(w, tasks, from, to)
}

func (s *TaskService) exportRange(from, to models.Day) (models.Day, models.Day, error) {
	today := s.store.Today()
	if to.IsZero() {
		to = today
	}
	if from.IsZero() {
		from = to.AddDays(-6)
	}
	if to.Before(from) {
		return "", "", fmt.Errorf("%w: export range %s..%s is reversed", ErrInvalidInput, from, to)
	}
	return from, to, nil
}
