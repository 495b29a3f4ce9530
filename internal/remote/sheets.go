package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"dayroll/internal/models"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetTasks   = "Tasks"
	sheetColumns = "A:L"
)

var sheetHeader = []interface{}{
	"Principal", "Date", "ID", "Title", "Description", "WorkType", "Priority",
	"Completed", "CompletedAt", "OriginalDate", "RolloverCount", "CreatedAt",
}

// SheetsProvider keeps every task of every principal as one row of a single
// sheet. A day replace rewrites the whole sheet, so writes are serialized.
type SheetsProvider struct {
	service       *sheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
	mu            sync.Mutex
}

// NewSheetsProvider authenticates with a service account credentials file.
func NewSheetsProvider(ctx context.Context, credentialsFile, spreadsheetID string, rps float64) (*SheetsProvider, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return NewSheetsProviderWithService(srv, spreadsheetID, rps), nil
}

// NewSheetsProviderWithService wraps an already configured client.
func NewSheetsProviderWithService(srv *sheets.Service, spreadsheetID string, rps float64) *SheetsProvider {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &SheetsProvider{
		service:       srv,
		spreadsheetID: spreadsheetID,
		limiter:       rate.NewLimiter(limit, 1),
	}
}

func (s *SheetsProvider) Name() string { return "sheets" }

func (s *SheetsProvider) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return Unavailable("sheets rate limit", err)
	}
	return nil
}

type sheetRow struct {
	principal string
	task      models.Task
}

func (s *SheetsProvider) readAll(ctx context.Context) ([]sheetRow, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheetTasks+"!"+sheetColumns).Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsError("sheets read", err)
	}

	rows := make([]sheetRow, 0, len(resp.Values))
	for i, values := range resp.Values {
		if i == 0 && len(values) > 0 && fmt.Sprint(values[0]) == sheetHeader[0] {
			continue
		}
		row, err := decodeRow(values)
		if err != nil {
			return nil, fmt.Errorf("sheets row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *SheetsProvider) ListDays(ctx context.Context, p models.Principal) ([]models.Day, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[models.Day]struct{})
	for _, r := range rows {
		if r.principal == p.ID {
			seen[r.task.CurrentDate] = struct{}{}
		}
	}
	days := make([]models.Day, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

func (s *SheetsProvider) GetTasksForDate(ctx context.Context, p models.Principal, day models.Day) ([]models.Task, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	rows, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	tasks := []models.Task{}
	for _, r := range rows {
		if r.principal == p.ID && r.task.CurrentDate == day {
			tasks = append(tasks, r.task)
		}
	}
	return tasks, nil
}

func (s *SheetsProvider) ReplaceTasks(ctx context.Context, p models.Principal, tasks []models.Task, day models.Day) error {
	if err := requirePrincipal(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.readAll(ctx)
	if err != nil {
		return err
	}

	values := make([][]interface{}, 0, len(rows)+len(tasks)+1)
	values = append(values, sheetHeader)
	for _, r := range rows {
		if r.principal == p.ID && r.task.CurrentDate == day {
			continue
		}
		values = append(values, encodeRow(r.principal, r.task))
	}
	for _, t := range tasks {
		t.CurrentDate = day
		values = append(values, encodeRow(p.ID, t))
	}

	// Rows are overwritten before the tail is trimmed; a failed write
	// leaves the previous copy intact.
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, sheetTasks+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classifySheetsError("sheets update", err)
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	tail := fmt.Sprintf("%s!A%d:L", sheetTasks, len(values)+1)
	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, tail, &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return classifySheetsError("sheets clear", err)
	}
	return nil
}

func encodeRow(principal string, t models.Task) []interface{} {
	completedAt := ""
	if t.CompletedAt != nil {
		completedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return []interface{}{
		principal,
		string(t.CurrentDate),
		t.ID,
		t.Title,
		t.Description,
		string(t.WorkType),
		string(t.Priority),
		strconv.FormatBool(t.Completed),
		completedAt,
		string(t.OriginalDate),
		strconv.Itoa(t.RolloverCount),
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func decodeRow(values []interface{}) (sheetRow, error) {
	cell := func(i int) string {
		if i < len(values) {
			return fmt.Sprint(values[i])
		}
		return ""
	}

	day, err := models.ParseDay(cell(1))
	if err != nil {
		return sheetRow{}, err
	}
	task := models.Task{
		ID:           cell(2),
		Title:        cell(3),
		Description:  cell(4),
		WorkType:     models.WorkType(cell(5)),
		Priority:     models.Priority(cell(6)),
		CurrentDate:  day,
		OriginalDate: models.Day(cell(9)),
	}
	if task.ID == "" {
		return sheetRow{}, errors.New("missing task id")
	}
	if task.OriginalDate == "" {
		task.OriginalDate = day
	}
	if v := cell(7); v != "" {
		if task.Completed, err = strconv.ParseBool(v); err != nil {
			return sheetRow{}, fmt.Errorf("completed: %w", err)
		}
	}
	if v := cell(8); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return sheetRow{}, fmt.Errorf("completed_at: %w", err)
		}
		task.CompletedAt = &at
	}
	if v := cell(10); v != "" {
		if task.RolloverCount, err = strconv.Atoi(v); err != nil {
			return sheetRow{}, fmt.Errorf("rollover_count: %w", err)
		}
	}
	if v := cell(11); v != "" {
		if task.CreatedAt, err = time.Parse(time.RFC3339, v); err != nil {
			return sheetRow{}, fmt.Errorf("created_at: %w", err)
		}
	}
	return sheetRow{principal: cell(0), task: task}, nil
}

// classifySheetsError marks auth, quota, server and network failures as
// unavailable. Request errors stay plain.
func classifySheetsError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized,
			apiErr.Code == http.StatusForbidden,
			apiErr.Code == http.StatusTooManyRequests,
			apiErr.Code >= 500:
			return Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
