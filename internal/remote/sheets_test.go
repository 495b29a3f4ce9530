package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"dayroll/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSheet serves the values endpoints used by SheetsProvider from memory.
type fakeSheet struct {
	mu     sync.Mutex
	values [][]interface{}
	status int
	// writeStatus fails only value updates.
	writeStatus int
	calls       []string
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)

	status := f.status
	if status == 0 && r.Method == http.MethodPut {
		status = f.writeStatus
	}
	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"fail"}}`, status)
		return
	}

	const base = "/v4/spreadsheets/sid/values/"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == base+"Tasks!A:L":
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: f.values})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":clear"):
		// Only tail ranges of the form Tasks!A<n>:L are cleared.
		var from int
		rng := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, base), ":clear")
		if _, err := fmt.Sscanf(rng, "Tasks!A%d:L", &from); err != nil || from < 1 {
			http.Error(w, "unexpected clear range "+rng, http.StatusBadRequest)
			return
		}
		if from-1 < len(f.values) {
			f.values = f.values[:from-1]
		}
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	case r.Method == http.MethodPut && r.URL.Path == base+"Tasks!A1":
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		for i, row := range vr.Values {
			if i < len(f.values) {
				f.values[i] = row
			} else {
				f.values = append(f.values, row)
			}
		}
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	default:
		http.NotFound(w, r)
	}
}

func setupSheetsProvider(t *testing.T) (*fakeSheet, *SheetsProvider) {
	t.Helper()
	ctx := context.Background()
	fake := &fakeSheet{}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return fake, NewSheetsProviderWithService(srv, "sid", 0)
}

func TestSheetsProvider_ReplaceAndRead(t *testing.T) {
	ctx := context.Background()
	fake, p := setupSheetsProvider(t)

	done := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	tasks := sampleTasks("2024-01-10", "write report", "call bank")
	tasks[1].Completed = true
	tasks[1].CompletedAt = &done
	tasks[1].RolloverCount = 2
	tasks[1].OriginalDate = "2024-01-08"

	require.NoError(t, p.ReplaceTasks(ctx, alice, tasks, "2024-01-10"))
	require.NoError(t, p.ReplaceTasks(ctx, models.Principal{ID: "bob"}, sampleTasks("2024-01-10", "bob task"), "2024-01-10"))

	require.Len(t, fake.values, 4)
	assert.Equal(t, "Principal", fake.values[0][0])

	got, err := p.GetTasksForDate(ctx, alice, "2024-01-10")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "write report", got[0].Title)
	assert.True(t, got[1].Completed)
	require.NotNil(t, got[1].CompletedAt)
	assert.True(t, done.Equal(*got[1].CompletedAt))
	assert.Equal(t, 2, got[1].RolloverCount)
	assert.Equal(t, models.Day("2024-01-08"), got[1].OriginalDate)

	days, err := p.ListDays(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []models.Day{"2024-01-10"}, days)
}

func TestSheetsProvider_EmptyReplaceKeepsOtherRows(t *testing.T) {
	ctx := context.Background()
	fake, p := setupSheetsProvider(t)

	require.NoError(t, p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-10", "a"), "2024-01-10"))
	require.NoError(t, p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-11", "b"), "2024-01-11"))
	require.NoError(t, p.ReplaceTasks(ctx, alice, nil, "2024-01-10"))

	require.Len(t, fake.values, 2)
	days, err := p.ListDays(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []models.Day{"2024-01-11"}, days)
}

func TestSheetsProvider_FailedWriteKeepsExistingRows(t *testing.T) {
	ctx := context.Background()
	fake, p := setupSheetsProvider(t)

	require.NoError(t, p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-10", "a", "b"), "2024-01-10"))

	fake.mu.Lock()
	fake.writeStatus = http.StatusInternalServerError
	fake.mu.Unlock()

	err := p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-11", "c"), "2024-01-11")
	require.Error(t, err)

	fake.mu.Lock()
	fake.writeStatus = 0
	fake.mu.Unlock()

	got, err := p.GetTasksForDate(ctx, alice, "2024-01-10")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Title)
	assert.Equal(t, "b", got[1].Title)
}

func TestSheetsProvider_ShrinkingWriteTrimsTail(t *testing.T) {
	ctx := context.Background()
	fake, p := setupSheetsProvider(t)

	require.NoError(t, p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-10", "a", "b", "c"), "2024-01-10"))
	require.NoError(t, p.ReplaceTasks(ctx, alice, sampleTasks("2024-01-10", "a"), "2024-01-10"))

	require.Len(t, fake.values, 2)
	got, err := p.GetTasksForDate(ctx, alice, "2024-01-10")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
}

func TestSheetsProvider_ErrorClassification(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status      int
		unavailable bool
	}{
		{status: http.StatusUnauthorized, unavailable: true},
		{status: http.StatusTooManyRequests, unavailable: true},
		{status: http.StatusServiceUnavailable, unavailable: true},
		{status: http.StatusBadRequest, unavailable: false},
		{status: http.StatusNotFound, unavailable: false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			fake, p := setupSheetsProvider(t)
			fake.status = tt.status

			_, err := p.ListDays(ctx, alice)
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, Retryable(err))
		})
	}
}

func TestDecodeRow_Errors(t *testing.T) {
	_, err := decodeRow([]interface{}{"alice", "not-a-day", "id"})
	assert.Error(t, err)

	_, err = decodeRow([]interface{}{"alice", "2024-01-10", ""})
	assert.Error(t, err)

	row, err := decodeRow([]interface{}{"alice", "2024-01-10", "id-1", "t"})
	require.NoError(t, err)
	assert.Equal(t, models.Day("2024-01-10"), row.task.OriginalDate)
}
