package database

import (
	"context"
	"database/sql"
	"fmt"

	"dayroll/internal/models"
)

func (db *DB) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `INSERT INTO sync_runs (direction, provider, started_at, finished_at, ok, days_ok, days_failed, error)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		run.Direction,
		run.Provider,
		run.StartedAt,
		run.FinishedAt,
		run.OK,
		run.DaysOK,
		run.DaysFailed,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// ListSyncRuns returns the most recent runs first.
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, direction, provider, started_at, finished_at, ok, days_ok, days_failed, error
              FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.SyncRun, 0, limit)
	for rows.Next() {
		var r models.SyncRun
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Direction, &r.Provider, &r.StartedAt, &r.FinishedAt, &r.OK, &r.DaysOK, &r.DaysFailed, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		if errMsg.Valid {
			msg := errMsg.String
			r.Error = &msg
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
