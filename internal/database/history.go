package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sharemirror/internal/events"
	"sharemirror/internal/models"
)

const defaultRunsLimit = 50

func (db *DB) InsertRun(ctx context.Context, run *models.RunRecord) error {
	query := `
        INSERT INTO run_history (account_id, task_id, run_trigger, outcome, status, message, file_count, transferred, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	result, err := db.ExecContext(ctx, query,
		run.AccountID,
		run.TaskID,
		string(run.Trigger),
		string(run.Outcome),
		string(run.Status),
		run.Message,
		run.FileCount,
		run.Transferred,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

// ListRuns returns a task's most recent runs, newest first.
func (db *DB) ListRuns(ctx context.Context, accountID, taskID string, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	query := `
        SELECT id, account_id, task_id, run_trigger, outcome, status, message, file_count, transferred, started_at, finished_at
        FROM run_history
        WHERE account_id = ? AND task_id = ?
        ORDER BY started_at DESC, id DESC
        LIMIT ?
    `
	rows, err := db.QueryContext(ctx, query, accountID, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunRecord{}
	for rows.Next() {
		var (
			run                      models.RunRecord
			trigger, outcome, status string
			started, finished        time.Time
		)
		if err := rows.Scan(&run.ID, &run.AccountID, &run.TaskID, &trigger, &outcome, &status,
			&run.Message, &run.FileCount, &run.Transferred, &started, &finished); err != nil {
			return nil, err
		}
		run.Trigger = models.Trigger(trigger)
		run.Outcome = models.RunOutcome(outcome)
		run.Status = models.TaskStatus(status)
		run.StartedAt = started.Local()
		run.FinishedAt = finished.Local()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (db *DB) DeleteRuns(ctx context.Context, accountID, taskID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM run_history WHERE account_id = ? AND task_id = ?`, accountID, taskID)
	if err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

// RecordRunFinished is an event handler that appends the published run to the history.
func (db *DB) RecordRunFinished(event *events.Event) error {
	var run models.RunRecord
	if err := json.Unmarshal(event.Payload, &run); err != nil {
		return fmt.Errorf("decode run event: %w", err)
	}
	if err := db.InsertRun(context.Background(), &run); err != nil {
		db.logger.Error().Err(err).
			Str("account_id", run.AccountID).
			Str("task_id", run.TaskID).
			Msg("Failed to record run")
		return err
	}
	return nil
}

// RemoveTaskRuns is an event handler dropping the history of a deleted task.
func (db *DB) RemoveTaskRuns(event *events.Event) error {
	var ref events.TaskRef
	if err := json.Unmarshal(event.Payload, &ref); err != nil {
		return fmt.Errorf("decode task event: %w", err)
	}
	return db.DeleteRuns(context.Background(), ref.AccountID, ref.TaskID)
}
