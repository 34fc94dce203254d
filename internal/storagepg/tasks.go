package storagepg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
)

// CreateTaskRecord persists the caller-visible status row for a
// control-plane-initiated task (sources.sync, uploads.schedule), the
// backing store for tasks.status/tasks.cancel (spec.md §6, §4.7). The
// orchestrator's internal chain steps are not tracked individually here --
// their progress is visible through the recording's own status/stage
// fields, matching spec.md §4.8's "each step reads persisted recording
// state" design rather than a parallel task ledger.
func (r *Repository) CreateTaskRecord(ctx context.Context, taskID, userID, kind, recordingID string) error {
	now := r.clock.GetTime()
	_, err := r.db.ExecContext(ctx, `
		insert into tasks(id, user_id, kind, recording_id, status, created_at, updated_at)
		values ($1, $2, $3, $4, 'queued', $5, $5)`, taskID, userID, kind, recordingID, now)
	if err != nil {
		return fmt.Errorf("storagepg: creating task record: %w", err)
	}
	return nil
}

// UpdateTaskStatus transitions a task record (worker-reported progress).
func (r *Repository) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	_, err := r.db.ExecContext(ctx, `update tasks set status=$1, updated_at=$2 where id=$3`, status, r.clock.GetTime(), taskID)
	if err != nil {
		return fmt.Errorf("storagepg: updating task status: %w", err)
	}
	return nil
}

// GetTaskRecord fetches a task scoped to userID so tasks.status can verify
// caller identity against the stored metadata (spec.md §4.7).
func (r *Repository) GetTaskRecord(ctx context.Context, userID, taskID string) (*models.TaskRecord, error) {
	var t models.TaskRecord
	var recordingID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, kind, recording_id, status, created_at, updated_at
		  from tasks where id=$1 and user_id=$2`, taskID, userID).
		Scan(&t.ID, &t.UserID, &t.Kind, &recordingID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.NewNotFoundError("task", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("storagepg: reading task record: %w", err)
	}
	t.RecordingID = recordingID.String
	return &t, nil
}

// CancelTaskRecord marks a task cancelled if it has not already reached a
// terminal state; returns apierrors.AdmissionError if it has.
func (r *Repository) CancelTaskRecord(ctx context.Context, userID, taskID string) error {
	now := r.clock.GetTime()
	res, err := r.db.ExecContext(ctx, `
		update tasks set status='cancelled', updated_at=$1
		 where id=$2 and user_id=$3 and status not in ('succeeded', 'failed', 'cancelled')`,
		now, taskID, userID)
	if err != nil {
		return fmt.Errorf("storagepg: cancelling task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := r.GetTaskRecord(ctx, userID, taskID); err != nil {
			return err
		}
		return apierrors.NewAdmissionError("tasks.cancel", "task already in a terminal state")
	}
	return nil
}
