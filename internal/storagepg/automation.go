package storagepg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/meetcast/core/internal/models"
)

// ListActiveAutomationJobs returns every IsActive=true automation job
// across all tenants; the scheduler evaluates all of them each tick and
// filters by next_run_at itself (spec.md §4.12).
func (r *Repository) ListActiveAutomationJobs(ctx context.Context) ([]*models.AutomationJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, template_ids, schedule, timezone, sync_days, filters,
		       processing_config, is_active, next_run_at, last_run_at, run_count
		  from automation_jobs where is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying automation jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.AutomationJob
	for rows.Next() {
		j, err := scanAutomationJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAutomationJob(row rowScanner) (*models.AutomationJob, error) {
	var j models.AutomationJob
	var filters, processingCfg []byte
	if err := row.Scan(&j.ID, &j.UserID, pq.Array(&j.TemplateIDs), &j.Schedule, &j.Timezone, &j.SyncDays,
		&filters, &processingCfg, &j.IsActive, &j.NextRunAt, &j.LastRunAt, &j.RunCount); err != nil {
		return nil, fmt.Errorf("storagepg: scanning automation job: %w", err)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &j.Filters); err != nil {
			return nil, err
		}
	}
	if len(processingCfg) > 0 {
		if err := json.Unmarshal(processingCfg, &j.ProcessingConfig); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

// UpdateAutomationJobRun stamps last_run_at, bumps run_count, and writes
// the newly computed next_run_at (spec.md §4.12 step 6).
func (r *Repository) UpdateAutomationJobRun(ctx context.Context, jobID string, nextRunAt time.Time) error {
	now := r.clock.GetTime()
	_, err := r.db.ExecContext(ctx, `
		update automation_jobs
		   set last_run_at=$1, run_count=run_count+1, next_run_at=$2
		 where id=$3`, now, nextRunAt, jobID)
	if err != nil {
		return fmt.Errorf("storagepg: updating automation job run: %w", err)
	}
	return nil
}

// ListRecordingsForAutomation returns userID's recordings matching the
// given statuses, synced within [since, now], for AutomationJob step 4.
func (r *Repository) ListRecordingsForAutomation(ctx context.Context, userID string, statuses []models.RecordingStatus, since time.Time, excludeBlank bool) ([]*models.Recording, error) {
	query := `select id from recordings
	           where user_id = $1 and status = any($2) and start_time >= $3 and deleted = false`
	args := []interface{}{userID, pqStatusArray(statuses), since}
	if excludeBlank {
		query += ` and blank_record = false`
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying automation candidates: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	return r.GetByIDs(ctx, userID, ids)
}

// SetRecordingTemplate binds template_id/is_mapped for a matched recording
// (spec.md §4.12 step 5 / §4.4).
func (r *Repository) SetRecordingTemplate(ctx context.Context, rid, templateID string) error {
	_, err := r.db.ExecContext(ctx, `update recordings set template_id=$1, is_mapped=true where id=$2`, templateID, rid)
	if err != nil {
		return fmt.Errorf("storagepg: binding recording template: %w", err)
	}
	return nil
}

// MarkRecordingSkipped writes status=SKIPPED with a reason, for
// unmatched automation candidates (spec.md §4.12 step 5).
func (r *Repository) MarkRecordingSkipped(ctx context.Context, rid, reason string) error {
	_, err := r.db.ExecContext(ctx, `update recordings set status=$1, failed_reason=$2 where id=$3`,
		models.StatusSkipped, reason, rid)
	if err != nil {
		return fmt.Errorf("storagepg: marking recording skipped: %w", err)
	}
	return nil
}
