package storagepg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meetcast/core/internal/models"
)

// StartStageTiming inserts a new StageTiming row in IN_PROGRESS. Unlike
// ProcessingStage (one row per stage, overwritten on every retry),
// stage_timings keeps one row per (recording, stage, substep, attempt), the
// per-attempt history spec.md's Timing Recorder component is for.
func (r *Repository) StartStageTiming(ctx context.Context, rid string, stageType models.StageType, substep string, attempt int) (*models.StageTiming, error) {
	id := newULID()
	now := r.clock.GetTime()
	_, err := r.db.ExecContext(ctx, `
		insert into stage_timings(id, recording_id, stage_type, substep, attempt, started_at, status)
		values ($1,$2,$3,$4,$5,$6,$7)`,
		id, rid, stageType, substep, attempt, now, models.StageInProgress)
	if err != nil {
		return nil, fmt.Errorf("storagepg: starting stage timing: %w", err)
	}
	return &models.StageTiming{
		ID: id, RecordingID: rid, StageType: stageType, Substep: substep,
		Attempt: attempt, StartedAt: now, Status: models.StageInProgress,
	}, nil
}

// CompleteStageTiming closes a timing row with a terminal status,
// computing duration_ms from the row's own started_at rather than trusting
// a caller-supplied start time.
func (r *Repository) CompleteStageTiming(ctx context.Context, timingID string, finalStatus models.StageStatus, errMsg string, meta map[string]interface{}) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storagepg: marshaling stage timing meta: %w", err)
	}
	now := r.clock.GetTime()
	_, err = r.db.ExecContext(ctx, `
		update stage_timings
		   set status=$1, error=$2, meta=$3, completed_at=$4,
		       duration_ms=extract(epoch from ($4::timestamptz - started_at)) * 1000
		 where id=$5`,
		finalStatus, errMsg, metaJSON, now, timingID)
	if err != nil {
		return fmt.Errorf("storagepg: completing stage timing: %w", err)
	}
	return nil
}
