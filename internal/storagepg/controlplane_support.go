package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
)

// GetUserConfig reads the user_configs row backing configresolver.Layers's
// lowest-precedence layer (spec.md §4.3). A user with no row yet simply has
// an empty config, not an error.
func (r *Repository) GetUserConfig(ctx context.Context, userID string) (map[string]interface{}, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `select config from user_configs where user_id=$1`, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storagepg: reading user config: %w", err)
	}
	cfg := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// SaveUserConfig upserts the whole user_configs blob.
func (r *Repository) SaveUserConfig(ctx context.Context, userID string, cfg map[string]interface{}) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		insert into user_configs(user_id, config) values ($1, $2)
		on conflict (user_id) do update set config=excluded.config`, userID, raw)
	if err != nil {
		return fmt.Errorf("storagepg: saving user config: %w", err)
	}
	return nil
}

// Pause sets on_pause=true (recordings.pause, spec.md §6).
func (r *Repository) Pause(ctx context.Context, userID, rid string) error {
	return r.setOnPause(ctx, userID, rid, true)
}

// Resume clears on_pause (recordings.resume, spec.md §6).
func (r *Repository) Resume(ctx context.Context, userID, rid string) error {
	return r.setOnPause(ctx, userID, rid, false)
}

func (r *Repository) setOnPause(ctx context.Context, userID, rid string, onPause bool) error {
	res, err := r.db.ExecContext(ctx, `update recordings set on_pause=$1 where id=$2 and user_id=$3`, onPause, rid, userID)
	if err != nil {
		return fmt.Errorf("storagepg: setting on_pause: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(rid)
	}
	return nil
}

// GetAutomationJobByID scopes ListActiveAutomationJobs down to a single job,
// for automation.run(job_id)/automation.dry_run(job_id) (spec.md §6).
func (r *Repository) GetAutomationJobByID(ctx context.Context, userID, jobID string) (*models.AutomationJob, error) {
	row := r.db.QueryRowContext(ctx, `
		select id, user_id, template_ids, schedule, timezone, sync_days, filters,
		       processing_config, is_active, next_run_at, last_run_at, run_count
		  from automation_jobs where id=$1 and user_id=$2`, jobID, userID)
	j, err := scanAutomationJob(row)
	if err == sql.ErrNoRows {
		return nil, apierrors.NewNotFoundError("automation_job", jobID)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// ResetRecording clears failure bookkeeping (recordings.reset, spec.md §6).
// When clearArtifacts is set it also nulls the media paths so a subsequent
// run starts from a clean download rather than reusing stale files.
func (r *Repository) ResetRecording(ctx context.Context, userID, rid string, clearArtifacts bool) error {
	query := `update recordings set failed=false, failed_at_stage='', failed_reason='', failed_at=null`
	if clearArtifacts {
		query += `, local_video_path='', processed_video_path='', processed_audio_path='', transcription_dir=''`
	}
	query += ` where id=$1 and user_id=$2`
	res, err := r.db.ExecContext(ctx, query, rid, userID)
	if err != nil {
		return fmt.Errorf("storagepg: resetting recording: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(rid)
	}
	return nil
}

// ClearStageFailure resets a single stage's failed bookkeeping back to
// PENDING, the write side of spec.md §4.8's retry edge-case policy: "reset
// failed only when failed_at_stage equals its own stage."
func (r *Repository) ClearStageFailure(ctx context.Context, rid string, stageType models.StageType) error {
	_, err := r.db.ExecContext(ctx, `
		update processing_stages set status='PENDING', failed=false, failed_reason=''
		 where recording_id=$1 and stage_type=$2`, rid, stageType)
	if err != nil {
		return fmt.Errorf("storagepg: clearing stage failure: %w", err)
	}
	return nil
}

// CreateTemplate inserts a new recording_template, used by
// templates.from_recording (spec.md §6) to capture a matching rule and the
// source recording's processing/metadata/output config as a reusable
// template.
func (r *Repository) CreateTemplate(ctx context.Context, userID, name string, rules models.MatchingRules, processingCfg, metadataCfg, outputCfg map[string]interface{}) (*models.RecordingTemplate, error) {
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	processingJSON, err := json.Marshal(processingCfg)
	if err != nil {
		return nil, err
	}
	metadataJSON, err := json.Marshal(metadataCfg)
	if err != nil {
		return nil, err
	}
	outputJSON, err := json.Marshal(outputCfg)
	if err != nil {
		return nil, err
	}

	id := newULID()
	now := r.clock.GetTime()
	_, err = r.db.ExecContext(ctx, `
		insert into recording_templates(id, user_id, name, matching_rules, processing_config, metadata_config, output_config, is_draft, is_active, used_count, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, false, true, 0, $8)`,
		id, userID, name, rulesJSON, processingJSON, metadataJSON, outputJSON, now)
	if err != nil {
		return nil, fmt.Errorf("storagepg: creating template: %w", err)
	}
	return &models.RecordingTemplate{
		ID: id, UserID: userID, Name: name, MatchingRules: rules,
		ProcessingConfig: processingCfg, MetadataConfig: metadataCfg, OutputConfig: outputCfg,
		IsActive: true, CreatedAt: now,
	}, nil
}
