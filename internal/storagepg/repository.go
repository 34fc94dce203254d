// Package storagepg implements the recording repository (spec.md §4.2)
// against Postgres via database/sql + lib/pq, raw SQL and no ORM, following
// the teacher's sendDBMetrics style in pipeline/coordinator.go.
package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/status"
)

// Repository is tenant-scoped: every operation takes the caller's user ID
// and never returns a row belonging to another tenant (Invariant 1/3).
type Repository struct {
	db    *sql.DB
	clock config.TimestampGenerator
}

func New(db *sql.DB, clock config.TimestampGenerator) *Repository {
	return &Repository{db: db, clock: clock}
}

func Open(pgURL string, clock config.TimestampGenerator) (*Repository, error) {
	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		return nil, fmt.Errorf("storagepg: opening postgres: %w", err)
	}
	return New(db, clock), nil
}

// ListFilters narrows list_by_user (spec.md §4.2).
type ListFilters struct {
	StatusIn       []models.RecordingStatus
	TemplateID     string
	InputSourceID  string
	IncludeDeleted bool
}

type Pagination struct {
	Limit  int
	Offset int
}

func notFound(id string) error { return apierrors.NewNotFoundError("recording", id) }

// GetByID eager-loads stages, targets (with preset id), source metadata and
// input source for one recording, scoped to userID.
func (r *Repository) GetByID(ctx context.Context, userID, rid string) (*models.Recording, error) {
	recs, err := r.GetByIDs(ctx, userID, []string{rid})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, notFound(rid)
	}
	return recs[0], nil
}

// GetByIDs batches the same eager-load across several recording IDs.
func (r *Repository) GetByIDs(ctx context.Context, userID string, rids []string) ([]*models.Recording, error) {
	if len(rids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, input_source_id, template_id, display_name, start_time,
		       duration_sec, size_bytes, status, is_mapped, blank_record, on_pause,
		       failed, failed_at_stage, failed_reason, failed_at,
		       local_video_path, processed_video_path, processed_audio_path, transcription_dir,
		       delete_state, deleted, deletion_reason, deleted_at, expire_at,
		       soft_deleted_at, hard_delete_at,
		       pipeline_started_at, pipeline_completed_at, pipeline_duration_sec,
		       main_topics, topics_with_timestamps, processing_preferences
		  from recordings
		 where user_id = $1 and id = any($2)`,
		userID, pqStringArray(rids))
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying recordings: %w", err)
	}
	defer rows.Close()

	var out []*models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range out {
		if rec.Stages, err = r.loadStages(ctx, rec.ID); err != nil {
			return nil, err
		}
		if rec.Targets, err = r.loadTargets(ctx, rec.ID); err != nil {
			return nil, err
		}
		if rec.Source, err = r.loadSource(ctx, rec.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row scanner) (*models.Recording, error) {
	var rec models.Recording
	var inputSourceID, templateID sql.NullString
	var mainTopics, topicsWithTS, procPrefs []byte
	err := row.Scan(
		&rec.ID, &rec.UserID, &inputSourceID, &templateID, &rec.DisplayName, &rec.StartTime,
		&rec.DurationSec, &rec.SizeBytes, &rec.Status, &rec.IsMapped, &rec.BlankRecord, &rec.OnPause,
		&rec.Failed, &rec.FailedAtStage, &rec.FailedReason, &rec.FailedAt,
		&rec.LocalVideoPath, &rec.ProcessedVideoPath, &rec.ProcessedAudioPath, &rec.TranscriptionDir,
		&rec.DeleteState, &rec.Deleted, &rec.DeletionReason, &rec.DeletedAt, &rec.ExpireAt,
		&rec.SoftDeletedAt, &rec.HardDeleteAt,
		&rec.PipelineStartedAt, &rec.PipelineCompletedAt, &rec.PipelineDurationSec,
		&mainTopics, &topicsWithTS, &procPrefs,
	)
	if err != nil {
		return nil, fmt.Errorf("storagepg: scanning recording: %w", err)
	}
	if inputSourceID.Valid {
		rec.InputSourceID = &inputSourceID.String
	}
	if templateID.Valid {
		rec.TemplateID = &templateID.String
	}
	if len(mainTopics) > 0 {
		if err := json.Unmarshal(mainTopics, &rec.MainTopics); err != nil {
			return nil, err
		}
	}
	if len(topicsWithTS) > 0 {
		if err := json.Unmarshal(topicsWithTS, &rec.TopicsWithTimestamps); err != nil {
			return nil, err
		}
	}
	if len(procPrefs) > 0 {
		if err := json.Unmarshal(procPrefs, &rec.ProcessingPreferences); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func (r *Repository) loadStages(ctx context.Context, rid string) ([]models.ProcessingStage, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, recording_id, stage_type, status, failed, failed_reason, skip_reason,
		       retry_count, max_retries, completed_at, stage_meta
		  from processing_stages where recording_id = $1 order by stage_type`, rid)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying stages: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessingStage
	for rows.Next() {
		var s models.ProcessingStage
		var meta []byte
		if err := rows.Scan(&s.ID, &s.RecordingID, &s.StageType, &s.Status, &s.Failed,
			&s.FailedReason, &s.SkipReason, &s.RetryCount, &s.MaxRetries, &s.CompletedAt, &meta); err != nil {
			return nil, fmt.Errorf("storagepg: scanning stage: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &s.StageMeta); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) loadTargets(ctx context.Context, rid string) ([]models.OutputTarget, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, recording_id, target_type, status, preset_id, uploaded_at,
		       failed_reason, external_video_id, external_video_url, result_meta
		  from output_targets where recording_id = $1 order by target_type`, rid)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying targets: %w", err)
	}
	defer rows.Close()

	var out []models.OutputTarget
	for rows.Next() {
		var t models.OutputTarget
		var presetID sql.NullString
		var meta []byte
		if err := rows.Scan(&t.ID, &t.RecordingID, &t.TargetType, &t.Status, &presetID, &t.UploadedAt,
			&t.FailedReason, &t.ExternalVideoID, &t.ExternalVideoURL, &meta); err != nil {
			return nil, fmt.Errorf("storagepg: scanning target: %w", err)
		}
		if presetID.Valid {
			t.PresetID = &presetID.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &t.ResultMeta); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) loadSource(ctx context.Context, rid string) (*models.SourceMetadata, error) {
	row := r.db.QueryRowContext(ctx, `
		select recording_id, download_url, download_token, token_fetched_at, passcode,
		       provider_file_size_bytes, provider_duration_sec, still_processing, raw
		  from source_metadata where recording_id = $1`, rid)
	var sm models.SourceMetadata
	var raw []byte
	err := row.Scan(&sm.RecordingID, &sm.DownloadURL, &sm.DownloadToken, &sm.TokenFetchedAt, &sm.Passcode,
		&sm.ProviderFileSizeBytes, &sm.ProviderDurationSec, &sm.StillProcessing, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storagepg: scanning source metadata: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sm.Raw); err != nil {
			return nil, err
		}
	}
	return &sm, nil
}

// ListByUser applies ListFilters + Pagination over one tenant's recordings.
func (r *Repository) ListByUser(ctx context.Context, userID string, f ListFilters, p Pagination) ([]*models.Recording, error) {
	query := `select id from recordings where user_id = $1`
	args := []interface{}{userID}

	if !f.IncludeDeleted {
		query += ` and deleted = false`
	}
	if len(f.StatusIn) > 0 {
		args = append(args, pqStatusArray(f.StatusIn))
		query += fmt.Sprintf(" and status = any($%d)", len(args))
	}
	if f.TemplateID != "" {
		args = append(args, f.TemplateID)
		query += fmt.Sprintf(" and template_id = $%d", len(args))
	}
	if f.InputSourceID != "" {
		args = append(args, f.InputSourceID)
		query += fmt.Sprintf(" and input_source_id = $%d", len(args))
	}
	query += " order by start_time desc"
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storagepg: listing recordings: %w", err)
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
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return r.GetByIDs(ctx, userID, ids)
}

// CreateOrUpdate upserts a recording keyed by (user, source_type, source_key,
// start_time) per spec.md §4.2. If the existing row is READY or deleted
// it is left untouched; if it is PENDING_SOURCE and the source now reports
// completion, status transitions to INITIALIZED (mapped) or SKIPPED.
func (r *Repository) CreateOrUpdate(ctx context.Context, userID string, src *models.InputSource, sourceKey string, startTime time.Time, mapped, sourceComplete, blank bool, fields map[string]interface{}) (*models.Recording, error) {
	now := r.clock.GetTime()

	var existingID, existingStatus string
	var existingDeleted bool
	err := r.db.QueryRowContext(ctx, `
		select id, status, deleted from recordings
		 where user_id = $1 and input_source_id = $2 and source_key = $3 and start_time = $4`,
		userID, src.ID, sourceKey, startTime).Scan(&existingID, &existingStatus, &existingDeleted)

	switch {
	case err == sql.ErrNoRows:
		id := newULID()
		initial := models.StatusPendingSource
		if sourceComplete {
			if mapped && !blank {
				initial = models.StatusInitialized
			} else {
				initial = models.StatusSkipped
			}
		}
		_, err = r.db.ExecContext(ctx, `
			insert into recordings(id, user_id, input_source_id, source_key, display_name, start_time,
			                        status, is_mapped, blank_record, delete_state, created_at)
			values ($1,$2,$3,$4,$5,$6,$7,$8,$9,'active',$10)`,
			id, userID, src.ID, sourceKey, fields["display_name"], startTime, initial, mapped, blank, now)
		if err != nil {
			return nil, fmt.Errorf("storagepg: inserting recording: %w", err)
		}
		return r.GetByID(ctx, userID, id)

	case err != nil:
		return nil, fmt.Errorf("storagepg: looking up existing recording: %w", err)
	}

	if existingDeleted || models.RecordingStatus(existingStatus) == models.StatusReady {
		return r.GetByID(ctx, userID, existingID)
	}
	if models.RecordingStatus(existingStatus) == models.StatusPendingSource && sourceComplete {
		next := models.StatusSkipped
		if mapped && !blank {
			next = models.StatusInitialized
		}
		if _, err := r.db.ExecContext(ctx, `update recordings set status=$1 where id=$2`, next, existingID); err != nil {
			return nil, fmt.Errorf("storagepg: transitioning pending_source recording: %w", err)
		}
	}
	return r.GetByID(ctx, userID, existingID)
}

// SetRecordingStatus writes one of the base statuses directly (Invariant 4)
// -- used by internal/failure to roll a recording back after a step fails.
func (r *Repository) SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error {
	if !models.IsBaseStatus(s) {
		return fmt.Errorf("storagepg: %s is not a directly-writable base status", s)
	}
	_, err := r.db.ExecContext(ctx, `update recordings set status=$1 where id=$2`, s, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting recording status: %w", err)
	}
	return nil
}

// MarkRecordingFailed records step-failure metadata on the recording row
// itself (spec.md §4.6); it does not touch status, callers set that
// separately via SetRecordingStatus or recomputeStatus.
func (r *Repository) MarkRecordingFailed(ctx context.Context, rid, stage, reason string) error {
	reason = apierrors.Truncate(reason, config.MaxFailureReasonLen)
	now := r.clock.GetTime()
	_, err := r.db.ExecContext(ctx, `
		update recordings set failed=true, failed_at_stage=$1, failed_reason=$2, failed_at=$3 where id=$4`,
		stage, reason, now, rid)
	if err != nil {
		return fmt.Errorf("storagepg: marking recording failed: %w", err)
	}
	return nil
}

// MarkStageFailed sets one processing stage to FAILED with a truncated
// reason.
func (r *Repository) MarkStageFailed(ctx context.Context, rid string, stageType models.StageType, reason string) error {
	reason = apierrors.Truncate(reason, config.MaxFailureReasonLen)
	_, err := r.db.ExecContext(ctx, `
		update processing_stages set status='FAILED', failed=true, failed_reason=$1
		 where recording_id=$2 and stage_type=$3`, reason, rid, stageType)
	if err != nil {
		return fmt.Errorf("storagepg: marking stage failed: %w", err)
	}
	return nil
}

// MarkStageSkipped sets one processing stage to SKIPPED with skipReason,
// used both for ordinary skips and for the allow_errors cascade-skip path.
func (r *Repository) MarkStageSkipped(ctx context.Context, rid string, stageType models.StageType, skipReason string) error {
	_, err := r.db.ExecContext(ctx, `
		update processing_stages set status='SKIPPED', skip_reason=$1
		 where recording_id=$2 and stage_type=$3`, skipReason, rid, stageType)
	if err != nil {
		return fmt.Errorf("storagepg: marking stage skipped: %w", err)
	}
	return nil
}

// RecomputeStatus is the exported entry point internal/failure (and the
// pipeline join point) use to force a fresh aggregate-status write after a
// batch of stage/target mutations, matching spec.md §4.8's "the join point
// recomputes exactly once" resolution.
func (r *Repository) RecomputeStatus(ctx context.Context, rid string) error {
	return r.recomputeStatus(ctx, rid)
}

// JoinArrive records one member of a fan-out group (rid, groupKey) as
// having completed, and reports whether this call was the last of
// groupSize arrivals. It is the cross-process equivalent of an
// errgroup.Wait -- used when the group's members run as independent
// dispatcher tasks in different worker processes rather than goroutines in
// one process (spec.md §4.8's join-point resolution).
func (r *Repository) JoinArrive(ctx context.Context, rid, groupKey string, groupSize int) (isLast bool, err error) {
	var arrived int
	err = r.db.QueryRowContext(ctx, `
		insert into join_counters(recording_id, group_key, arrived)
		values ($1, $2, 1)
		on conflict (recording_id, group_key)
		do update set arrived = join_counters.arrived + 1
		returning arrived`,
		rid, groupKey).Scan(&arrived)
	if err != nil {
		return false, fmt.Errorf("storagepg: recording join arrival: %w", err)
	}
	return arrived >= groupSize, nil
}

// MarkStageInProgress flips one processing stage to IN_PROGRESS; executors
// call this before starting their work (spec.md §4.9's general contract).
func (r *Repository) MarkStageInProgress(ctx context.Context, rid string, stageType models.StageType) error {
	_, err := r.db.ExecContext(ctx, `
		update processing_stages set status='IN_PROGRESS' where recording_id=$1 and stage_type=$2`,
		rid, stageType)
	if err != nil {
		return fmt.Errorf("storagepg: marking stage in progress: %w", err)
	}
	return nil
}

// MarkStageCompleted flips one processing stage to COMPLETED, persisting
// stageMeta (e.g. generated subtitle paths) and the completion timestamp.
func (r *Repository) MarkStageCompleted(ctx context.Context, rid string, stageType models.StageType, stageMeta map[string]interface{}) error {
	meta, err := json.Marshal(stageMeta)
	if err != nil {
		return fmt.Errorf("storagepg: marshaling stage meta: %w", err)
	}
	now := r.clock.GetTime()
	_, err = r.db.ExecContext(ctx, `
		update processing_stages set status='COMPLETED', failed=false, stage_meta=$1, completed_at=$2
		 where recording_id=$3 and stage_type=$4`,
		meta, now, rid, stageType)
	if err != nil {
		return fmt.Errorf("storagepg: marking stage completed: %w", err)
	}
	return nil
}

// SetDownloadResult records a successful download (spec.md §4.9.1): the
// canonical local video path and status = DOWNLOADED.
func (r *Repository) SetDownloadResult(ctx context.Context, rid, localVideoPath string) error {
	_, err := r.db.ExecContext(ctx, `
		update recordings set local_video_path=$1, status=$2 where id=$3`,
		localVideoPath, models.StatusDownloaded, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting download result: %w", err)
	}
	return nil
}

// SetTrimResult persists the processed video/audio paths produced by the
// trim executor (spec.md §4.9.2); it does not touch status, the aggregator
// derives PROCESSING/PROCESSED from stage state.
func (r *Repository) SetTrimResult(ctx context.Context, rid, processedVideoPath, processedAudioPath string) error {
	_, err := r.db.ExecContext(ctx, `
		update recordings set processed_video_path=$1, processed_audio_path=$2 where id=$3`,
		processedVideoPath, processedAudioPath, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting trim result: %w", err)
	}
	return nil
}

// SetTranscriptionDir persists where the transcribe executor wrote
// master.json and its derived cache files (spec.md §4.9.3).
func (r *Repository) SetTranscriptionDir(ctx context.Context, rid, dir string) error {
	_, err := r.db.ExecContext(ctx, `update recordings set transcription_dir=$1 where id=$2`, dir, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting transcription dir: %w", err)
	}
	return nil
}

// SetTopics persists the active topics version's main topics and
// timestamps on the recording (spec.md §4.9.4); topic version history
// itself is out of this module's scope beyond the single active pointer.
func (r *Repository) SetTopics(ctx context.Context, rid string, mainTopics []string, withTimestamps []models.TopicTimestamp) error {
	tsJSON, err := json.Marshal(withTimestamps)
	if err != nil {
		return fmt.Errorf("storagepg: marshaling topic timestamps: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		update recordings set main_topics=$1, topics_with_timestamps=$2 where id=$3`,
		pqStringArray(mainTopics), tsJSON, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting topics: %w", err)
	}
	return nil
}

// SetPipelineStartedAt sets pipeline_started_at the first time a chain is
// submitted for this recording; repeated calls (e.g. after a worker
// restart) leave an already-set value untouched, matching the teacher's
// job.startTime being set once at NewJobInfo and never reset on retry.
func (r *Repository) SetPipelineStartedAt(ctx context.Context, rid string) error {
	now := r.clock.GetTime()
	_, err := r.db.ExecContext(ctx, `
		update recordings set pipeline_started_at=$1 where id=$2 and pipeline_started_at is null`,
		now, rid)
	if err != nil {
		return fmt.Errorf("storagepg: setting pipeline_started_at: %w", err)
	}
	return nil
}

// SoftDelete marks rec soft-deleted and schedules hard deletion according to
// the retention days in userConfig.
func (r *Repository) SoftDelete(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error {
	return r.scheduleSoftDelete(ctx, rec, "manual", softDeleteDays, hardDeleteDays)
}

// AutoExpire is SoftDelete with deletion_reason="expired" so the status
// aggregator reports EXPIRED rather than a soft-delete in progress.
func (r *Repository) AutoExpire(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error {
	return r.scheduleSoftDelete(ctx, rec, "expired", softDeleteDays, hardDeleteDays)
}

func (r *Repository) scheduleSoftDelete(ctx context.Context, rec *models.Recording, reason string, softDeleteDays, hardDeleteDays int) error {
	now := r.clock.GetTime()
	softAt := now.AddDate(0, 0, softDeleteDays)
	hardAt := now.AddDate(0, 0, softDeleteDays+hardDeleteDays)
	_, err := r.db.ExecContext(ctx, `
		update recordings
		   set delete_state='soft', deleted=true, deletion_reason=$1,
		       deleted_at=$2, soft_deleted_at=$3, hard_delete_at=$4
		 where id=$5 and user_id=$6`,
		reason, now, softAt, hardAt, rec.ID, rec.UserID)
	if err != nil {
		return fmt.Errorf("storagepg: scheduling soft delete: %w", err)
	}
	return nil
}

// Restore clears deletion fields and sets a fresh expire_at. Fails if the
// recording is not currently soft-deleted.
func (r *Repository) Restore(ctx context.Context, rec *models.Recording, autoExpireDays int) error {
	if rec.DeleteState != models.DeleteStateSoft {
		return apierrors.NewAdmissionError("restore", "delete_state is not soft")
	}
	now := r.clock.GetTime()
	expireAt := now.AddDate(0, 0, autoExpireDays)
	_, err := r.db.ExecContext(ctx, `
		update recordings
		   set delete_state='active', deleted=false, deletion_reason='',
		       deleted_at=null, soft_deleted_at=null, hard_delete_at=null, expire_at=$1
		 where id=$2 and user_id=$3 and delete_state='soft'`,
		expireAt, rec.ID, rec.UserID)
	if err != nil {
		return fmt.Errorf("storagepg: restoring recording: %w", err)
	}
	return nil
}

// CleanupRecordingFiles re-reads delete_state to guard against a race with a
// concurrent restore, then nulls out large media paths and marks the
// recording hard-deleted. Returns bytes freed (caller supplies sizes since
// the repository does not itself touch the filesystem).
func (r *Repository) CleanupRecordingFiles(ctx context.Context, rid, userID string, freedBytes int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storagepg: beginning cleanup tx: %w", err)
	}
	defer tx.Rollback()

	var deleteState string
	if err := tx.QueryRowContext(ctx, `select delete_state from recordings where id=$1 and user_id=$2 for update`, rid, userID).Scan(&deleteState); err != nil {
		return 0, fmt.Errorf("storagepg: reading delete_state: %w", err)
	}
	if deleteState != string(models.DeleteStateSoft) {
		return 0, apierrors.RaceError{Op: "cleanup_recording_files"}
	}
	if _, err := tx.ExecContext(ctx, `
		update recordings
		   set local_video_path='', processed_video_path='', processed_audio_path='',
		       delete_state='hard'
		 where id=$1 and user_id=$2`, rid, userID); err != nil {
		return 0, fmt.Errorf("storagepg: clearing media paths: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storagepg: committing cleanup: %w", err)
	}
	return freedBytes, nil
}

// Delete performs cleanup_recording_files if not already hard-deleted, then
// removes the transcription directory path (caller's responsibility to
// actually unlink it via internal/artifacts) and the row itself.
func (r *Repository) Delete(ctx context.Context, rec *models.Recording, freedBytes int64) error {
	if rec.DeleteState != models.DeleteStateHard {
		if _, err := r.CleanupRecordingFiles(ctx, rec.ID, rec.UserID, freedBytes); err != nil {
			return err
		}
	}
	if _, err := r.db.ExecContext(ctx, `delete from recordings where id=$1 and user_id=$2`, rec.ID, rec.UserID); err != nil {
		return fmt.Errorf("storagepg: deleting recording row: %w", err)
	}
	return nil
}

// GetOrCreateOutputTarget returns the existing target for targetType or
// inserts a fresh NOT_UPLOADED row.
func (r *Repository) GetOrCreateOutputTarget(ctx context.Context, rid string, targetType models.TargetType, presetID *string) (*models.OutputTarget, error) {
	targets, err := r.loadTargets(ctx, rid)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		if targets[i].TargetType == targetType {
			return &targets[i], nil
		}
	}
	id := newULID()
	_, err = r.db.ExecContext(ctx, `
		insert into output_targets(id, recording_id, target_type, status, preset_id)
		values ($1,$2,$3,'NOT_UPLOADED',$4)`, id, rid, targetType, presetID)
	if err != nil {
		return nil, fmt.Errorf("storagepg: creating output target: %w", err)
	}
	return &models.OutputTarget{ID: id, RecordingID: rid, TargetType: targetType, Status: models.TargetNotUploaded, PresetID: presetID}, nil
}

// MarkOutputUploading, MarkOutputFailed and SaveUploadResult all recompute
// the aggregate status after writing, per spec.md §4.2.
func (r *Repository) MarkOutputUploading(ctx context.Context, rid, targetID string) error {
	if _, err := r.db.ExecContext(ctx, `update output_targets set status='UPLOADING' where id=$1`, targetID); err != nil {
		return fmt.Errorf("storagepg: marking target uploading: %w", err)
	}
	return r.recomputeStatus(ctx, rid)
}

func (r *Repository) MarkOutputFailed(ctx context.Context, rid, targetID, reason string) error {
	reason = apierrors.Truncate(reason, config.MaxFailureReasonLen)
	if _, err := r.db.ExecContext(ctx, `update output_targets set status='FAILED', failed_reason=$1 where id=$2`, reason, targetID); err != nil {
		return fmt.Errorf("storagepg: marking target failed: %w", err)
	}
	if err := r.recomputeStatus(ctx, rid); err != nil {
		return err
	}
	return r.maybeFailAllTargetsUpload(ctx, rid)
}

func (r *Repository) SaveUploadResult(ctx context.Context, rid, targetID, externalVideoID, externalVideoURL string, resultMeta map[string]interface{}) error {
	meta, err := json.Marshal(resultMeta)
	if err != nil {
		return fmt.Errorf("storagepg: marshaling result_meta: %w", err)
	}
	now := r.clock.GetTime()
	_, err = r.db.ExecContext(ctx, `
		update output_targets
		   set status='UPLOADED', uploaded_at=$1, external_video_id=$2, external_video_url=$3, result_meta=$4
		 where id=$5`, now, externalVideoID, externalVideoURL, meta, targetID)
	if err != nil {
		return fmt.Errorf("storagepg: saving upload result: %w", err)
	}
	return r.recomputeStatus(ctx, rid)
}

func (r *Repository) maybeFailAllTargetsUpload(ctx context.Context, rid string) error {
	targets, err := r.loadTargets(ctx, rid)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	for _, t := range targets {
		if t.Status != models.TargetFailed {
			return nil
		}
	}
	_, err = r.db.ExecContext(ctx, `
		update recordings set failed=true, failed_at_stage='upload', status='PROCESSED' where id=$1`, rid)
	if err != nil {
		return fmt.Errorf("storagepg: marking upload stage failed: %w", err)
	}
	return nil
}

// recomputeStatus re-reads the recording's stages/targets/delete-state and
// writes back status.Compute's result.
func (r *Repository) recomputeStatus(ctx context.Context, rid string) error {
	var userID string
	if err := r.db.QueryRowContext(ctx, `select user_id from recordings where id=$1`, rid).Scan(&userID); err != nil {
		return fmt.Errorf("storagepg: resolving recording owner: %w", err)
	}
	rec, err := r.GetByID(ctx, userID, rid)
	if err != nil {
		return err
	}
	next := status.Compute(status.Input{
		CurrentStatus:  rec.Status,
		Deleted:        rec.Deleted,
		DeletionReason: rec.DeletionReason,
		ExpireAt:       rec.ExpireAt,
		Stages:         rec.Stages,
		Targets:        rec.Targets,
		Now:            r.clock.GetTime(),
	})
	if next == rec.Status {
		return nil
	}
	_, err = r.db.ExecContext(ctx, `update recordings set status=$1 where id=$2`, next, rid)
	if err != nil {
		return fmt.Errorf("storagepg: writing recomputed status: %w", err)
	}
	return nil
}
