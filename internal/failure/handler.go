// Package failure implements the failure handler (spec.md §4.6):
// translates (recording, step, error, allow_errors) into the state
// mutations spec.md prescribes for each step kind.
package failure

import (
	"context"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
)

// Repository is the narrow slice of internal/storagepg.Repository the
// handler needs, kept as an interface so handler logic can be tested
// against a fake instead of sqlmock.
type Repository interface {
	SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error
	MarkRecordingFailed(ctx context.Context, rid, stage, reason string) error
	MarkStageFailed(ctx context.Context, rid string, stageType models.StageType, reason string) error
	MarkStageSkipped(ctx context.Context, rid string, stageType models.StageType, skipReason string) error
	RecomputeStatus(ctx context.Context, rid string) error
}

// Handler applies step failures to a recording's persisted state.
type Handler struct {
	repo Repository
}

func New(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// HandleDownloadFailure rolls status back to INITIALIZED if the recording
// is mapped, else SKIPPED, and records failed_at_stage="download".
func (h *Handler) HandleDownloadFailure(ctx context.Context, rec *models.Recording, err error) error {
	next := models.StatusSkipped
	if rec.IsMapped {
		next = models.StatusInitialized
	}
	if mErr := h.repo.MarkRecordingFailed(ctx, rec.ID, "download", err.Error()); mErr != nil {
		return mErr
	}
	return h.repo.SetRecordingStatus(ctx, rec.ID, next)
}

// HandleTrimFailure rolls status back to DOWNLOADED and marks the TRIM
// stage FAILED.
func (h *Handler) HandleTrimFailure(ctx context.Context, rec *models.Recording, err error) error {
	if mErr := h.repo.MarkStageFailed(ctx, rec.ID, models.StageTrim, err.Error()); mErr != nil {
		return mErr
	}
	if mErr := h.repo.MarkRecordingFailed(ctx, rec.ID, "trim", err.Error()); mErr != nil {
		return mErr
	}
	return h.repo.SetRecordingStatus(ctx, rec.ID, models.StatusDownloaded)
}

// cascadeTargets lists the stages that must be SKIPPED when stageType fails
// and allow_errors is true. Only TRANSCRIBE has dependents today.
var cascadeTargets = map[models.StageType][]models.StageType{
	models.StageTranscribe: {models.StageExtractTopics, models.StageGenerateSubtitles},
}

// HandleTranscriptionPipelineFailure covers TRANSCRIBE, EXTRACT_TOPICS and
// GENERATE_SUBTITLES failures, branching on allowErrors.
func (h *Handler) HandleTranscriptionPipelineFailure(ctx context.Context, rec *models.Recording, stageType models.StageType, err error, allowErrors bool) error {
	if !allowErrors {
		if mErr := h.repo.MarkStageFailed(ctx, rec.ID, stageType, err.Error()); mErr != nil {
			return mErr
		}
		if mErr := h.repo.MarkRecordingFailed(ctx, rec.ID, string(stageType), err.Error()); mErr != nil {
			return mErr
		}
		return h.repo.SetRecordingStatus(ctx, rec.ID, models.StatusDownloaded)
	}

	if mErr := h.repo.MarkStageSkipped(ctx, rec.ID, stageType, "error: "+err.Error()); mErr != nil {
		return mErr
	}
	for _, dep := range cascadeTargets[stageType] {
		if mErr := h.repo.MarkStageSkipped(ctx, rec.ID, dep, "cascade: "+string(stageType)+" skipped due to error"); mErr != nil {
			return mErr
		}
	}
	// failed=true stays set for visibility even though status is not rolled
	// back (spec.md §4.6): the recording keeps moving through the pipeline
	// but an operator can still see that a step degraded rather than ran.
	if mErr := h.repo.MarkRecordingFailed(ctx, rec.ID, string(stageType), err.Error()); mErr != nil {
		return mErr
	}
	return h.repo.RecomputeStatus(ctx, rec.ID)
}

// targetMarker is the narrow slice of storagepg's output-target mutators
// the upload-failure path needs, separated from Repository since it
// operates on a target ID rather than the recording directly.
type targetMarker interface {
	MarkOutputFailed(ctx context.Context, rid, targetID, reason string) error
}

// HandleUploadFailure marks the target FAILED; the repository's own
// MarkOutputFailed already recomputes the aggregate and flips the
// recording to failed/PROCESSED once every target has failed (spec.md
// §4.6, §4.2).
func HandleUploadFailure(ctx context.Context, repo targetMarker, rid, targetID string, err error) error {
	logging.LogNoScope("upload step failed", "recording_id", rid, "target_id", targetID, "err", err)
	return repo.MarkOutputFailed(ctx, rid, targetID, err.Error())
}
