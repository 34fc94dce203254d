package executors

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/ffmpegutil"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
)

// TrimExecutor implements spec.md §4.9.2. The actual ffmpeg invocations are
// delegated to internal/ffmpegutil.Trim; this executor only owns stage
// bookkeeping and path resolution.
type TrimExecutor struct {
	Repo  Repository
	Store ArtifactStore
}

type TrimResult struct {
	ReEncoded bool
}

func (e *TrimExecutor) Run(ctx context.Context, slug int64, rec *models.Recording, cfg configresolver.TrimmingConfig) (_ TrimResult, err error) {
	if err = e.Repo.MarkStageInProgress(ctx, rec.ID, models.StageTrim); err != nil {
		return TrimResult{}, err
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageTrim, "trim", 1)
	if tErr != nil {
		return TrimResult{}, tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, nil); cErr != nil {
			logging.LogNoScope("completing trim timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	processedVideo := e.Store.RecordingVideo(slug, rec.ID+"_trimmed", filepath.Ext(rec.LocalVideoPath))
	processedAudio := e.Store.RecordingAudio(slug, rec.ID, ".wav")
	tempAudio := filepath.Join(e.Store.TempDir(), rec.ID+"_full.wav")

	result, err := ffmpegutil.Trim(ctx, rec.LocalVideoPath, processedVideo, processedAudio, tempAudio, ffmpegutil.TrimParams{
		SilenceThresholdDBFS:  cfg.SilenceThresholdDBFS,
		MinSilenceDurationSec: cfg.MinSilenceDurationSec,
		PaddingBeforeSec:      cfg.PaddingBeforeSec,
		PaddingAfterSec:       cfg.PaddingAfterSec,
	})
	if err != nil {
		return TrimResult{}, fmt.Errorf("executors: trimming recording %s: %w", rec.ID, err)
	}

	finalVideo := rec.LocalVideoPath
	if result.ReEncoded {
		finalVideo = processedVideo
	}

	if err := e.Repo.SetTrimResult(ctx, rec.ID, finalVideo, processedAudio); err != nil {
		return TrimResult{}, err
	}
	if err := e.Repo.MarkStageCompleted(ctx, rec.ID, models.StageTrim, map[string]interface{}{
		"re_encoded": result.ReEncoded,
		"start_sec":  result.StartSec,
		"end_sec":    result.EndSec,
	}); err != nil {
		return TrimResult{}, err
	}

	return TrimResult{ReEncoded: result.ReEncoded}, nil
}
