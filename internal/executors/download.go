package executors

import (
	"context"
	"fmt"
	"os"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
	"github.com/meetcast/core/internal/status"
)

// DownloadExecutor implements spec.md §4.9.1.
type DownloadExecutor struct {
	Repo       Repository
	Store      ArtifactStore
	Downloader providers.Downloader
}

// DownloadResult is the small result dict spec.md §4.9 prescribes.
type DownloadResult struct {
	LocalVideoPath string
	Skipped        bool
}

// Run downloads rec's source video to the canonical path. force bypasses
// the idempotence short-circuit from spec.md §4.9.1. accessToken is
// already-refreshed by the caller (internal/credentials owns refresh).
func (e *DownloadExecutor) Run(ctx context.Context, userID, slug int64, rec *models.Recording, accessToken string, force bool) (_ DownloadResult, err error) {
	if !force && !status.ShouldAllowDownload(rec.Status) {
		return DownloadResult{}, apierrors.NewAdmissionError("download", fmt.Sprintf("status %s does not permit download", rec.Status))
	}
	if rec.Source == nil || rec.Source.DownloadURL == "" {
		return DownloadResult{}, apierrors.Unretriable(fmt.Errorf("executors: recording %s has no download url", rec.ID))
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageDownload, "download", 1)
	if tErr != nil {
		return DownloadResult{}, tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, nil); cErr != nil {
			logging.LogNoScope("completing download timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	dst := e.Store.RecordingVideo(slug, rec.ID, ".mp4")
	if !force && rec.Status == models.StatusDownloaded && rec.LocalVideoPath == dst {
		if _, err := os.Stat(dst); err == nil {
			return DownloadResult{LocalVideoPath: dst, Skipped: true}, nil
		}
	}

	w, err := e.Store.Create(dst)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("executors: opening download destination: %w", err)
	}
	if err := e.Downloader.Download(ctx, rec.Source.DownloadURL, accessToken, w); err != nil {
		w.Close()
		return DownloadResult{}, fmt.Errorf("executors: downloading recording %s: %w", rec.ID, err)
	}
	if err := w.Close(); err != nil {
		return DownloadResult{}, fmt.Errorf("executors: finalizing download: %w", err)
	}

	if err := e.Repo.SetDownloadResult(ctx, rec.ID, dst); err != nil {
		return DownloadResult{}, err
	}
	logging.Log(logging.Scope(stringerID(rec.UserID), stringerID(rec.ID)), "download completed", "path", dst)
	return DownloadResult{LocalVideoPath: dst}, nil
}

type stringerID string

func (s stringerID) String() string { return string(s) }
