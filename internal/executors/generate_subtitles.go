package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
)

// GenerateSubtitlesExecutor implements spec.md §4.9.5.
type GenerateSubtitlesExecutor struct {
	Repo      Repository
	Store     ArtifactStore
	Generator providers.SubtitleGenerator
}

func (e *GenerateSubtitlesExecutor) Run(ctx context.Context, slug int64, rec *models.Recording, formats []providers.SubtitleFormat) (_ map[providers.SubtitleFormat]string, err error) {
	if err = e.Repo.MarkStageInProgress(ctx, rec.ID, models.StageGenerateSubtitles); err != nil {
		return nil, err
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageGenerateSubtitles, "generate_subtitles", 1)
	if tErr != nil {
		return nil, tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, nil); cErr != nil {
			logging.LogNoScope("completing generate_subtitles timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	segmentsPath := filepath.Join(e.Store.TranscriptionDir(slug, rec.ID), "master.json")
	r, err := e.Store.Open(segmentsPath)
	if err != nil {
		return nil, fmt.Errorf("executors: opening cached transcript for %s: %w", rec.ID, err)
	}
	defer r.Close()

	var cached providers.TranscriptionResult
	if err := json.NewDecoder(r).Decode(&cached); err != nil {
		return nil, fmt.Errorf("executors: decoding cached transcript for %s: %w", rec.ID, err)
	}

	outDir := e.Store.TranscriptionDir(slug, rec.ID)
	paths, err := e.Generator.GenerateSubtitles(ctx, cached.Segments, outDir, formats)
	if err != nil {
		return nil, fmt.Errorf("executors: generating subtitles for %s: %w", rec.ID, err)
	}

	meta := make(map[string]interface{}, len(paths))
	for format, path := range paths {
		meta[string(format)] = path
	}
	if err := e.Repo.MarkStageCompleted(ctx, rec.ID, models.StageGenerateSubtitles, meta); err != nil {
		return nil, err
	}
	return paths, nil
}
