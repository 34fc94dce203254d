package executors

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
)

// ExtractTopicsExecutor implements spec.md §4.9.4's two-tier model
// fallback: try Primary, and only on failure fall back to Secondary.
type ExtractTopicsExecutor struct {
	Repo      Repository
	Store     ArtifactStore
	Primary   providers.TopicExtractor
	Secondary providers.TopicExtractor
}

func (e *ExtractTopicsExecutor) Run(ctx context.Context, slug int64, rec *models.Recording, granularity providers.TopicGranularity) (_ []providers.Topic, err error) {
	if err = e.Repo.MarkStageInProgress(ctx, rec.ID, models.StageExtractTopics); err != nil {
		return nil, err
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageExtractTopics, "extract_topics", 1)
	if tErr != nil {
		return nil, tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, nil); cErr != nil {
			logging.LogNoScope("completing extract_topics timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	segmentsPath := filepath.Join(e.Store.TranscriptionDir(slug, rec.ID), "segments.txt")
	r, err := e.Store.Open(segmentsPath)
	if err != nil {
		return nil, fmt.Errorf("executors: opening cached segments for %s: %w", rec.ID, err)
	}
	segments, err := readAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("executors: reading cached segments for %s: %w", rec.ID, err)
	}

	req := providers.TopicExtractionRequest{SegmentsText: segments, Granularity: granularity}
	topics, primaryErr := e.Primary.ExtractTopics(ctx, req)
	if primaryErr != nil {
		if e.Secondary == nil {
			return nil, fmt.Errorf("executors: primary topic extraction failed for %s: %w", rec.ID, primaryErr)
		}
		var secondaryErr error
		topics, secondaryErr = e.Secondary.ExtractTopics(ctx, req)
		if secondaryErr != nil {
			return nil, fmt.Errorf("executors: both topic extraction tiers failed for %s: primary=%v secondary=%w", rec.ID, primaryErr, secondaryErr)
		}
	}

	mainTopics := make([]string, len(topics))
	withTimestamps := make([]models.TopicTimestamp, len(topics))
	for i, t := range topics {
		mainTopics[i] = t.Name
		withTimestamps[i] = models.TopicTimestamp{Topic: t.Name, StartSec: t.StartSec, EndSec: t.EndSec}
	}

	if err := e.Repo.SetTopics(ctx, rec.ID, mainTopics, withTimestamps); err != nil {
		return nil, err
	}
	if err := e.Repo.MarkStageCompleted(ctx, rec.ID, models.StageExtractTopics, map[string]interface{}{
		"topic_count": len(topics),
		"granularity": granularity,
	}); err != nil {
		return nil, err
	}
	return topics, nil
}

func readAll(r io.Reader) (string, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
