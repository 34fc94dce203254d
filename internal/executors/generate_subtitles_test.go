package executors

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSubtitlesExecutorWritesFormatsAndCompletesStage(t *testing.T) {
	rec := &models.Recording{ID: "rec-1"}
	repo := newFakeRepo(rec)
	store := newFakeStore()

	cached := providers.TranscriptionResult{
		Segments: []providers.TranscriptSegment{{Text: "hello", StartSec: 0, EndSec: 1}},
	}
	payload, err := json.Marshal(cached)
	require.NoError(t, err)
	store.put("transcripts/1/rec-1/master.json", payload)

	gen := &fakeSubtitleGenerator{paths: map[providers.SubtitleFormat]string{
		providers.SubtitleFileFormat: "transcripts/1/rec-1/out.srt",
		providers.WebSubtitleFormat:  "transcripts/1/rec-1/out.vtt",
	}}
	e := &GenerateSubtitlesExecutor{Repo: repo, Store: store, Generator: gen}

	paths, err := e.Run(context.Background(), 1, rec, []providers.SubtitleFormat{providers.SubtitleFileFormat, providers.WebSubtitleFormat})
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Contains(t, repo.stageCompleted, models.StageGenerateSubtitles)
}

func TestGenerateSubtitlesExecutorErrorsWhenNoCachedTranscript(t *testing.T) {
	rec := &models.Recording{ID: "rec-1"}
	repo := newFakeRepo(rec)
	store := newFakeStore()
	gen := &fakeSubtitleGenerator{}
	e := &GenerateSubtitlesExecutor{Repo: repo, Store: store, Generator: gen}

	_, err := e.Run(context.Background(), 1, rec, []providers.SubtitleFormat{providers.SubtitleFileFormat})
	require.Error(t, err)
}
