package executors

import (
	"context"
	"testing"

	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeTranscriptionPromptWithVocabulary(t *testing.T) {
	got := composeTranscriptionPrompt("base prompt", "Weekly Sync", []string{"Kubernetes", "OAuth"})
	assert.Equal(t, "base prompt Weekly Sync vocabulary: Kubernetes, OAuth", got)
}

func TestComposeTranscriptionPromptWithoutVocabulary(t *testing.T) {
	got := composeTranscriptionPrompt("base prompt", "Weekly Sync", nil)
	assert.Equal(t, "base prompt Weekly Sync", got)
}

func TestSelectTranscriptionInputPrefersProcessedAudio(t *testing.T) {
	rec := &models.Recording{ProcessedAudioPath: "a.wav", ProcessedVideoPath: "v.mp4", LocalVideoPath: "raw.mp4"}
	got, err := selectTranscriptionInput(rec)
	require.NoError(t, err)
	assert.Equal(t, "a.wav", got)
}

func TestSelectTranscriptionInputFallsBackToProcessedVideo(t *testing.T) {
	rec := &models.Recording{ProcessedVideoPath: "v.mp4", LocalVideoPath: "raw.mp4"}
	got, err := selectTranscriptionInput(rec)
	require.NoError(t, err)
	assert.Equal(t, "v.mp4", got)
}

func TestSelectTranscriptionInputFallsBackToRawVideo(t *testing.T) {
	rec := &models.Recording{LocalVideoPath: "raw.mp4"}
	got, err := selectTranscriptionInput(rec)
	require.NoError(t, err)
	assert.Equal(t, "raw.mp4", got)
}

func TestSelectTranscriptionInputErrorsWhenNothingAvailable(t *testing.T) {
	rec := &models.Recording{ID: "rec-1"}
	_, err := selectTranscriptionInput(rec)
	require.Error(t, err)
}

func TestTranscribeExecutorWritesArtifactsAndCompletesStage(t *testing.T) {
	rec := &models.Recording{ID: "rec-1", UserID: "user-1", DisplayName: "Weekly Sync", LocalVideoPath: "raw.mp4"}
	repo := newFakeRepo(rec)
	store := newFakeStore()
	transcriber := &fakeTranscriber{result: providers.TranscriptionResult{
		Language: "en",
		Model:    "whisper-large",
		Duration: 12.5,
		Segments: []providers.TranscriptSegment{{Text: "hello there"}, {Text: "general kenobi"}},
		Words:    []providers.TranscriptWord{{Word: "hello"}, {Word: "there"}},
	}}
	e := &TranscribeExecutor{Repo: repo, Store: store, Transcriber: transcriber}

	err := e.Run(context.Background(), 1, rec, configresolver.TranscriptionConfig{Language: "en"}, "transcribe this", 0.2)
	require.NoError(t, err)

	assert.Contains(t, repo.stageInProgress, models.StageTranscribe)
	assert.Contains(t, repo.stageCompleted, models.StageTranscribe)
	assert.Equal(t, "transcripts/1/rec-1", repo.transcriptionDir)

	r, err := store.Open("transcripts/1/rec-1/segments.txt")
	require.NoError(t, err)
	defer r.Close()
}

func TestTranscribeExecutorPropagatesTranscriberError(t *testing.T) {
	rec := &models.Recording{ID: "rec-1", LocalVideoPath: "raw.mp4"}
	repo := newFakeRepo(rec)
	transcriber := &fakeTranscriber{err: assertError("boom")}
	e := &TranscribeExecutor{Repo: repo, Store: newFakeStore(), Transcriber: transcriber}

	err := e.Run(context.Background(), 1, rec, configresolver.TranscriptionConfig{}, "", 0)
	require.Error(t, err)
	assert.NotContains(t, repo.stageCompleted, models.StageTranscribe)
}

type assertError string

func (e assertError) Error() string { return string(e) }
