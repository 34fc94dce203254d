package executors

import (
	"context"
	"testing"
	"time"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePresetPrefersExplicit(t *testing.T) {
	explicit := "explicit-preset"
	got := ResolvePreset(&explicit, nil, models.TargetType("youtube"))
	require.NotNil(t, got)
	assert.Equal(t, "explicit-preset", *got)
}

func TestResolvePresetFallsBackToTemplate(t *testing.T) {
	tmpl := &models.RecordingTemplate{OutputConfig: map[string]interface{}{
		"preset_ids": map[string]interface{}{"youtube": "tmpl-preset"},
	}}
	got := ResolvePreset(nil, tmpl, models.TargetType("youtube"))
	require.NotNil(t, got)
	assert.Equal(t, "tmpl-preset", *got)
}

func TestResolvePresetNilWhenNothingMatches(t *testing.T) {
	got := ResolvePreset(nil, nil, models.TargetType("youtube"))
	assert.Nil(t, got)
}

func TestResolveMetadataLaterLayersWin(t *testing.T) {
	userDefaults := map[string]interface{}{"a": "user", "b": "user"}
	templateMeta := map[string]interface{}{"b": "template", "c": "template"}
	presetMeta := map[string]interface{}{"c": "preset", "d": "preset"}
	override := map[string]interface{}{"d": "override"}

	got := ResolveMetadata(userDefaults, templateMeta, presetMeta, override)
	assert.Equal(t, "user", got["a"])
	assert.Equal(t, "template", got["b"])
	assert.Equal(t, "preset", got["c"])
	assert.Equal(t, "override", got["d"])
}

func TestTopicsContextStyles(t *testing.T) {
	topics := []models.TopicTimestamp{{Topic: "intro", StartSec: 0}, {Topic: "wrap up", StartSec: 90}}
	assert.Equal(t, "1. intro\n2. wrap up", topicsContext(topics, "numbered", false))
	assert.Equal(t, "• intro\n• wrap up", topicsContext(topics, "bullet", false))
	assert.Equal(t, "intro, wrap up", topicsContext(topics, "unknown-style", false))
	assert.Equal(t, "intro (00:00), wrap up (01:30)", topicsContext(topics, "comma", true))
}

func newUploadRecording() *models.Recording {
	return &models.Recording{
		ID:          "rec-1",
		DisplayName: "Weekly Sync",
		StartTime:   time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		Stages: []models.ProcessingStage{
			{StageType: models.StageTrim, Status: models.StageCompleted},
		},
		TopicsWithTimestamps: []models.TopicTimestamp{{Topic: "intro", StartSec: 0}},
		ProcessedVideoPath:   "processed.mp4",
	}
}

func uploadMetadata() map[string]interface{} {
	return map[string]interface{}{
		"platform":            "youtube",
		"title_template":      "{{.DisplayName}} - {{.StartDate}}",
		"description_template": "Topics: {{.Topics}}",
	}
}

func TestUploadExecutorRejectsWhenNotAdmissible(t *testing.T) {
	rec := newUploadRecording()
	rec.Status = models.StatusExpired
	repo := newFakeRepo(rec)
	registry := providers.NewRegistry()
	e := &UploadExecutor{Repo: repo, Store: newFakeStore(), Registry: registry}

	_, err := e.Run(context.Background(), rec, uploadMetadata(), providers.Envelope{})
	require.Error(t, err)
	assert.True(t, apierrors.IsUnretriable(err))
}

func TestUploadExecutorRendersTemplatesAndSavesResult(t *testing.T) {
	rec := newUploadRecording()
	repo := newFakeRepo(rec)
	registry := providers.NewRegistry()
	uploader := &fakeUploader{result: providers.UploadResult{ExternalVideoID: "yt-1", ExternalVideoURL: "https://youtu.be/yt-1"}}
	registry.Register("youtube", uploader)
	e := &UploadExecutor{Repo: repo, Store: newFakeStore(), Registry: registry}

	result, err := e.Run(context.Background(), rec, uploadMetadata(), providers.Envelope{Platform: "youtube"})
	require.NoError(t, err)
	assert.Equal(t, "yt-1", result.ExternalVideoID)
	assert.Contains(t, repo.uploadingTargets, "target-youtube")
	require.NotNil(t, repo.savedResult)
	assert.Equal(t, "yt-1", repo.savedResult.ExternalVideoID)
}

func TestUploadExecutorShortCircuitsWhenAlreadyUploaded(t *testing.T) {
	rec := newUploadRecording()
	repo := newFakeRepo(rec)
	repo.targets["youtube"] = &models.OutputTarget{ID: "target-youtube", Status: models.TargetUploaded, ExternalVideoID: "already-there"}
	registry := providers.NewRegistry()
	e := &UploadExecutor{Repo: repo, Store: newFakeStore(), Registry: registry}

	result, err := e.Run(context.Background(), rec, uploadMetadata(), providers.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "already-there", result.ExternalVideoID)
	assert.Empty(t, repo.uploadingTargets)
}

func TestUploadExecutorMarksTargetFailedOnUploadError(t *testing.T) {
	rec := newUploadRecording()
	repo := newFakeRepo(rec)
	registry := providers.NewRegistry()
	uploader := &fakeUploader{err: &providers.UploadError{Tag: providers.FailureCredential, Err: assertError("bad token")}}
	registry.Register("youtube", uploader)
	e := &UploadExecutor{Repo: repo, Store: newFakeStore(), Registry: registry}

	_, err := e.Run(context.Background(), rec, uploadMetadata(), providers.Envelope{})
	require.Error(t, err)
	assert.Contains(t, repo.failedTargets, "target-youtube")
}
