package status

import (
	"testing"
	"time"

	"github.com/meetcast/core/internal/models"
	"github.com/stretchr/testify/assert"
)

func stage(t models.StageType, s models.StageStatus) models.ProcessingStage {
	return models.ProcessingStage{StageType: t, Status: s}
}

func target(t models.TargetType, s models.TargetStatus) models.OutputTarget {
	return models.OutputTarget{TargetType: t, Status: s}
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		in   Input
		want models.RecordingStatus
	}{
		{
			name: "expired by deletion reason wins over everything",
			in: Input{
				CurrentStatus:  models.StatusProcessing,
				Deleted:        true,
				DeletionReason: "expired",
				Now:            now,
			},
			want: models.StatusExpired,
		},
		{
			name: "expire_at in the past forces EXPIRED",
			in: Input{
				CurrentStatus: models.StatusProcessed,
				ExpireAt:      &past,
				Now:           now,
			},
			want: models.StatusExpired,
		},
		{
			name: "expire_at in the future does not force EXPIRED",
			in: Input{
				CurrentStatus: models.StatusProcessed,
				ExpireAt:      &future,
				Now:           now,
			},
			want: models.StatusProcessed,
		},
		{
			name: "SKIPPED is sticky",
			in:   Input{CurrentStatus: models.StatusSkipped, Now: now},
			want: models.StatusSkipped,
		},
		{
			name: "PENDING_SOURCE is sticky",
			in:   Input{CurrentStatus: models.StatusPendingSource, Now: now},
			want: models.StatusPendingSource,
		},
		{
			name: "any stage IN_PROGRESS forces PROCESSING",
			in: Input{
				CurrentStatus: models.StatusDownloaded,
				Stages:        []models.ProcessingStage{stage(models.StageTrim, models.StageInProgress)},
				Now:           now,
			},
			want: models.StatusProcessing,
		},
		{
			name: "INITIALIZED/DOWNLOADING/DOWNLOADED pass through untouched",
			in:   Input{CurrentStatus: models.StatusDownloading, Now: now},
			want: models.StatusDownloading,
		},
		{
			name: "all non-skipped stages completed, no targets -> PROCESSED",
			in: Input{
				CurrentStatus: models.StatusProcessing,
				Stages: []models.ProcessingStage{
					stage(models.StageTrim, models.StageCompleted),
					stage(models.StageTranscribe, models.StageSkipped),
				},
				Now: now,
			},
			want: models.StatusProcessed,
		},
		{
			name: "all stages completed, one target uploading -> UPLOADING",
			in: Input{
				CurrentStatus: models.StatusProcessing,
				Stages:        []models.ProcessingStage{stage(models.StageTrim, models.StageCompleted)},
				Targets: []models.OutputTarget{
					target("youtube", models.TargetUploading),
					target("drive", models.TargetNotUploaded),
				},
				Now: now,
			},
			want: models.StatusUploading,
		},
		{
			name: "all stages completed, all targets uploaded -> READY",
			in: Input{
				CurrentStatus: models.StatusProcessing,
				Stages:        []models.ProcessingStage{stage(models.StageTrim, models.StageCompleted)},
				Targets: []models.OutputTarget{
					target("youtube", models.TargetUploaded),
				},
				Now: now,
			},
			want: models.StatusReady,
		},
		{
			name: "a stage failed, others pending -> current status preserved",
			in: Input{
				CurrentStatus: models.StatusProcessing,
				Stages: []models.ProcessingStage{
					stage(models.StageTrim, models.StageFailed),
					stage(models.StageTranscribe, models.StagePending),
				},
				Now: now,
			},
			want: models.StatusProcessing,
		},
		{
			name: "all stages still pending/skipped -> PROCESSED (nothing to derive yet collapses forward)",
			in: Input{
				CurrentStatus: models.StatusProcessing,
				Stages: []models.ProcessingStage{
					stage(models.StageTrim, models.StagePending),
				},
				Now: now,
			},
			want: models.StatusProcessed,
		},
		{
			name: "no stages, all targets uploaded -> READY",
			in: Input{
				CurrentStatus: models.StatusProcessed,
				Targets:       []models.OutputTarget{target("youtube", models.TargetUploaded)},
				Now:           now,
			},
			want: models.StatusReady,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Compute(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeIsIdempotentAcrossRepeatedApplication(t *testing.T) {
	now := time.Now()
	in := Input{
		CurrentStatus: models.StatusProcessing,
		Stages:        []models.ProcessingStage{stage(models.StageTrim, models.StageCompleted)},
		Targets:       []models.OutputTarget{target("youtube", models.TargetUploaded)},
		Now:           now,
	}
	first := Compute(in)
	in.CurrentStatus = first
	second := Compute(in)
	assert.Equal(t, first, second)
}

func TestAdmissionPredicates(t *testing.T) {
	assert.True(t, ShouldAllowDownload(models.StatusInitialized))
	assert.False(t, ShouldAllowDownload(models.StatusDownloaded))

	assert.True(t, ShouldAllowRun(models.StatusDownloaded))
	assert.False(t, ShouldAllowRun(models.StatusSkipped))
	assert.False(t, ShouldAllowRun(models.StatusInitialized))

	assert.True(t, ShouldAllowTranscription(models.StatusDownloaded))
	assert.False(t, ShouldAllowTranscription(models.StatusInitialized))
	assert.False(t, ShouldAllowTranscription(models.StatusPendingSource))

	stages := []models.ProcessingStage{stage(models.StageTrim, models.StageCompleted)}
	targets := []models.OutputTarget{target("youtube", models.TargetNotUploaded)}
	assert.True(t, ShouldAllowUpload(models.StatusProcessed, stages, targets, "youtube"))

	uploadedTargets := []models.OutputTarget{target("youtube", models.TargetUploaded)}
	assert.False(t, ShouldAllowUpload(models.StatusProcessed, stages, uploadedTargets, "youtube"))

	incompleteStages := []models.ProcessingStage{stage(models.StageTrim, models.StagePending)}
	assert.False(t, ShouldAllowUpload(models.StatusProcessing, incompleteStages, targets, "youtube"))
}
