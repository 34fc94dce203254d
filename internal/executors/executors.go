// Package executors implements the six step executors of spec.md §4.9.
// Each executor takes config already resolved by its caller, does the work
// through internal/artifacts and internal/providers, persists stage
// transitions and timings, and returns a small result. Only the download
// and upload executors check admission via internal/status's helpers;
// trim, transcribe, extract_topics and generate_subtitles run without an
// admission check. None of them enqueue anything --
// that's internal/pipeline's job.
package executors

import (
	"context"
	"io"
	"time"

	"github.com/meetcast/core/internal/models"
)

// Repository is the narrow slice of internal/storagepg.Repository every
// executor needs, kept as an interface so executors are testable against a
// fake rather than sqlmock (matching internal/failure's own pattern).
type Repository interface {
	GetByID(ctx context.Context, userID, rid string) (*models.Recording, error)
	MarkStageInProgress(ctx context.Context, rid string, stageType models.StageType) error
	MarkStageCompleted(ctx context.Context, rid string, stageType models.StageType, stageMeta map[string]interface{}) error
	SetDownloadResult(ctx context.Context, rid, localVideoPath string) error
	SetTrimResult(ctx context.Context, rid, processedVideoPath, processedAudioPath string) error
	SetTranscriptionDir(ctx context.Context, rid, dir string) error
	SetTopics(ctx context.Context, rid string, mainTopics []string, withTimestamps []models.TopicTimestamp) error
	GetOrCreateOutputTarget(ctx context.Context, rid string, targetType models.TargetType, presetID *string) (*models.OutputTarget, error)
	MarkOutputUploading(ctx context.Context, rid, targetID string) error
	MarkOutputFailed(ctx context.Context, rid, targetID, reason string) error
	SaveUploadResult(ctx context.Context, rid, targetID, externalVideoID, externalVideoURL string, resultMeta map[string]interface{}) error

	StartStageTiming(ctx context.Context, rid string, stageType models.StageType, substep string, attempt int) (*models.StageTiming, error)
	CompleteStageTiming(ctx context.Context, timingID string, finalStatus models.StageStatus, errMsg string, meta map[string]interface{}) error
}

// ArtifactStore is the narrow slice of internal/artifacts.Store executors
// need to resolve canonical paths and move bytes through them.
type ArtifactStore interface {
	RecordingVideo(slug int64, recordingID, ext string) string
	RecordingAudio(slug int64, recordingID, ext string) string
	TranscriptionDir(slug int64, recordingID string) string
	TempDir() string
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
}

// Clock indirection matches the rest of the module's TimestampGenerator
// convention, letting executors be tested without a wall-clock dependency.
type Clock interface {
	GetTime() time.Time
}
