// Package status implements the recording status aggregator (spec.md §4.5):
// a pure function over (delete state, stages, destinations, expiry, now)
// that never touches the repository or the clock directly, so it can be
// tested as a table of inputs -> expected output (spec.md §8 property 1).
package status

import (
	"time"

	"github.com/meetcast/core/internal/models"
)

// Input is everything the aggregator needs to compute the next status. It
// never mutates its arguments.
type Input struct {
	CurrentStatus  models.RecordingStatus
	Deleted        bool
	DeletionReason string
	ExpireAt       *time.Time
	Stages         []models.ProcessingStage
	Targets        []models.OutputTarget
	Now            time.Time
}

// Compute returns the recomputed aggregate status for in. It is a pure
// function: same input always yields the same output, regardless of how
// many times or in what order it is invoked (spec.md §8 property 1).
func Compute(in Input) models.RecordingStatus {
	if in.Deleted && in.DeletionReason == "expired" {
		return models.StatusExpired
	}
	if in.ExpireAt != nil && !in.ExpireAt.After(in.Now) {
		return models.StatusExpired
	}
	switch in.CurrentStatus {
	case models.StatusSkipped, models.StatusPendingSource:
		return in.CurrentStatus
	}

	for _, s := range in.Stages {
		if s.Status == models.StageInProgress {
			return models.StatusProcessing
		}
	}

	switch in.CurrentStatus {
	case models.StatusInitialized, models.StatusDownloading, models.StatusDownloaded:
		return in.CurrentStatus
	}

	if len(in.Stages) > 0 {
		active := make([]models.ProcessingStage, 0, len(in.Stages))
		for _, s := range in.Stages {
			if s.Status != models.StageSkipped {
				active = append(active, s)
			}
		}
		if len(active) > 0 {
			allCompleted := true
			for _, s := range active {
				if s.Status != models.StageCompleted {
					allCompleted = false
					break
				}
			}
			if allCompleted {
				return destinationStatus(in.Targets)
			}
			// some active stage is PENDING or FAILED: nothing further to
			// derive here, fall through to the "nothing to do" case below
			// only if every stage is PENDING/SKIPPED.
		}

		allPendingOrSkipped := true
		for _, s := range in.Stages {
			if s.Status != models.StagePending && s.Status != models.StageSkipped {
				allPendingOrSkipped = false
				break
			}
		}
		if allPendingOrSkipped {
			return models.StatusProcessed
		}

		return in.CurrentStatus
	}

	return destinationStatus(in.Targets)
}

func destinationStatus(targets []models.OutputTarget) models.RecordingStatus {
	if len(targets) == 0 {
		return models.StatusProcessed
	}
	anyUploading := false
	allUploaded := true
	for _, t := range targets {
		if t.Status == models.TargetUploading {
			anyUploading = true
		}
		if t.Status != models.TargetUploaded {
			allUploaded = false
		}
	}
	if anyUploading {
		return models.StatusUploading
	}
	if allUploaded {
		return models.StatusReady
	}
	return models.StatusProcessed
}

// ---- Admission predicates (pure, derived from the same facts) ----

func notActionable(s models.RecordingStatus) bool {
	return s == models.StatusSkipped || s == models.StatusPendingSource || s == models.StatusExpired
}

// ShouldAllowDownload reports whether the download step may run.
func ShouldAllowDownload(s models.RecordingStatus) bool {
	return s == models.StatusInitialized
}

// ShouldAllowRun reports whether processing may start (post-download).
func ShouldAllowRun(s models.RecordingStatus) bool {
	if notActionable(s) {
		return false
	}
	return s == models.StatusDownloaded || s == models.StatusProcessing || s == models.StatusProcessed
}

// ShouldAllowTranscription reports whether the transcribe step may run.
func ShouldAllowTranscription(s models.RecordingStatus) bool {
	if notActionable(s) {
		return false
	}
	return s != models.StatusInitialized && s != models.StatusDownloading
}

// ShouldAllowUpload reports whether an upload to targetType may start: the
// recording must not be in a non-actionable status, every non-SKIPPED
// stage must be COMPLETED, and the target itself must not already be
// UPLOADED or UPLOADING (Invariant 6).
func ShouldAllowUpload(s models.RecordingStatus, stages []models.ProcessingStage, targets []models.OutputTarget, targetType models.TargetType) bool {
	if notActionable(s) {
		return false
	}
	for _, st := range stages {
		if st.Status != models.StageSkipped && st.Status != models.StageCompleted {
			return false
		}
	}
	for _, t := range targets {
		if t.TargetType == targetType && (t.Status == models.TargetUploaded || t.Status == models.TargetUploading) {
			return false
		}
	}
	return true
}
