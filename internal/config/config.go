// Package config holds process-wide, read-only-after-init settings.
//
// Mirrors the teacher's config package: a handful of package-level vars set
// once at startup (from flags/env) and read everywhere else, plus a Clock
// indirection so tests can pin "now".
package config

import "time"

// Version is set at build time via -ldflags.
var Version = "dev"

// Clock lets tests generate fixed timestamps instead of time.Now().
var Clock TimestampGenerator = RealTimestampGenerator{}

// ArtifactRoot is the filesystem root under which per-user artifact trees
// are rooted when the local backend is used (internal/artifacts).
var ArtifactRoot = "/var/lib/meetcast/artifacts"

// Default per-queue retry ceilings (internal/queue), overridable per AutomationJob/template is
// not applicable here -- these are process-wide floors matching spec.md §4.7.
const (
	MinDownloadRetries = 3
	MinUploadRetries   = 3

	TokenRefreshBuffer = 60 * time.Second

	DefaultSoftDeleteDays = 3
	DefaultHardDeleteDays = 30
	DefaultAutoExpireDays = 90

	MaxFailureReasonLen = 1000

	// BlankRecordMinDurationSecs / BlankRecordMinSizeBytes are fallback
	// thresholds used when a user config does not override them.
	BlankRecordMinDurationSecs = 120
	BlankRecordMinSizeBytes    = 10 * 1024 * 1024

	// TranscriptionBasePrompt / TranscriptionTemperature are the
	// process-wide transcription request defaults; per-recording
	// vocabulary/language still come from the resolved config.
	TranscriptionBasePrompt      = "This is a recording of a meeting or presentation."
	TranscriptionTemperature     = 0.0
)
