// Package providers defines the adapter interfaces the step executors
// (internal/executors) call through. Every external system this module
// talks to -- the meeting provider, the transcription backend, the topic
// extraction backend, and the per-platform upload targets -- is explicitly
// out of scope for this module's own implementation, so these are kept as
// thin, swappable interfaces rather than hand-rolled protocol clients.
package providers

import (
	"context"
	"io"
	"time"
)

// Downloader streams a recording's source URL to dst using the access
// token it is given; it does not refresh that token itself.
type Downloader interface {
	Download(ctx context.Context, sourceURL, accessToken string, dst io.WriteCloser) error
}

// TranscriptionResult mirrors the master.json shape from spec.md §4.9.3.
type TranscriptionResult struct {
	Language string
	Model    string
	Duration float64
	Words    []TranscriptWord
	Segments []TranscriptSegment
	Usage    map[string]interface{}
}

type TranscriptWord struct {
	Word      string
	StartSec  float64
	EndSec    float64
}

type TranscriptSegment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

// TranscriptionRequest carries the inputs spec.md §4.9.3 says compose the
// prompt: base_prompt (from config) concatenated with the display name and
// optional vocabulary hints.
type TranscriptionRequest struct {
	AudioPath   string
	Language    string
	Prompt      string
	Temperature float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (TranscriptionResult, error)
}

// TopicGranularity selects short vs. long topic summaries (spec.md §4.9.4).
type TopicGranularity string

const (
	GranularityShort TopicGranularity = "short"
	GranularityLong  TopicGranularity = "long"
)

type Topic struct {
	Name     string
	StartSec float64
	EndSec   float64
}

type TopicExtractionRequest struct {
	SegmentsText string
	Granularity  TopicGranularity
	Model        string
}

// TopicExtractor is called once per model tier; the executor drives the
// primary/secondary fallback itself (spec.md §4.9.4).
type TopicExtractor interface {
	ExtractTopics(ctx context.Context, req TopicExtractionRequest) ([]Topic, error)
}

type SubtitleFormat string

const (
	SubtitleFileFormat SubtitleFormat = "srt"
	WebSubtitleFormat  SubtitleFormat = "vtt"
)

// SubtitleGenerator renders cached segments into one or more subtitle
// files, returning the output paths written (spec.md §4.9.5).
type SubtitleGenerator interface {
	GenerateSubtitles(ctx context.Context, segments []TranscriptSegment, outDir string, formats []SubtitleFormat) (map[SubtitleFormat]string, error)
}

// UploadRequest carries the rendered title/description and resolved
// metadata for one platform upload (spec.md §4.9.6 steps 3-6).
type UploadRequest struct {
	VideoPath   string
	Title       string
	Description string
	Metadata    map[string]interface{}
	Credential  Envelope
}

type UploadResult struct {
	ExternalVideoID  string
	ExternalVideoURL string
	Extras           map[string]interface{}
}

// FailureTag classifies an upload failure per spec.md §4.9.6's taxonomy.
type FailureTag string

const (
	FailureCredential      FailureTag = "credential-error"
	FailureResourceMissing FailureTag = "resource-not-found"
	FailureTokenRefresh    FailureTag = "token-refresh-failed"
	FailureGeneric         FailureTag = "generic"
)

// UploadError carries the taxonomy tag alongside the underlying error so
// callers can decide retriability without string-matching messages.
type UploadError struct {
	Tag FailureTag
	Err error
}

func (e *UploadError) Error() string { return string(e.Tag) + ": " + e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

// PlatformUploader is implemented once per target platform (YouTube,
// Vimeo, Drive, ...); Registry (platform.go) holds the uploaders keyed
// by platform name.
type PlatformUploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

// Envelope is an opaque credential blob; encryption at rest is out of
// scope for this module (spec.md §1), so providers never see plaintext
// secrets beyond what the vault hands them.
type Envelope struct {
	Platform  string
	Account   string
	Opaque    []byte
	ExpiresAt *time.Time
}
