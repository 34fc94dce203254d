// Package models defines the persisted entities from spec.md §3. It is a
// pure data package: no repository logic, no I/O.
package models

import "time"

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the tenant root. Slug is a stable numeric ordinal used to build
// filesystem paths (internal/artifacts) so that renaming a user never
// invalidates existing artifact paths.
type User struct {
	ID           string
	Slug         int64
	Role         Role
	Timezone     string
	Permissions  map[string]bool
	Config       map[string]interface{}
	CreatedAt    time.Time
}

// InputSource is a per-user configured producer of recordings.
type SourceKind string

const (
	SourceMeetingProvider SourceKind = "meeting-provider"
	SourceURLList         SourceKind = "url-list"
	SourceCloudFolder     SourceKind = "cloud-folder"
	SourceLocal           SourceKind = "local"
)

type InputSource struct {
	ID           string
	UserID       string
	Kind         SourceKind
	CredentialID string
	Config       map[string]interface{}
	LastSyncAt   *time.Time
	Active       bool
}

// DeleteState is the monotone active -> soft -> hard ordering (Invariant 2).
type DeleteState string

const (
	DeleteStateActive DeleteState = "active"
	DeleteStateSoft   DeleteState = "soft"
	DeleteStateHard   DeleteState = "hard"
)

// RecordingStatus is the derived aggregate status (spec.md §4.5).
type RecordingStatus string

const (
	StatusInitialized   RecordingStatus = "INITIALIZED"
	StatusDownloading   RecordingStatus = "DOWNLOADING"
	StatusDownloaded    RecordingStatus = "DOWNLOADED"
	StatusProcessing    RecordingStatus = "PROCESSING"
	StatusProcessed     RecordingStatus = "PROCESSED"
	StatusUploading     RecordingStatus = "UPLOADING"
	StatusReady         RecordingStatus = "READY"
	StatusSkipped       RecordingStatus = "SKIPPED"
	StatusPendingSource RecordingStatus = "PENDING_SOURCE"
	StatusExpired       RecordingStatus = "EXPIRED"
)

// baseStatuses are the statuses a repository may write to directly
// (Invariant 4); every other status value is derived by the aggregator.
var baseStatuses = map[RecordingStatus]bool{
	StatusInitialized:   true,
	StatusDownloading:   true,
	StatusDownloaded:    true,
	StatusSkipped:       true,
	StatusPendingSource: true,
	StatusExpired:       true,
}

func IsBaseStatus(s RecordingStatus) bool { return baseStatuses[s] }

type Recording struct {
	ID             string
	UserID         string
	InputSourceID  *string
	TemplateID     *string

	DisplayName string
	StartTime   time.Time
	DurationSec float64
	SizeBytes   int64

	Status      RecordingStatus
	IsMapped    bool
	BlankRecord bool
	OnPause     bool

	Failed        bool
	FailedAtStage string
	FailedReason  string
	FailedAt      *time.Time

	LocalVideoPath      string
	ProcessedVideoPath  string
	ProcessedAudioPath  string
	TranscriptionDir    string

	DeleteState     DeleteState
	Deleted         bool
	DeletionReason  string
	DeletedAt       *time.Time
	ExpireAt        *time.Time
	SoftDeletedAt   *time.Time
	HardDeleteAt    *time.Time

	PipelineStartedAt    *time.Time
	PipelineCompletedAt  *time.Time
	PipelineDurationSec  *float64

	MainTopics            []string
	TopicsWithTimestamps  []TopicTimestamp
	ProcessingPreferences map[string]interface{}

	Stages  []ProcessingStage
	Targets []OutputTarget
	Source  *SourceMetadata
}

type TopicTimestamp struct {
	Topic     string
	StartSec  float64
	EndSec    float64
}

// SourceMetadata is 1:1 with Recording.
type SourceMetadata struct {
	RecordingID   string
	DownloadURL   string
	DownloadToken string
	TokenFetchedAt *time.Time
	Passcode      string
	ProviderFileSizeBytes int64
	ProviderDurationSec   float64
	StillProcessing       bool
	Raw                   map[string]interface{}
}

type StageType string

const (
	StageTrim              StageType = "TRIM"
	StageTranscribe        StageType = "TRANSCRIBE"
	StageExtractTopics     StageType = "EXTRACT_TOPICS"
	StageGenerateSubtitles StageType = "GENERATE_SUBTITLES"

	// StageDownload and StageUpload only ever appear on StageTiming rows,
	// never on ProcessingStage: download and upload have no processing_stages
	// row of their own (download gates on recording status, upload gates on
	// OutputTarget), but the Timing Recorder still logs their start/end.
	StageDownload StageType = "DOWNLOAD"
	StageUpload   StageType = "UPLOAD"
)

type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
	StageFailed     StageStatus = "FAILED"
	StageSkipped    StageStatus = "SKIPPED"
)

type ProcessingStage struct {
	ID           string
	RecordingID  string
	StageType    StageType
	Status       StageStatus
	Failed       bool
	FailedReason string
	SkipReason   string
	RetryCount   int
	MaxRetries   int
	CompletedAt  *time.Time
	StageMeta    map[string]interface{}
}

type TargetType string

type TargetStatus string

const (
	TargetNotUploaded TargetStatus = "NOT_UPLOADED"
	TargetUploading   TargetStatus = "UPLOADING"
	TargetUploaded    TargetStatus = "UPLOADED"
	TargetFailed      TargetStatus = "FAILED"
)

type OutputTarget struct {
	ID           string
	RecordingID  string
	TargetType   TargetType
	Status       TargetStatus
	PresetID     *string
	UploadedAt   *time.Time
	FailedReason string
	ExternalVideoID string
	ExternalVideoURL string
	ResultMeta   map[string]interface{}
}

type OutputPreset struct {
	ID           string
	UserID       string
	Platform     TargetType
	CredentialID string
	Meta         map[string]interface{}
}

type MatchingRules struct {
	SourceIDs          []string
	ExactMatches       []string
	IncludeKeywords    []string
	IncludePatterns    []string
	ExcludeKeywords    []string
	ExcludePatterns    []string
	CaseSensitive      bool
}

type RecordingTemplate struct {
	ID              string
	UserID          string
	Name            string
	MatchingRules   MatchingRules
	ProcessingConfig map[string]interface{}
	MetadataConfig   map[string]interface{}
	OutputConfig     map[string]interface{}
	IsDraft          bool
	IsActive         bool
	UsedCount        int64
	LastUsedAt       *time.Time
	CreatedAt        time.Time
}

type AutomationJob struct {
	ID               string
	UserID           string
	TemplateIDs      []string
	Schedule         string
	Timezone         string
	SyncDays         int
	Filters          AutomationFilters
	ProcessingConfig map[string]interface{}
	IsActive         bool
	NextRunAt        *time.Time
	LastRunAt        *time.Time
	RunCount         int64
}

type AutomationFilters struct {
	Statuses     []RecordingStatus
	ExcludeBlank bool
}

type StageTiming struct {
	ID          string
	RecordingID string
	StageType   StageType
	Substep     string
	Attempt     int
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	Status      StageStatus
	Error       string
	Meta        map[string]interface{}
}

type QuotaUsage struct {
	UserID              string
	Period              string // YYYYMM
	RecordingsCount      int64
	StorageBytes         int64
	ConcurrentTasksCount int64
	OverageRecordings    int64
	OverageStorageBytes  int64
}

type SubscriptionPlan struct {
	ID                   string
	Name                 string
	RecordingsPerMonth   int64
	ConcurrentTasksLimit int64
	StorageBytesLimit    int64
}

type UserSubscription struct {
	UserID          string
	PlanID          string
	Overrides       map[string]int64
}

// TaskRecord is the caller-visible status row behind tasks.status/cancel
// (spec.md §6, §4.7). RecordingID is empty for tasks not tied to one
// recording (e.g. a batch sources.sync).
type TaskRecord struct {
	ID          string
	UserID      string
	Kind        string
	RecordingID string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
