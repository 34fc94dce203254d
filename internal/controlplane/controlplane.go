// Package controlplane exposes the verbs of spec.md §6 as plain Go
// methods on Service -- HTTP/gRPC routing is explicitly out of scope
// (spec.md §1), so this package is the whole external surface. It is the
// composition root that wires internal/configresolver, internal/pipeline,
// internal/quota, internal/sourcesync and internal/scheduler together the
// way the teacher's own API-facing packages sit directly on top of its
// pipeline coordinator rather than duplicating its logic.
package controlplane

import (
	"context"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/pipeline"
	"github.com/meetcast/core/internal/quota"
	"github.com/meetcast/core/internal/scheduler"
	"github.com/meetcast/core/internal/sourcesync"
	"github.com/meetcast/core/internal/storagepg"
)

// Repository is the narrow slice of internal/storagepg.Repository this
// package needs across every verb.
type Repository interface {
	GetByID(ctx context.Context, userID, rid string) (*models.Recording, error)
	ListByUser(ctx context.Context, userID string, f storagepg.ListFilters, p storagepg.Pagination) ([]*models.Recording, error)
	SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error
	Pause(ctx context.Context, userID, rid string) error
	Resume(ctx context.Context, userID, rid string) error
	ResetRecording(ctx context.Context, userID, rid string, clearArtifacts bool) error
	ClearStageFailure(ctx context.Context, rid string, stageType models.StageType) error
	SoftDelete(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error
	Restore(ctx context.Context, rec *models.Recording, autoExpireDays int) error
	GetUserConfig(ctx context.Context, userID string) (map[string]interface{}, error)
	GetTemplateByID(ctx context.Context, userID, templateID string) (*models.RecordingTemplate, error)
	CreateTemplate(ctx context.Context, userID, name string, rules models.MatchingRules, processingCfg, metadataCfg, outputCfg map[string]interface{}) (*models.RecordingTemplate, error)
	GetAutomationJobByID(ctx context.Context, userID, jobID string) (*models.AutomationJob, error)
	CreateTaskRecord(ctx context.Context, taskID, userID, kind, recordingID string) error
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
	GetTaskRecord(ctx context.Context, userID, taskID string) (*models.TaskRecord, error)
	CancelTaskRecord(ctx context.Context, userID, taskID string) error
}

// Syncer is the narrow slice of internal/sourcesync.Syncer sources.sync
// needs.
type Syncer interface {
	SyncOne(ctx context.Context, userID, sourceID string, from, to time.Time) (sourcesync.Result, error)
	SyncAll(ctx context.Context, userID string, from, to time.Time) (sourcesync.Result, error)
}

// Pipeline is the narrow slice of internal/pipeline.Orchestrator
// recordings.run and recordings.retry_stage need.
type Pipeline interface {
	Submit(ctx context.Context, rec *models.Recording, flags pipeline.EnabledFlags) (string, error)
	SubmitFromStep(ctx context.Context, rec *models.Recording, flags pipeline.EnabledFlags, from pipeline.StepKind) (string, error)
}

// QuotaService is the narrow slice of internal/quota.Service this package
// needs.
type QuotaService interface {
	Admit(ctx context.Context, userID string) error
	RecordAdmission(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (quota.Status, error)
}

// AutomationEvaluator is the narrow slice of internal/scheduler.Evaluator
// automation.run/automation.dry_run need.
type AutomationEvaluator interface {
	RunJob(ctx context.Context, job *models.AutomationJob, dryRun bool) (scheduler.RunResult, error)
}

// Service implements every verb of spec.md §6. It also satisfies
// internal/scheduler.Submitter via its own Submit method, so the same
// object that serves recordings.run is what cmd/scheduler wires into the
// scheduler's evaluator -- automation jobs and direct control-plane calls
// share one admission/config-resolution path, never two.
type Service struct {
	Repo  Repository
	Sync  Syncer
	Pipe  Pipeline
	Quota QuotaService
	Sched AutomationEvaluator
	Now   func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RecordingsList implements recordings.list(filters, pagination).
func (s *Service) RecordingsList(ctx context.Context, userID string, f storagepg.ListFilters, p storagepg.Pagination) ([]*models.Recording, error) {
	return s.Repo.ListByUser(ctx, userID, f, p)
}

// RecordingsGet implements recordings.get(id).
func (s *Service) RecordingsGet(ctx context.Context, userID, id string) (*models.Recording, error) {
	return s.Repo.GetByID(ctx, userID, id)
}

// Submit implements scheduler.Submitter and recordings.run(id,
// manual_override?): it resolves the full config-layer chain per spec.md
// §4.3, derives enabled flags per §4.8 step 3, and hands the chain to the
// pipeline orchestrator. A blank recording is skipped rather than
// submitted (§4.8 step 2) and reports no chain id.
func (s *Service) Submit(ctx context.Context, userID, recordingID string, manualOverride map[string]interface{}) (string, error) {
	rec, err := s.Repo.GetByID(ctx, userID, recordingID)
	if err != nil {
		return "", err
	}

	if rec.BlankRecord {
		if err := s.Repo.SetRecordingStatus(ctx, rec.ID, models.StatusSkipped); err != nil {
			return "", fmt.Errorf("controlplane: skipping blank recording %s: %w", rec.ID, err)
		}
		return "", nil
	}

	if err := s.Quota.Admit(ctx, userID); err != nil {
		return "", err
	}

	layers, err := s.resolveLayers(ctx, userID, rec, manualOverride)
	if err != nil {
		return "", err
	}
	cfg, outputCfg, err := configresolver.Resolve(layers, true)
	if err != nil {
		return "", fmt.Errorf("controlplane: resolving config for %s: %w", rec.ID, err)
	}

	alreadyDownloaded := rec.Status == models.StatusDownloaded || rec.LocalVideoPath != ""
	flags := pipeline.DeriveEnabledFlags(cfg, outputCfg, alreadyDownloaded, nil)

	chainID, err := s.Pipe.Submit(ctx, rec, flags)
	if err != nil {
		return "", err
	}
	if err := s.Quota.RecordAdmission(ctx, userID); err != nil {
		logging.LogNoScope("recording admission accounting failed", "recording_id", rec.ID, "err", err)
	}
	return chainID, nil
}

// resolveLayers assembles configresolver.Layers for rec, resolving an
// operator-supplied runtime_template_id (spec.md §4.3 layer 3) when
// present in manualOverride.
func (s *Service) resolveLayers(ctx context.Context, userID string, rec *models.Recording, manualOverride map[string]interface{}) (configresolver.Layers, error) {
	userCfg, err := s.Repo.GetUserConfig(ctx, userID)
	if err != nil {
		return configresolver.Layers{}, fmt.Errorf("controlplane: reading user config: %w", err)
	}

	var templateProcessing, templateMetadata, templateOutput configresolver.Tree
	if rec.TemplateID != nil {
		tmpl, err := s.Repo.GetTemplateByID(ctx, userID, *rec.TemplateID)
		if err != nil {
			logging.LogNoScope("recording's bound template missing", "recording_id", rec.ID, "template_id", *rec.TemplateID, "err", err)
		} else {
			templateProcessing = tmpl.ProcessingConfig
			templateMetadata = tmpl.MetadataConfig
			templateOutput = tmpl.OutputConfig
		}
	}

	var runtimeLayer configresolver.Tree
	if runtimeID, ok := manualOverride["runtime_template_id"].(string); ok && runtimeID != "" {
		tmpl, err := s.Repo.GetTemplateByID(ctx, userID, runtimeID)
		if err != nil {
			return configresolver.Layers{}, fmt.Errorf("controlplane: resolving runtime_template_id %s: %w", runtimeID, err)
		}
		runtimeLayer = configresolver.Merge(configresolver.Merge(configresolver.Tree{}, tmpl.ProcessingConfig), tmpl.OutputConfig)
	}

	return configresolver.Layers{
		UserConfig:         userCfg,
		TemplateProcessing: templateProcessing,
		TemplateMetadata:   templateMetadata,
		TemplateOutput:     templateOutput,
		RuntimeTemplate:    runtimeLayer,
		RecordingPrefs:     rec.ProcessingPreferences,
		ManualOverride:     manualOverride,
	}, nil
}

// RecordingsPause implements recordings.pause(id).
func (s *Service) RecordingsPause(ctx context.Context, userID, id string) error {
	return s.Repo.Pause(ctx, userID, id)
}

// RecordingsResume implements recordings.resume(id).
func (s *Service) RecordingsResume(ctx context.Context, userID, id string) error {
	return s.Repo.Resume(ctx, userID, id)
}

// RecordingsReset implements recordings.reset(id, preserve?). There is no
// in-band way to unpublish an already-queued step from the dispatcher, so
// "cancel in-flight" rests on the admission re-check that the download and
// upload executors perform against persisted recording state; already
// queued trim, transcribe, extract_topics and generate_subtitles steps make
// no such check and still run. preserve=true keeps media artifacts; preserve=false also clears
// them so a subsequent run starts from a clean download.
func (s *Service) RecordingsReset(ctx context.Context, userID, id string, preserve bool) error {
	if err := s.Repo.ResetRecording(ctx, userID, id, !preserve); err != nil {
		return err
	}
	return s.Repo.SetRecordingStatus(ctx, id, models.StatusInitialized)
}

// stageSteps maps a retry_stage argument onto the pipeline step it
// resubmits and, where one exists, the processing_stages row to clear.
var stageSteps = map[string]struct {
	step          pipeline.StepKind
	stageType     models.StageType
	hasRow        bool
	failedAtStage string
}{
	"download":           {pipeline.StepDownload, "", false, "download"},
	"trim":               {pipeline.StepTrim, models.StageTrim, true, "trim"},
	"transcribe":         {pipeline.StepTranscribe, models.StageTranscribe, true, string(models.StageTranscribe)},
	"extract_topics":     {pipeline.StepExtractTopics, models.StageExtractTopics, true, string(models.StageExtractTopics)},
	"generate_subtitles": {pipeline.StepGenerateSubtitles, models.StageGenerateSubtitles, true, string(models.StageGenerateSubtitles)},
	"upload":             {pipeline.StepUpload, "", false, "upload"},
}

// RecordingsRetryStage implements recordings.retry_stage(id, stage): it
// clears that stage's failure bookkeeping (only rolling back the
// recording-level failed flag when failed_at_stage matches it, per spec.md
// §4.8's retry edge-case policy) and rebuilds the chain from that step.
func (s *Service) RecordingsRetryStage(ctx context.Context, userID, id, stage string) (string, error) {
	mapped, ok := stageSteps[stage]
	if !ok {
		return "", fmt.Errorf("controlplane: unknown stage %q", stage)
	}

	rec, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if mapped.hasRow {
		if err := s.Repo.ClearStageFailure(ctx, rec.ID, mapped.stageType); err != nil {
			return "", err
		}
	}
	if rec.Failed && mapped.failedAtStage != "" && rec.FailedAtStage == mapped.failedAtStage {
		if err := s.Repo.ResetRecording(ctx, userID, id, false); err != nil {
			return "", err
		}
	}

	layers, err := s.resolveLayers(ctx, userID, rec, nil)
	if err != nil {
		return "", err
	}
	cfg, outputCfg, err := configresolver.Resolve(layers, true)
	if err != nil {
		return "", fmt.Errorf("controlplane: resolving config for %s: %w", rec.ID, err)
	}
	alreadyDownloaded := rec.Status == models.StatusDownloaded || rec.LocalVideoPath != ""
	flags := pipeline.DeriveEnabledFlags(cfg, outputCfg, alreadyDownloaded, nil)

	return s.Pipe.SubmitFromStep(ctx, rec, flags, mapped.step)
}

// RecordingsDelete implements recordings.delete(id): soft-delete via the
// repository (spec.md §6), retention days taken from user config falling
// back to the package defaults.
func (s *Service) RecordingsDelete(ctx context.Context, userID, id string) error {
	rec, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	userCfg, err := s.Repo.GetUserConfig(ctx, userID)
	if err != nil {
		return fmt.Errorf("controlplane: reading user config: %w", err)
	}
	softDays, hardDays := config.DefaultSoftDeleteDays, config.DefaultHardDeleteDays
	if cfg, _, err := configresolver.Resolve(configresolver.Layers{UserConfig: userCfg}, false); err == nil {
		if cfg.Retention.SoftDeleteDays > 0 {
			softDays = cfg.Retention.SoftDeleteDays
		}
		if cfg.Retention.HardDeleteDays > 0 {
			hardDays = cfg.Retention.HardDeleteDays
		}
	}
	return s.Repo.SoftDelete(ctx, rec, softDays, hardDays)
}

// RecordingsRestore implements recordings.restore(id).
func (s *Service) RecordingsRestore(ctx context.Context, userID, id string) error {
	rec, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	return s.Repo.Restore(ctx, rec, config.DefaultAutoExpireDays)
}

// SourcesSync implements sources.sync(id|ids, from_date, to_date?): empty
// sourceIDs means every active source for the user (§4.10's batch job).
// Each call is given a task record so tasks.status can observe it even
// though the sync itself runs synchronously within this call.
func (s *Service) SourcesSync(ctx context.Context, userID string, sourceIDs []string, from, to time.Time) (sourcesync.Result, error) {
	taskID := newTaskID()
	if err := s.Repo.CreateTaskRecord(ctx, taskID, userID, "sources.sync", ""); err != nil {
		logging.LogNoScope("creating sync task record failed", "user_id", userID, "err", err)
	}

	var result sourcesync.Result
	var err error
	if len(sourceIDs) == 0 {
		result, err = s.Sync.SyncAll(ctx, userID, from, to)
	} else {
		for _, id := range sourceIDs {
			r, syncErr := s.Sync.SyncOne(ctx, userID, id, from, to)
			if syncErr != nil {
				err = syncErr
				break
			}
			result.SourcesSynced += r.SourcesSynced
			result.EntriesSeen += r.EntriesSeen
			result.Mapped += r.Mapped
			result.Unmapped += r.Unmapped
			result.Failed += r.Failed
		}
	}

	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	if updateErr := s.Repo.UpdateTaskStatus(ctx, taskID, status); updateErr != nil {
		logging.LogNoScope("updating sync task record failed", "task_id", taskID, "err", updateErr)
	}
	return result, err
}

// TemplatesFromRecording implements templates.from_recording(id, {name,
// match_pattern?, match_source_id?}): it captures a single matching rule
// plus the source recording's processing preferences as a reusable
// template (spec.md §6). Exactly one of matchPattern/matchSourceID narrows
// the rule beyond an exact-name match; when neither is given the new
// template matches recordings named exactly like this one.
func (s *Service) TemplatesFromRecording(ctx context.Context, userID, id, name string, matchPattern, matchSourceID *string) (*models.RecordingTemplate, error) {
	rec, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rules := models.MatchingRules{}
	switch {
	case matchPattern != nil && *matchPattern != "":
		rules.IncludePatterns = []string{*matchPattern}
	case matchSourceID != nil && *matchSourceID != "":
		rules.SourceIDs = []string{*matchSourceID}
		rules.ExactMatches = []string{rec.DisplayName}
	default:
		rules.ExactMatches = []string{rec.DisplayName}
	}

	return s.Repo.CreateTemplate(ctx, userID, name, rules, rec.ProcessingPreferences, map[string]interface{}{}, map[string]interface{}{})
}

// AutomationRun implements automation.run(job_id).
func (s *Service) AutomationRun(ctx context.Context, userID, jobID string) (scheduler.RunResult, error) {
	return s.runAutomationJob(ctx, userID, jobID, false)
}

// AutomationDryRun implements automation.dry_run(job_id).
func (s *Service) AutomationDryRun(ctx context.Context, userID, jobID string) (scheduler.RunResult, error) {
	return s.runAutomationJob(ctx, userID, jobID, true)
}

func (s *Service) runAutomationJob(ctx context.Context, userID, jobID string, dryRun bool) (scheduler.RunResult, error) {
	job, err := s.Repo.GetAutomationJobByID(ctx, userID, jobID)
	if err != nil {
		return scheduler.RunResult{}, err
	}
	return s.Sched.RunJob(ctx, job, dryRun)
}

// UploadsSchedule implements uploads.schedule(id, platform, preset_id?):
// admission, then a single-target chain consisting of just the upload
// launcher for platform (reusing the same Build/Submit path as a full run,
// with every other step flag left off).
func (s *Service) UploadsSchedule(ctx context.Context, userID, id string, platform models.TargetType, presetID *string) (string, error) {
	rec, err := s.Repo.GetByID(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if err := s.Quota.Admit(ctx, userID); err != nil {
		return "", err
	}
	flags := pipeline.EnabledFlags{Upload: true, Platforms: []string{string(platform)}}
	return s.Pipe.Submit(ctx, rec, flags)
}

// QuotaStatus implements quota.status().
func (s *Service) QuotaStatus(ctx context.Context, userID string) (quota.Status, error) {
	return s.Quota.Status(ctx, userID)
}

// TasksStatus implements tasks.status(task_id); GetTaskRecord itself scopes
// the lookup to userID so a caller can never observe another tenant's task
// (spec.md §4.7's identity check).
func (s *Service) TasksStatus(ctx context.Context, userID, taskID string) (*models.TaskRecord, error) {
	return s.Repo.GetTaskRecord(ctx, userID, taskID)
}

// TasksCancel implements tasks.cancel(task_id).
func (s *Service) TasksCancel(ctx context.Context, userID, taskID string) error {
	return s.Repo.CancelTaskRecord(ctx, userID, taskID)
}
