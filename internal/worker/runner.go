// Package worker dispatches one queue.Task to the executor that implements
// its step kind (spec.md §4.9), resolving that step's slice of the
// configresolver tree itself since the message only carries a recording id
// -- grounded on the same "each message handler re-reads persisted state
// rather than trusting its payload" discipline internal/pipeline and
// internal/failure already follow.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/credentials"
	"github.com/meetcast/core/internal/executors"
	"github.com/meetcast/core/internal/failure"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/pipeline"
	"github.com/meetcast/core/internal/providers"
	"github.com/meetcast/core/internal/queue"
)

// Repository is the union of every storagepg method a step dispatch needs:
// executors.Repository and failure.Repository cover stage/status
// bookkeeping, the rest resolve config and credentials.
type Repository interface {
	executors.Repository
	failure.Repository
	GetUserConfig(ctx context.Context, userID string) (map[string]interface{}, error)
	GetTemplateByID(ctx context.Context, userID, templateID string) (*models.RecordingTemplate, error)
	GetOutputPresetByID(ctx context.Context, userID, presetID string) (*models.OutputPreset, error)
	GetCredential(ctx context.Context, userID, platform, account string) (providers.Envelope, error)
	GetUserSlug(ctx context.Context, userID string) (int64, error)
	GetInputSourceByID(ctx context.Context, userID, sourceID string) (*models.InputSource, error)
	UpdateSourceDownloadToken(ctx context.Context, rid, downloadURL, downloadToken string, fetchedAt time.Time) error
}

// Enqueuer is the narrow slice of internal/queue.Dispatcher the upload
// launcher's per-platform fan-out needs, kept separate from
// pipeline.Enqueuer so this package doesn't need the orchestrator's own
// interface definition.
type Enqueuer interface {
	Enqueue(ctx context.Context, name queue.Name, t queue.Task, priority uint8) error
}

// Runner wires every executor plus the failure handler and orchestrator
// around one storagepg.Repository, and is the single place that turns a
// queue.Task back into a (recording, step) pair.
type Runner struct {
	Repo    Repository
	Store   executors.ArtifactStore
	Pipe    *pipeline.Orchestrator
	Queue   Enqueuer
	Failure *failure.Handler

	Downloader        providers.Downloader
	Transcriber       providers.Transcriber
	TopicPrimary      providers.TopicExtractor
	TopicSecondary    providers.TopicExtractor
	SubtitleGenerator providers.SubtitleGenerator
	Uploaders         *providers.Registry

	// SourceRefresher mints a fresh download URL/token when runDownload
	// finds the stored one stale (spec.md §4.11 last paragraph). Nil
	// deployments (no meeting-provider client wired) simply reuse whatever
	// token is already stored.
	SourceRefresher credentials.SourceFetcher
	Now             func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// taskPayload mirrors the JSON internal/pipeline's enqueueStep writes.
type taskPayload struct {
	RecordingID string   `json:"recording_id"`
	ChainID     string   `json:"chain_id"`
	Platforms   []string `json:"platforms"`
	JoinGroup   string   `json:"join_group"`
	Platform    string   `json:"platform"`
}

// Dispatch runs the step named by task.Kind to completion (or failure) and
// advances the chain on success. It is the worker-side mirror of
// pipeline.Orchestrator.Submit: one message in, one unit of persisted
// state change out.
func (r *Runner) Dispatch(ctx context.Context, task queue.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("worker: decoding task payload: %w", err)
	}

	rec, err := r.Repo.GetByID(ctx, task.UserID, payload.RecordingID)
	if err != nil {
		return err
	}

	kind := pipeline.StepKind(task.Kind)
	var stepErr error
	switch kind {
	case pipeline.StepDownload:
		stepErr = r.runDownload(ctx, rec)
	case pipeline.StepTrim:
		stepErr = r.runTrim(ctx, rec)
	case pipeline.StepTranscribe:
		stepErr = r.runTranscribe(ctx, rec)
	case pipeline.StepExtractTopics:
		stepErr = r.runExtractTopics(ctx, rec)
	case pipeline.StepGenerateSubtitles:
		stepErr = r.runGenerateSubtitles(ctx, rec)
	case pipeline.StepUploadLauncher:
		return r.runUploadLauncher(ctx, rec, payload.ChainID, payload.Platforms)
	case pipeline.StepUpload:
		stepErr = r.runUpload(ctx, rec, models.TargetType(payload.Platform))
	default:
		return fmt.Errorf("worker: unknown step kind %q", task.Kind)
	}

	if stepErr != nil {
		return r.handleFailure(ctx, rec, kind, stepErr)
	}
	if kind == pipeline.StepUpload {
		return nil
	}
	return r.Pipe.CompleteStep(ctx, rec, payload.ChainID, kind)
}

// handleFailure routes stepErr to the one internal/failure.Handler method
// that matches kind, translating configresolver.TranscriptionConfig's
// allow_errors flag for the three transcription-pipeline stages.
func (r *Runner) handleFailure(ctx context.Context, rec *models.Recording, kind pipeline.StepKind, stepErr error) error {
	switch kind {
	case pipeline.StepDownload:
		return r.Failure.HandleDownloadFailure(ctx, rec, stepErr)
	case pipeline.StepTrim:
		return r.Failure.HandleTrimFailure(ctx, rec, stepErr)
	case pipeline.StepTranscribe:
		cfg, _, err := r.resolveConfig(ctx, rec)
		if err != nil {
			logging.LogNoScope("resolving config while handling failure", "recording_id", rec.ID, "err", err)
			return r.Failure.HandleTranscriptionPipelineFailure(ctx, rec, models.StageTranscribe, stepErr, false)
		}
		return r.Failure.HandleTranscriptionPipelineFailure(ctx, rec, models.StageTranscribe, stepErr, cfg.Transcription.AllowErrors)
	case pipeline.StepExtractTopics:
		cfg, _, err := r.resolveConfig(ctx, rec)
		allowErrors := err == nil && cfg.Transcription.AllowErrors
		return r.Failure.HandleTranscriptionPipelineFailure(ctx, rec, models.StageExtractTopics, stepErr, allowErrors)
	case pipeline.StepGenerateSubtitles:
		cfg, _, err := r.resolveConfig(ctx, rec)
		allowErrors := err == nil && cfg.Transcription.AllowErrors
		return r.Failure.HandleTranscriptionPipelineFailure(ctx, rec, models.StageGenerateSubtitles, stepErr, allowErrors)
	default:
		return stepErr
	}
}

// resolveConfig rebuilds the same config tree controlplane.Service.Submit
// resolved at chain-build time, minus any manual_override/runtime_template
// layer -- those only ever affect which steps are enabled (already baked
// into the chain by the time a step runs), not a running step's own knobs.
func (r *Runner) resolveConfig(ctx context.Context, rec *models.Recording) (configresolver.EffectiveConfig, configresolver.Tree, error) {
	userCfg, err := r.Repo.GetUserConfig(ctx, rec.UserID)
	if err != nil {
		return configresolver.EffectiveConfig{}, nil, fmt.Errorf("worker: reading user config: %w", err)
	}
	var templateProcessing, templateMetadata, templateOutput configresolver.Tree
	if rec.TemplateID != nil {
		tmpl, err := r.Repo.GetTemplateByID(ctx, rec.UserID, *rec.TemplateID)
		if err != nil {
			logging.LogNoScope("recording's bound template missing", "recording_id", rec.ID, "template_id", *rec.TemplateID, "err", err)
		} else {
			templateProcessing = tmpl.ProcessingConfig
			templateMetadata = tmpl.MetadataConfig
			templateOutput = tmpl.OutputConfig
		}
	}
	layers := configresolver.Layers{
		UserConfig:         userCfg,
		TemplateProcessing: templateProcessing,
		TemplateMetadata:   templateMetadata,
		TemplateOutput:     templateOutput,
		RecordingPrefs:     rec.ProcessingPreferences,
	}
	return configresolver.Resolve(layers, true)
}

func (r *Runner) slug(ctx context.Context, userID string) (int64, error) {
	return r.Repo.GetUserSlug(ctx, userID)
}

func (r *Runner) runDownload(ctx context.Context, rec *models.Recording) error {
	slug, err := r.slug(ctx, rec.UserID)
	if err != nil {
		return err
	}
	accessToken := ""
	if rec.Source != nil {
		accessToken = rec.Source.DownloadToken
		if refreshed, err := r.maybeRefreshDownloadToken(ctx, rec); err != nil {
			return err
		} else if refreshed != "" {
			accessToken = refreshed
		}
	}
	e := &executors.DownloadExecutor{Repo: r.Repo, Store: r.Store, Downloader: r.Downloader}
	_, err = e.Run(ctx, slug, slug, rec, accessToken, false)
	return err
}

// maybeRefreshDownloadToken implements spec.md §4.11's last paragraph: a
// recording's own download token is refreshed opportunistically when the
// download step starts, if missing or older than config.TokenRefreshBuffer.
// Returns "" (no error) when no refresh was needed or no SourceRefresher is
// configured.
func (r *Runner) maybeRefreshDownloadToken(ctx context.Context, rec *models.Recording) (string, error) {
	if r.SourceRefresher == nil {
		return "", nil
	}
	if !credentials.ShouldRefreshDownloadToken(rec.Source.TokenFetchedAt, r.now(), config.TokenRefreshBuffer) {
		return "", nil
	}
	if rec.InputSourceID == nil {
		return "", nil
	}
	src, err := r.Repo.GetInputSourceByID(ctx, rec.UserID, *rec.InputSourceID)
	if err != nil {
		return "", fmt.Errorf("worker: resolving input source for token refresh: %w", err)
	}
	downloadURL, downloadToken, err := r.SourceRefresher.FetchDownloadURL(ctx, src, rec)
	if err != nil {
		return "", fmt.Errorf("worker: refreshing download token for %s: %w", rec.ID, err)
	}
	if err := r.Repo.UpdateSourceDownloadToken(ctx, rec.ID, downloadURL, downloadToken, r.now()); err != nil {
		return "", fmt.Errorf("worker: persisting refreshed download token: %w", err)
	}
	return downloadToken, nil
}

func (r *Runner) runTrim(ctx context.Context, rec *models.Recording) error {
	slug, err := r.slug(ctx, rec.UserID)
	if err != nil {
		return err
	}
	cfg, _, err := r.resolveConfig(ctx, rec)
	if err != nil {
		return err
	}
	e := &executors.TrimExecutor{Repo: r.Repo, Store: r.Store}
	_, err = e.Run(ctx, slug, rec, cfg.Trimming)
	return err
}

func (r *Runner) runTranscribe(ctx context.Context, rec *models.Recording) error {
	slug, err := r.slug(ctx, rec.UserID)
	if err != nil {
		return err
	}
	cfg, _, err := r.resolveConfig(ctx, rec)
	if err != nil {
		return err
	}
	e := &executors.TranscribeExecutor{Repo: r.Repo, Store: r.Store, Transcriber: r.Transcriber}
	return e.Run(ctx, slug, rec, cfg.Transcription, config.TranscriptionBasePrompt, config.TranscriptionTemperature)
}

func (r *Runner) runExtractTopics(ctx context.Context, rec *models.Recording) error {
	slug, err := r.slug(ctx, rec.UserID)
	if err != nil {
		return err
	}
	cfg, _, err := r.resolveConfig(ctx, rec)
	if err != nil {
		return err
	}
	granularity := providers.GranularityShort
	if cfg.Metadata.TopicGranularity == string(providers.GranularityLong) {
		granularity = providers.GranularityLong
	}
	e := &executors.ExtractTopicsExecutor{Repo: r.Repo, Store: r.Store, Primary: r.TopicPrimary, Secondary: r.TopicSecondary}
	_, err = e.Run(ctx, slug, rec, granularity)
	return err
}

var defaultSubtitleFormats = []providers.SubtitleFormat{providers.SubtitleFileFormat, providers.WebSubtitleFormat}

func (r *Runner) runGenerateSubtitles(ctx context.Context, rec *models.Recording) error {
	slug, err := r.slug(ctx, rec.UserID)
	if err != nil {
		return err
	}
	e := &executors.GenerateSubtitlesExecutor{Repo: r.Repo, Store: r.Store, Generator: r.SubtitleGenerator}
	_, err = e.Run(ctx, slug, rec, defaultSubtitleFormats)
	return err
}

// runUploadLauncher fans platforms out into independent "upload" tasks on
// the uploads queue. Per-platform uploads are not tracked by the
// orchestrator's join machinery (each resolves its own OutputTarget row
// independently), so once the fan-out is published there is nothing left
// for the in-flight chain entry to coordinate; it is retired here rather
// than leaking for the life of the process.
func (r *Runner) runUploadLauncher(ctx context.Context, rec *models.Recording, chainID string, platforms []string) error {
	for _, platform := range platforms {
		payload, err := json.Marshal(taskPayload{RecordingID: rec.ID, Platform: platform})
		if err != nil {
			return err
		}
		task := queue.Task{ID: rec.ID + ":" + platform, UserID: rec.UserID, Kind: string(pipeline.StepUpload), Payload: payload}
		if err := r.Queue.Enqueue(ctx, queue.Uploads, task, 5); err != nil {
			return fmt.Errorf("worker: enqueuing upload for %s/%s: %w", rec.ID, platform, err)
		}
	}
	r.Pipe.FinishChain(chainID)
	return nil
}

func (r *Runner) runUpload(ctx context.Context, rec *models.Recording, platform models.TargetType) error {
	_, outputCfg, err := r.resolveConfig(ctx, rec)
	if err != nil {
		return err
	}
	var tmpl *models.RecordingTemplate
	if rec.TemplateID != nil {
		tmpl, _ = r.Repo.GetTemplateByID(ctx, rec.UserID, *rec.TemplateID)
	}

	platformCfg, _ := outputCfg["platforms"].(map[string]interface{})
	var options map[string]interface{}
	if entry, ok := platformCfg[string(platform)].(map[string]interface{}); ok {
		options, _ = entry["options"].(map[string]interface{})
	}
	userDefaults, _ := outputCfg["metadata"].(map[string]interface{})

	presetID := executors.ResolvePreset(nil, tmpl, platform)

	// A resolved preset is the spec-correct source of both the bound
	// credential account and the preset metadata layer (spec.md §4.9.6
	// steps 2-3); with no preset bound, uploads fall back to the
	// account named "default".
	credentialAccount := "default"
	var presetMeta map[string]interface{}
	if presetID != nil {
		preset, err := r.Repo.GetOutputPresetByID(ctx, rec.UserID, *presetID)
		if err != nil {
			return fmt.Errorf("worker: resolving preset %s for %s/%s: %w", *presetID, rec.UserID, platform, err)
		}
		if preset.CredentialID == "" {
			return fmt.Errorf("worker: preset %s for %s/%s has no bound credential", *presetID, rec.UserID, platform)
		}
		credentialAccount = preset.CredentialID
		presetMeta = preset.Meta
	}

	metadata := executors.ResolveMetadata(userDefaults, safeMap(tmpl, func(t *models.RecordingTemplate) map[string]interface{} { return t.MetadataConfig }), presetMeta, options)
	metadata["platform"] = string(platform)
	metadata["preset_id"] = presetID
	if _, ok := metadata["title_template"]; !ok {
		metadata["title_template"] = "{{.DisplayName}}"
	}
	if _, ok := metadata["description_template"]; !ok {
		metadata["description_template"] = "{{.Topics}}"
	}

	cred, err := r.Repo.GetCredential(ctx, rec.UserID, string(platform), credentialAccount)
	if err != nil {
		return fmt.Errorf("worker: fetching credential for %s/%s: %w", rec.UserID, platform, err)
	}

	e := &executors.UploadExecutor{Repo: r.Repo, Store: r.Store, Registry: r.Uploaders}
	_, err = e.Run(ctx, rec, metadata, cred)
	return err
}

func safeMap(tmpl *models.RecordingTemplate, f func(*models.RecordingTemplate) map[string]interface{}) map[string]interface{} {
	if tmpl == nil {
		return nil
	}
	return f(tmpl)
}
