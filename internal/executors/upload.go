package executors

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/failure"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
	"github.com/meetcast/core/internal/status"
)

// UploadExecutor implements spec.md §4.9.6.
type UploadExecutor struct {
	Repo     Repository
	Store    ArtifactStore
	Registry *providers.Registry
}

// ResolvePreset implements step 2: explicit preset wins; otherwise infer
// from the bound template's output_config.preset_ids map keyed by
// platform.
func ResolvePreset(explicit *string, tmpl *models.RecordingTemplate, platform models.TargetType) *string {
	if explicit != nil {
		return explicit
	}
	if tmpl == nil {
		return nil
	}
	raw, ok := tmpl.OutputConfig["preset_ids"].(map[string]interface{})
	if !ok {
		return nil
	}
	if v, ok := raw[string(platform)].(string); ok {
		return &v
	}
	return nil
}

// ResolveMetadata implements step 3: merge user-config defaults, template
// metadata_config, preset metadata, and caller overrides, in that
// precedence order (later layers win).
func ResolveMetadata(userDefaults, templateMeta, presetMeta, override map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, layer := range []map[string]interface{}{userDefaults, templateMeta, presetMeta, override} {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

// topicsContext formats the topics list per config: numbered, bullet,
// dash, comma, or inline, with optional timestamps (spec.md §4.9.6 step
// 4). Unknown styles fall back to comma-separated.
func topicsContext(topics []models.TopicTimestamp, style string, withTimestamps bool) string {
	items := make([]string, len(topics))
	for i, t := range topics {
		label := t.Topic
		if withTimestamps {
			label = fmt.Sprintf("%s (%s)", t.Topic, formatTimestamp(t.StartSec))
		}
		items[i] = label
	}
	switch style {
	case "numbered":
		for i := range items {
			items[i] = fmt.Sprintf("%d. %s", i+1, items[i])
		}
		return strings.Join(items, "\n")
	case "bullet":
		for i := range items {
			items[i] = "• " + items[i]
		}
		return strings.Join(items, "\n")
	case "dash":
		for i := range items {
			items[i] = "- " + items[i]
		}
		return strings.Join(items, "\n")
	case "inline":
		return strings.Join(items, " ")
	default:
		return strings.Join(items, ", ")
	}
}

func formatTimestamp(sec float64) string {
	total := int(sec)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// renderContext is what title/description templates are rendered against.
type renderContext struct {
	DisplayName string
	StartDate   string
	Topics      string
}

func renderTemplate(tmplText string, ctx renderContext) (string, error) {
	t, err := template.New("render").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("executors: parsing render template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("executors: executing render template: %w", err)
	}
	return buf.String(), nil
}

// Run executes spec.md §4.9.6 steps 4-8. metadata must already be fully
// resolved (ResolveMetadata) and carry "title_template"/"description_template"
// string entries plus an optional "topics_style"/"topics_with_timestamps".
func (e *UploadExecutor) Run(ctx context.Context, rec *models.Recording, metadata map[string]interface{}, cred providers.Envelope) (_ providers.UploadResult, err error) {
	if !status.ShouldAllowUpload(rec.Status, rec.Stages, rec.Targets, metadataPlatform(metadata)) {
		return providers.UploadResult{}, apierrors.NewAdmissionError("upload", "recording not ready for upload or target already in flight")
	}

	platform := metadataPlatform(metadata)
	style, _ := metadata["topics_style"].(string)
	withTS, _ := metadata["topics_with_timestamps"].(bool)

	titleTmpl, _ := metadata["title_template"].(string)
	descTmpl, _ := metadata["description_template"].(string)
	rctx := renderContext{
		DisplayName: rec.DisplayName,
		StartDate:   rec.StartTime.Format("2006-01-02"),
		Topics:      topicsContext(rec.TopicsWithTimestamps, style, withTS),
	}
	title, err := renderTemplate(titleTmpl, rctx)
	if err != nil {
		return providers.UploadResult{}, err
	}
	description, err := renderTemplate(descTmpl, rctx)
	if err != nil {
		return providers.UploadResult{}, err
	}

	presetID, _ := metadata["preset_id"].(*string)
	target, err := e.Repo.GetOrCreateOutputTarget(ctx, rec.ID, platform, presetID)
	if err != nil {
		return providers.UploadResult{}, err
	}
	if target.Status == models.TargetUploaded {
		return providers.UploadResult{ExternalVideoID: target.ExternalVideoID, ExternalVideoURL: target.ExternalVideoURL}, nil
	}

	if err = e.Repo.MarkOutputUploading(ctx, rec.ID, target.ID); err != nil {
		return providers.UploadResult{}, err
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageUpload, string(platform), 1)
	if tErr != nil {
		return providers.UploadResult{}, tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, map[string]interface{}{"platform": string(platform)}); cErr != nil {
			logging.LogNoScope("completing upload timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	uploader, err := e.Registry.Get(string(platform))
	if err != nil {
		return providers.UploadResult{}, err
	}

	videoPath := rec.ProcessedVideoPath
	if videoPath == "" {
		videoPath = rec.LocalVideoPath
	}
	result, uploadErr := uploader.Upload(ctx, providers.UploadRequest{
		VideoPath:   videoPath,
		Title:       title,
		Description: description,
		Metadata:    metadata,
		Credential:  cred,
	})
	if uploadErr != nil {
		if hErr := failure.HandleUploadFailure(ctx, e.Repo, rec.ID, target.ID, uploadErr); hErr != nil {
			return providers.UploadResult{}, hErr
		}
		return providers.UploadResult{}, uploadErr
	}

	resultMeta := result.Extras
	if resultMeta == nil {
		resultMeta = map[string]interface{}{}
	}
	if err := e.Repo.SaveUploadResult(ctx, rec.ID, target.ID, result.ExternalVideoID, result.ExternalVideoURL, resultMeta); err != nil {
		return providers.UploadResult{}, err
	}
	return result, nil
}

func metadataPlatform(metadata map[string]interface{}) models.TargetType {
	if v, ok := metadata["platform"].(string); ok {
		return models.TargetType(v)
	}
	return ""
}
