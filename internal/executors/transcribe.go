package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
)

// TranscribeExecutor implements spec.md §4.9.3.
type TranscribeExecutor struct {
	Repo        Repository
	Store       ArtifactStore
	Transcriber providers.Transcriber
}

// selectTranscriptionInput applies spec.md §4.9.3's input priority:
// processed audio > processed video > raw video.
func selectTranscriptionInput(rec *models.Recording) (string, error) {
	switch {
	case rec.ProcessedAudioPath != "":
		return rec.ProcessedAudioPath, nil
	case rec.ProcessedVideoPath != "":
		return rec.ProcessedVideoPath, nil
	case rec.LocalVideoPath != "":
		return rec.LocalVideoPath, nil
	default:
		return "", fmt.Errorf("executors: recording %s has no input available for transcription", rec.ID)
	}
}

// composeTranscriptionPrompt builds base_prompt + display name + vocabulary
// hints exactly as spec.md §4.9.3 describes.
func composeTranscriptionPrompt(basePrompt, displayName string, vocabulary []string) string {
	parts := []string{basePrompt, displayName}
	if len(vocabulary) > 0 {
		parts = append(parts, "vocabulary: "+strings.Join(vocabulary, ", "))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (e *TranscribeExecutor) Run(ctx context.Context, slug int64, rec *models.Recording, cfg configresolver.TranscriptionConfig, basePrompt string, temperature float64) (err error) {
	if err = e.Repo.MarkStageInProgress(ctx, rec.ID, models.StageTranscribe); err != nil {
		return err
	}

	timing, tErr := e.Repo.StartStageTiming(ctx, rec.ID, models.StageTranscribe, "transcribe", 1)
	if tErr != nil {
		return tErr
	}
	defer func() {
		finalStatus, errMsg := models.StageCompleted, ""
		if err != nil {
			finalStatus, errMsg = models.StageFailed, err.Error()
		}
		if cErr := e.Repo.CompleteStageTiming(ctx, timing.ID, finalStatus, errMsg, nil); cErr != nil {
			logging.LogNoScope("completing transcribe timing failed", "recording_id", rec.ID, "err", cErr)
		}
	}()

	audioPath, err := selectTranscriptionInput(rec)
	if err != nil {
		return err
	}

	req := providers.TranscriptionRequest{
		AudioPath:   audioPath,
		Language:    cfg.Language,
		Prompt:      composeTranscriptionPrompt(basePrompt, rec.DisplayName, cfg.Vocabulary),
		Temperature: temperature,
	}
	result, err := e.Transcriber.Transcribe(ctx, req)
	if err != nil {
		return fmt.Errorf("executors: transcribing recording %s: %w", rec.ID, err)
	}

	dir := e.Store.TranscriptionDir(slug, rec.ID)
	if err := writeJSONArtifact(e.Store, filepath.Join(dir, "master.json"), result); err != nil {
		return err
	}
	if err := writeTextArtifact(e.Store, filepath.Join(dir, "segments.txt"), segmentsText(result)); err != nil {
		return err
	}
	if err := writeTextArtifact(e.Store, filepath.Join(dir, "words.txt"), wordsText(result)); err != nil {
		return err
	}

	if err := e.Repo.SetTranscriptionDir(ctx, rec.ID, dir); err != nil {
		return err
	}
	return e.Repo.MarkStageCompleted(ctx, rec.ID, models.StageTranscribe, map[string]interface{}{
		"language": result.Language,
		"model":    result.Model,
		"duration": result.Duration,
	})
}

func segmentsText(r providers.TranscriptionResult) string {
	lines := make([]string, len(r.Segments))
	for i, s := range r.Segments {
		lines[i] = s.Text
	}
	return strings.Join(lines, "\n")
}

func wordsText(r providers.TranscriptionResult) string {
	words := make([]string, len(r.Words))
	for i, w := range r.Words {
		words[i] = w.Word
	}
	return strings.Join(words, " ")
}

func writeJSONArtifact(store ArtifactStore, path string, v interface{}) error {
	w, err := store.Create(path)
	if err != nil {
		return fmt.Errorf("executors: creating %s: %w", path, err)
	}
	defer w.Close()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("executors: writing %s: %w", path, err)
	}
	return nil
}

func writeTextArtifact(store ArtifactStore, path, text string) error {
	w, err := store.Create(path)
	if err != nil {
		return fmt.Errorf("executors: creating %s: %w", path, err)
	}
	defer w.Close()
	if _, err := w.Write([]byte(text)); err != nil {
		return fmt.Errorf("executors: writing %s: %w", path, err)
	}
	return nil
}
