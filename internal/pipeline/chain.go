// Package pipeline assembles and submits the per-recording processing DAG
// (spec.md §4.8). It never blocks waiting for a step to finish -- building
// the chain and handing steps to internal/queue is the whole job.
package pipeline

import (
	"github.com/meetcast/core/internal/configresolver"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/queue"
)

// StepKind names one node of the chain.
type StepKind string

const (
	StepDownload          StepKind = "download"
	StepTrim              StepKind = "trim"
	StepTranscribe        StepKind = "transcribe"
	StepExtractTopics     StepKind = "extract_topics"
	StepGenerateSubtitles StepKind = "generate_subtitles"
	StepUploadLauncher    StepKind = "upload_launcher"
	StepUpload            StepKind = "upload"
)

// queueFor routes each step kind to its queue per spec.md §4.7.
var queueFor = map[StepKind]queue.Name{
	StepDownload:          queue.Downloads,
	StepTrim:              queue.ProcessingCPU,
	StepTranscribe:        queue.AsyncOperations,
	StepExtractTopics:     queue.AsyncOperations,
	StepGenerateSubtitles: queue.AsyncOperations,
	StepUploadLauncher:    queue.AsyncOperations,
	StepUpload:            queue.Uploads,
}

// Step is one node of the assembled chain.
type Step struct {
	Kind  StepKind
	Queue queue.Name
	// JoinGroup is non-empty for steps that are members of a fan-out group;
	// the orchestrator increments a join counter on completion and only the
	// last arrival triggers the next phase.
	JoinGroup string
	// Platforms is only set on StepUploadLauncher.
	Platforms []string
}

// Chain is the assembled DAG for one recording: a sequential prefix, an
// optional parallel group, and an optional upload launcher tail.
type Chain struct {
	RecordingID string
	Sequential  []Step
	Parallel    []Step
	UploadStep  *Step
}

// EnabledFlags mirrors spec.md §4.8 step 3.
type EnabledFlags struct {
	Download  bool
	Trim      bool
	Transcribe bool
	Topics     bool
	Subtitles  bool
	Upload     bool
	Platforms  []string
}

const joinGroupTranscriptionFanout = "transcription_fanout"

// DeriveEnabledFlags reads the resolved config per spec.md §4.8 step 3.
// alreadyDownloaded short-circuits download_enabled regardless of config.
func DeriveEnabledFlags(cfg configresolver.EffectiveConfig, outputCfg configresolver.Tree, alreadyDownloaded bool, presetPlatforms []string) EnabledFlags {
	platforms := defaultPlatforms(outputCfg)
	if len(platforms) == 0 {
		platforms = presetPlatforms
	}
	autoUpload, _ := outputCfg["auto_upload"].(bool)
	return EnabledFlags{
		Download:   !alreadyDownloaded,
		Trim:       cfg.Trimming.Enabled,
		Transcribe: cfg.Transcription.Enabled,
		Topics:     cfg.Metadata.ExtractTopics,
		Subtitles:  cfg.Metadata.GenerateSubtitles,
		Upload:     autoUpload,
		Platforms:  platforms,
	}
}

func defaultPlatforms(outputCfg configresolver.Tree) []string {
	if outputCfg == nil {
		return nil
	}
	raw, ok := outputCfg["default_platforms"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Build assembles the chain for rec per spec.md §4.8 step 4. It returns an
// empty Chain (no error) for a blank record -- callers must check
// rec.BlankRecord themselves and short-circuit to SKIPPED before calling
// Build, per spec.md §4.8 step 2; Build does not persist anything.
func Build(rec *models.Recording, flags EnabledFlags) *Chain {
	c := &Chain{RecordingID: rec.ID}

	if flags.Download {
		c.Sequential = append(c.Sequential, newStep(StepDownload))
	}
	if flags.Trim {
		c.Sequential = append(c.Sequential, newStep(StepTrim))
	}
	if flags.Transcribe {
		c.Sequential = append(c.Sequential, newStep(StepTranscribe))
	}

	if flags.Topics {
		s := newStep(StepExtractTopics)
		s.JoinGroup = joinGroupTranscriptionFanout
		c.Parallel = append(c.Parallel, s)
	}
	if flags.Subtitles {
		s := newStep(StepGenerateSubtitles)
		s.JoinGroup = joinGroupTranscriptionFanout
		c.Parallel = append(c.Parallel, s)
	}

	if flags.Upload && len(flags.Platforms) > 0 {
		s := newStep(StepUploadLauncher)
		s.Platforms = flags.Platforms
		c.UploadStep = &s
	}

	return c
}

func newStep(kind StepKind) Step {
	return Step{Kind: kind, Queue: queueFor[kind]}
}

// JoinSize is the number of members in the transcription fan-out group for
// this chain (0, 1 or 2 -- extract_topics and/or generate_subtitles).
func (c *Chain) JoinSize() int {
	return len(c.Parallel)
}
