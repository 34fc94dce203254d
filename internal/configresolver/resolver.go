// Package configresolver produces the effective per-step configuration for
// one recording by deep-merging an ordered chain of layers (spec.md §4.3),
// then decoding the merged tree into a typed EffectiveConfig via
// mitchellh/mapstructure -- the "tagged tree with a fixed top-level schema"
// called for in spec.md's Design Notes (trimming, transcription, download,
// upload, metadata, retention, platforms).
package configresolver

import (
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Tree is the untyped merge representation. Keeping the merge itself
// untyped lets it stay generic over arbitrary template JSON; only the
// final result is decoded into a typed view.
type Tree = map[string]interface{}

// Layers is the ordered chain from spec.md §4.3, lowest precedence first.
type Layers struct {
	UserConfig        Tree
	TemplateProcessing Tree
	TemplateMetadata  Tree
	TemplateOutput    Tree
	RuntimeTemplate   Tree
	RecordingPrefs    Tree
	ManualOverride    Tree
}

// TrimmingConfig controls the trim step; field names follow the
// parameters spec.md §4.9.2 names explicitly.
type TrimmingConfig struct {
	Enabled               bool    `mapstructure:"enabled"`
	SilenceThresholdDBFS  float64 `mapstructure:"silence_threshold"`
	MinSilenceDurationSec float64 `mapstructure:"min_silence_duration"`
	PaddingBeforeSec      float64 `mapstructure:"padding_before"`
	PaddingAfterSec       float64 `mapstructure:"padding_after"`
}

// TranscriptionConfig controls the transcribe step.
type TranscriptionConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Language    string   `mapstructure:"language"`
	Provider    string   `mapstructure:"provider"`
	Vocabulary  []string `mapstructure:"vocabulary"`
	AllowErrors bool     `mapstructure:"allow_errors"`
}

// DownloadConfig controls the download step.
type DownloadConfig struct {
	MaxRetries    int `mapstructure:"max_retries"`
	TimeoutSec    int `mapstructure:"timeout_sec"`
}

// UploadConfig controls the upload step(s).
type UploadConfig struct {
	MaxRetries int  `mapstructure:"max_retries"`
	PauseGate  bool `mapstructure:"pause_gate"`
}

// MetadataConfig controls topic extraction / subtitle generation.
type MetadataConfig struct {
	ExtractTopics      bool   `mapstructure:"extract_topics"`
	GenerateSubtitles  bool   `mapstructure:"generate_subtitles"`
	TopicGranularity   string `mapstructure:"topic_granularity"`
}

// RetentionConfig controls soft/hard delete scheduling.
type RetentionConfig struct {
	SoftDeleteDays int `mapstructure:"soft_delete_days"`
	HardDeleteDays int `mapstructure:"hard_delete_days"`
	AutoExpireDays int `mapstructure:"auto_expire_days"`
}

// PlatformConfig is one entry of the platforms map, keyed by target type.
type PlatformConfig struct {
	CredentialID string                 `mapstructure:"credential_id"`
	PresetID     string                 `mapstructure:"preset_id"`
	Options      map[string]interface{} `mapstructure:"options"`
}

// EffectiveConfig is the typed view decoded from the merged Tree.
type EffectiveConfig struct {
	Trimming      TrimmingConfig            `mapstructure:"trimming"`
	Transcription TranscriptionConfig       `mapstructure:"transcription"`
	Download      DownloadConfig            `mapstructure:"download"`
	Upload        UploadConfig              `mapstructure:"upload"`
	Metadata      MetadataConfig            `mapstructure:"metadata"`
	Retention     RetentionConfig           `mapstructure:"retention"`
	Platforms     map[string]PlatformConfig `mapstructure:"platforms"`
}

// Resolve deep-merges l in precedence order, post-processes the result, and
// decodes it into an EffectiveConfig. When includeOutputConfig is true the
// merged output_config tree (template output merged with runtime template
// and manual override's "output" key) is returned as the second value.
func Resolve(l Layers, includeOutputConfig bool) (EffectiveConfig, Tree, error) {
	merged := Tree{}
	for _, layer := range []Tree{l.UserConfig, l.TemplateProcessing, l.RuntimeTemplate, l.RecordingPrefs, withoutRuntimeHint(l.ManualOverride)} {
		merged = Merge(merged, layer)
	}

	merged = postProcess(merged)

	var out EffectiveConfig
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, nil, err
	}
	if err := dec.Decode(merged); err != nil {
		return out, nil, err
	}

	var outputTree Tree
	if includeOutputConfig {
		outputTree = Tree{}
		for _, layer := range []Tree{l.TemplateOutput, l.RuntimeTemplate, manualOutputLayer(l.ManualOverride)} {
			outputTree = Merge(outputTree, layer)
		}
	}

	return out, outputTree, nil
}

func withoutRuntimeHint(manual Tree) Tree {
	if manual == nil {
		return nil
	}
	cp := make(Tree, len(manual))
	for k, v := range manual {
		if k == "runtime_template_id" {
			continue
		}
		cp[k] = v
	}
	return cp
}

func manualOutputLayer(manual Tree) Tree {
	if manual == nil {
		return nil
	}
	if v, ok := manual["output"]; ok {
		if m, ok := v.(Tree); ok {
			return m
		}
	}
	return nil
}

// Merge deep-merges override onto base: dicts merge recursively, lists and
// scalars are replaced wholesale. Neither argument is mutated; the result
// is always a fresh deep copy.
func Merge(base, override Tree) Tree {
	out := deepCopy(base)
	if out == nil {
		out = Tree{}
	}
	for k, v := range override {
		if nested, ok := v.(Tree); ok {
			if existing, ok := out[k].(Tree); ok {
				out[k] = Merge(existing, nested)
				continue
			}
			out[k] = deepCopy(nested)
			continue
		}
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopy(t Tree) Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case Tree:
		return deepCopy(val)
	case []interface{}:
		cp := make([]interface{}, len(val))
		for i, e := range val {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}

// postProcess applies spec.md §4.3's merge post-processing: flattening a
// nested processing_config subtree into the root, and
// deduplicating/trimming transcription_vocabulary into transcription.vocabulary.
// It returns the (possibly replaced) tree rather than mutating merged in
// place, since flattening processing_config must replace the map itself.
func postProcess(merged Tree) Tree {
	if nested, ok := merged["processing_config"].(Tree); ok {
		flattened := Merge(merged, nested)
		delete(flattened, "processing_config")
		merged = flattened
	}

	vocab := collectVocabulary(merged)
	if len(vocab) == 0 {
		return merged
	}
	transcription, ok := merged["transcription"].(Tree)
	if !ok {
		transcription = Tree{}
		merged["transcription"] = transcription
	}
	existing, _ := transcription["vocabulary"].([]interface{})
	combined := make([]string, 0, len(existing)+len(vocab))
	seen := map[string]bool{}
	for _, e := range existing {
		s := strings.TrimSpace(toString(e))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		combined = append(combined, s)
	}
	for _, w := range vocab {
		w = strings.TrimSpace(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		combined = append(combined, w)
	}
	out := make([]interface{}, len(combined))
	for i, s := range combined {
		out[i] = s
	}
	transcription["vocabulary"] = out
	return merged
}

func collectVocabulary(merged Tree) []string {
	raw, ok := merged["transcription_vocabulary"].([]interface{})
	if !ok {
		return nil
	}
	delete(merged, "transcription_vocabulary")
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, toString(v))
	}
	return out
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
