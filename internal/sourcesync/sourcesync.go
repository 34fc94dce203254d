// Package sourcesync implements per-source enumeration and recording
// upsert (spec.md §4.10). Talking to any actual meeting provider, URL
// list, or cloud-folder backend is explicitly out of scope for this
// module (matching the already-established internal/providers pattern),
// so Enumerator is kept as a thin interface keyed by models.SourceKind.
package sourcesync

import (
	"context"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/config"
	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/template"
)

// Entry is one enumerated item from a source: a meeting-provider
// recording, an expanded URL, or a cloud-folder file.
type Entry struct {
	SourceKey       string
	DisplayName     string
	StartTime       time.Time
	DurationSec     float64
	SizeBytes       int64
	StillProcessing bool
	DownloadURL     string
	DownloadToken   string
	Passcode        string
	Raw             map[string]interface{}
}

// Enumerator lists everything new or updated for one input source, within
// [from, to]. Partial per-entry failures (e.g. one master-account
// sub-user-email failing) are the enumerator's own concern to tolerate
// and log -- Sync only ever sees the entries that succeeded.
type Enumerator interface {
	Enumerate(ctx context.Context, src *models.InputSource, from, to time.Time) ([]Entry, error)
}

// Repository is the narrow slice of internal/storagepg.Repository Sync
// needs.
type Repository interface {
	ListActiveInputSources(ctx context.Context, userID, sourceID string) ([]*models.InputSource, error)
	ListActiveTemplates(ctx context.Context, userID string) ([]models.RecordingTemplate, error)
	CreateOrUpdate(ctx context.Context, userID string, src *models.InputSource, sourceKey string, startTime time.Time, mapped, sourceComplete, blank bool, fields map[string]interface{}) (*models.Recording, error)
	SetSourceLastSyncAt(ctx context.Context, sourceID string) error
}

// BlankThresholds configures when an entry is treated as a blank
// recording (spec.md §4.10 step 3): duration or file size under the
// threshold, but only once the provider reports it as no longer
// processing.
type BlankThresholds struct {
	MinDurationSec float64
	MinSizeBytes   int64
}

// Result aggregates counts across one or more sources, the shape spec.md
// §4.10's batch-sync entry point returns.
type Result struct {
	SourcesSynced int
	EntriesSeen   int
	Mapped        int
	Unmapped      int
	Failed        int
}

func (a *Result) add(b Result) {
	a.SourcesSynced += b.SourcesSynced
	a.EntriesSeen += b.EntriesSeen
	a.Mapped += b.Mapped
	a.Unmapped += b.Unmapped
	a.Failed += b.Failed
}

// Syncer drives spec.md §4.10 over a registry of per-kind enumerators.
type Syncer struct {
	Repo        Repository
	Enumerators map[models.SourceKind]Enumerator
	Thresholds  BlankThresholds
	Clock       config.TimestampGenerator
}

// SyncOne runs the single-source job (spec.md §4.10's "single-source
// job" entry point): enumerate sourceID, upsert every entry, stamp
// last_sync_at.
func (s *Syncer) SyncOne(ctx context.Context, userID, sourceID string, from, to time.Time) (Result, error) {
	sources, err := s.Repo.ListActiveInputSources(ctx, userID, sourceID)
	if err != nil {
		return Result{}, err
	}
	if len(sources) == 0 {
		return Result{}, fmt.Errorf("sourcesync: source %s not found or inactive for user %s", sourceID, userID)
	}
	return s.syncSources(ctx, userID, sources, from, to)
}

// SyncAll runs the batch job (spec.md §4.10's "batch job" entry point):
// every active source for userID, same per-source logic, aggregated
// counts.
func (s *Syncer) SyncAll(ctx context.Context, userID string, from, to time.Time) (Result, error) {
	sources, err := s.Repo.ListActiveInputSources(ctx, userID, "")
	if err != nil {
		return Result{}, err
	}
	return s.syncSources(ctx, userID, sources, from, to)
}

func (s *Syncer) syncSources(ctx context.Context, userID string, sources []*models.InputSource, from, to time.Time) (Result, error) {
	templates, err := s.Repo.ListActiveTemplates(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	var total Result
	for _, src := range sources {
		r, err := s.syncOneSource(ctx, userID, src, templates, from, to)
		if err != nil {
			logging.LogNoScope("source sync failed", "source_id", src.ID, "err", err)
			total.Failed++
			continue
		}
		total.add(r)
	}
	return total, nil
}

func (s *Syncer) syncOneSource(ctx context.Context, userID string, src *models.InputSource, templates []models.RecordingTemplate, from, to time.Time) (Result, error) {
	enumerator, ok := s.Enumerators[src.Kind]
	if !ok {
		return Result{}, fmt.Errorf("sourcesync: no enumerator registered for kind %q", src.Kind)
	}

	entries, err := enumerator.Enumerate(ctx, src, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("sourcesync: enumerating source %s: %w", src.ID, err)
	}

	var result Result
	result.SourcesSynced = 1
	for _, e := range entries {
		result.EntriesSeen++
		blank := isBlank(e, s.Thresholds)

		match := template.Find(e.DisplayName, src.ID, templates)
		mapped := match != nil

		fields := map[string]interface{}{
			"display_name":     e.DisplayName,
			"duration_sec":     e.DurationSec,
			"size_bytes":       e.SizeBytes,
			"download_url":     e.DownloadURL,
			"download_token":   e.DownloadToken,
			"passcode":         e.Passcode,
			"still_processing": e.StillProcessing,
			"raw":              e.Raw,
		}
		if mapped {
			fields["template_id"] = match.Template.ID
		}

		sourceComplete := !e.StillProcessing
		rec, err := s.Repo.CreateOrUpdate(ctx, userID, src, e.SourceKey, e.StartTime, mapped, sourceComplete, blank, fields)
		if err != nil {
			logging.LogNoScope("upserting synced entry failed", "source_id", src.ID, "source_key", e.SourceKey, "err", err)
			result.Failed++
			continue
		}
		if rec.IsMapped {
			result.Mapped++
		} else {
			result.Unmapped++
		}
	}

	if err := s.Repo.SetSourceLastSyncAt(ctx, src.ID); err != nil {
		return result, err
	}
	return result, nil
}

// isBlank implements spec.md §4.10 step 3's blank_record rule: under
// threshold on duration or size, but only once the provider is done
// processing -- a still-processing entry never counts as blank, since its
// eventual size/duration isn't known yet.
func isBlank(e Entry, t BlankThresholds) bool {
	if e.StillProcessing {
		return false
	}
	if t.MinDurationSec > 0 && e.DurationSec < t.MinDurationSec {
		return true
	}
	if t.MinSizeBytes > 0 && e.SizeBytes < t.MinSizeBytes {
		return true
	}
	return false
}
