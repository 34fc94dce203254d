// Package scheduler implements the automation-job evaluator (spec.md
// §4.12): cron evaluation via robfig/cron/v3, one cron.Schedule parsed per
// AutomationJob.schedule in its declared timezone, next_run_at computed
// with cron.Schedule.Next -- grounded on the teacher's own single
// process-wide scheduling loop wiring style in main.go, generalized from a
// fixed interval ticker to cron.Schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/sourcesync"
	"github.com/meetcast/core/internal/template"
)

var defaultStatuses = []models.RecordingStatus{models.StatusInitialized}

// Repository is the narrow slice of internal/storagepg.Repository the
// evaluator needs.
type Repository interface {
	ListActiveAutomationJobs(ctx context.Context) ([]*models.AutomationJob, error)
	GetTemplateByID(ctx context.Context, userID, templateID string) (*models.RecordingTemplate, error)
	ListRecordingsForAutomation(ctx context.Context, userID string, statuses []models.RecordingStatus, since time.Time, excludeBlank bool) ([]*models.Recording, error)
	SetRecordingTemplate(ctx context.Context, rid, templateID string) error
	MarkRecordingSkipped(ctx context.Context, rid, reason string) error
	UpdateAutomationJobRun(ctx context.Context, jobID string, nextRunAt time.Time) error
}

// Syncer is the narrow slice of internal/sourcesync.Syncer the evaluator
// needs for step 3.
type Syncer interface {
	SyncAll(ctx context.Context, userID string, from, to time.Time) (sourcesync.Result, error)
}

// Submitter hands a matched, now-mapped recording to the pipeline
// (spec.md §4.8), carrying the job's processing_config as manual_override.
// Kept as an interface so the evaluator never needs to know how config
// layers and chain-building compose -- that wiring lives at the call site
// that owns internal/pipeline and internal/configresolver together.
type Submitter interface {
	Submit(ctx context.Context, userID, recordingID string, manualOverride map[string]interface{}) (string, error)
}

// Evaluator runs AutomationJob tasks (spec.md §4.12).
type Evaluator struct {
	Repo      Repository
	Sync      Syncer
	Submitter Submitter
	Now       func() time.Time
}

// RunResult reports what one job task did, for both the real run and the
// dry-run variant.
type RunResult struct {
	JobID       string
	Synced      sourcesync.Result
	Candidates  int
	Submitted   int
	Skipped     int
	Failed      int
}

// RunDueJobs evaluates every active AutomationJob and runs the ones whose
// next_run_at has passed.
func (e *Evaluator) RunDueJobs(ctx context.Context, dryRun bool) ([]RunResult, error) {
	jobs, err := e.Repo.ListActiveAutomationJobs(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var results []RunResult
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		result, err := e.RunJob(ctx, job, dryRun)
		if err != nil {
			logging.LogNoScope("automation job run failed", "job_id", job.ID, "err", err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// RunJob executes the six steps of spec.md §4.12 for one job. When dryRun
// is true, steps 1-5 run exactly as normal but step 5 counts candidates
// instead of submitting, and step 6 is skipped -- the same code path
// guarantees the two variants can never drift in matching semantics.
func (e *Evaluator) RunJob(ctx context.Context, job *models.AutomationJob, dryRun bool) (RunResult, error) {
	result := RunResult{JobID: job.ID}

	templates, err := e.loadTemplates(ctx, job)
	if err != nil {
		return result, err
	}
	if len(templates) == 0 {
		return result, fmt.Errorf("scheduler: job %s has no active, non-draft templates", job.ID)
	}

	now := e.now()
	since := now.AddDate(0, 0, -job.SyncDays)

	syncResult, err := e.Sync.SyncAll(ctx, job.UserID, since, now)
	if err != nil {
		return result, fmt.Errorf("scheduler: sync step for job %s: %w", job.ID, err)
	}
	result.Synced = syncResult

	statuses := job.Filters.Statuses
	if len(statuses) == 0 {
		statuses = defaultStatuses
	}
	candidates, err := e.Repo.ListRecordingsForAutomation(ctx, job.UserID, statuses, since, job.Filters.ExcludeBlank)
	if err != nil {
		return result, fmt.Errorf("scheduler: listing candidates for job %s: %w", job.ID, err)
	}
	result.Candidates = len(candidates)

	for _, rec := range candidates {
		sourceID := ""
		if rec.InputSourceID != nil {
			sourceID = *rec.InputSourceID
		}
		match := template.Find(rec.DisplayName, sourceID, templates)
		if match == nil {
			if !dryRun {
				if err := e.Repo.MarkRecordingSkipped(ctx, rec.ID, "No matching template"); err != nil {
					logging.LogNoScope("marking automation candidate skipped failed", "recording_id", rec.ID, "err", err)
					result.Failed++
					continue
				}
			}
			result.Skipped++
			continue
		}

		if dryRun {
			result.Submitted++
			continue
		}

		if err := e.Repo.SetRecordingTemplate(ctx, rec.ID, match.Template.ID); err != nil {
			logging.LogNoScope("binding automation candidate template failed", "recording_id", rec.ID, "err", err)
			result.Failed++
			continue
		}
		if _, err := e.Submitter.Submit(ctx, job.UserID, rec.ID, job.ProcessingConfig); err != nil {
			logging.LogNoScope("submitting automation candidate failed", "recording_id", rec.ID, "err", err)
			result.Failed++
			continue
		}
		result.Submitted++
	}

	if !dryRun {
		next, err := NextRunAt(job.Schedule, job.Timezone, now)
		if err != nil {
			return result, fmt.Errorf("scheduler: computing next_run_at for job %s: %w", job.ID, err)
		}
		if err := e.Repo.UpdateAutomationJobRun(ctx, job.ID, next); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (e *Evaluator) loadTemplates(ctx context.Context, job *models.AutomationJob) ([]models.RecordingTemplate, error) {
	templates := make([]models.RecordingTemplate, 0, len(job.TemplateIDs))
	for _, id := range job.TemplateIDs {
		t, err := e.Repo.GetTemplateByID(ctx, job.UserID, id)
		if err != nil {
			logging.LogNoScope("automation job references missing template", "job_id", job.ID, "template_id", id, "err", err)
			continue
		}
		templates = append(templates, *t)
	}
	return templates, nil
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NextRunAt parses schedule as a standard 5-field cron expression in the
// named timezone and returns the next firing time after from.
func NextRunAt(schedule, timezone string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: loading timezone %q: %w", timezone, err)
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parsing schedule %q: %w", schedule, err)
	}
	return sched.Next(from.In(loc)), nil
}
