package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/pipeline"
	"github.com/meetcast/core/internal/quota"
	"github.com/meetcast/core/internal/scheduler"
	"github.com/meetcast/core/internal/sourcesync"
	"github.com/meetcast/core/internal/storagepg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	recordings map[string]*models.Recording
	userConfig map[string]interface{}
	templates  map[string]*models.RecordingTemplate
	jobs       map[string]*models.AutomationJob
	tasks      map[string]*models.TaskRecord

	paused, resumed  []string
	resetIDs         []string
	resetCleared     []bool
	clearedStages    []models.StageType
	deletedIDs       []string
	restoredIDs      []string
	createdTemplates []models.MatchingRules
	statusWrites     map[string]models.RecordingStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		recordings:   map[string]*models.Recording{},
		userConfig:   map[string]interface{}{},
		templates:    map[string]*models.RecordingTemplate{},
		jobs:         map[string]*models.AutomationJob{},
		tasks:        map[string]*models.TaskRecord{},
		statusWrites: map[string]models.RecordingStatus{},
	}
}

func (f *fakeRepo) GetByID(ctx context.Context, userID, rid string) (*models.Recording, error) {
	rec, ok := f.recordings[rid]
	if !ok {
		return nil, assertError("not found")
	}
	return rec, nil
}

func (f *fakeRepo) ListByUser(ctx context.Context, userID string, fl storagepg.ListFilters, p storagepg.Pagination) ([]*models.Recording, error) {
	var out []*models.Recording
	for _, r := range f.recordings {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRepo) SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error {
	f.statusWrites[rid] = s
	return nil
}

func (f *fakeRepo) Pause(ctx context.Context, userID, rid string) error {
	f.paused = append(f.paused, rid)
	return nil
}

func (f *fakeRepo) Resume(ctx context.Context, userID, rid string) error {
	f.resumed = append(f.resumed, rid)
	return nil
}

func (f *fakeRepo) ResetRecording(ctx context.Context, userID, rid string, clearArtifacts bool) error {
	f.resetIDs = append(f.resetIDs, rid)
	f.resetCleared = append(f.resetCleared, clearArtifacts)
	return nil
}

func (f *fakeRepo) ClearStageFailure(ctx context.Context, rid string, stageType models.StageType) error {
	f.clearedStages = append(f.clearedStages, stageType)
	return nil
}

func (f *fakeRepo) SoftDelete(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error {
	f.deletedIDs = append(f.deletedIDs, rec.ID)
	return nil
}

func (f *fakeRepo) Restore(ctx context.Context, rec *models.Recording, autoExpireDays int) error {
	f.restoredIDs = append(f.restoredIDs, rec.ID)
	return nil
}

func (f *fakeRepo) GetUserConfig(ctx context.Context, userID string) (map[string]interface{}, error) {
	return f.userConfig, nil
}

func (f *fakeRepo) GetTemplateByID(ctx context.Context, userID, templateID string) (*models.RecordingTemplate, error) {
	t, ok := f.templates[templateID]
	if !ok {
		return nil, assertError("template not found")
	}
	return t, nil
}

func (f *fakeRepo) CreateTemplate(ctx context.Context, userID, name string, rules models.MatchingRules, processingCfg, metadataCfg, outputCfg map[string]interface{}) (*models.RecordingTemplate, error) {
	f.createdTemplates = append(f.createdTemplates, rules)
	return &models.RecordingTemplate{ID: "new-template", UserID: userID, Name: name, MatchingRules: rules}, nil
}

func (f *fakeRepo) GetAutomationJobByID(ctx context.Context, userID, jobID string) (*models.AutomationJob, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, assertError("job not found")
	}
	return j, nil
}

func (f *fakeRepo) CreateTaskRecord(ctx context.Context, taskID, userID, kind, recordingID string) error {
	f.tasks[taskID] = &models.TaskRecord{ID: taskID, UserID: userID, Kind: kind, RecordingID: recordingID, Status: "queued"}
	return nil
}

func (f *fakeRepo) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	if t, ok := f.tasks[taskID]; ok {
		t.Status = status
	}
	return nil
}

func (f *fakeRepo) GetTaskRecord(ctx context.Context, userID, taskID string) (*models.TaskRecord, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, assertError("task not found")
	}
	return t, nil
}

func (f *fakeRepo) CancelTaskRecord(ctx context.Context, userID, taskID string) error {
	t, ok := f.tasks[taskID]
	if !ok {
		return assertError("task not found")
	}
	t.Status = "cancelled"
	return nil
}

type fakeSyncer struct {
	oneResult, allResult sourcesync.Result
	err                  error
	oneCalls             []string
	allCalled            bool
}

func (f *fakeSyncer) SyncOne(ctx context.Context, userID, sourceID string, from, to time.Time) (sourcesync.Result, error) {
	f.oneCalls = append(f.oneCalls, sourceID)
	return f.oneResult, f.err
}

func (f *fakeSyncer) SyncAll(ctx context.Context, userID string, from, to time.Time) (sourcesync.Result, error) {
	f.allCalled = true
	return f.allResult, f.err
}

type fakePipeline struct {
	submitted       []pipeline.EnabledFlags
	submittedFrom   []pipeline.StepKind
	submitChainID   string
	submitErr       error
}

func (f *fakePipeline) Submit(ctx context.Context, rec *models.Recording, flags pipeline.EnabledFlags) (string, error) {
	f.submitted = append(f.submitted, flags)
	return f.submitChainID, f.submitErr
}

func (f *fakePipeline) SubmitFromStep(ctx context.Context, rec *models.Recording, flags pipeline.EnabledFlags, from pipeline.StepKind) (string, error) {
	f.submitted = append(f.submitted, flags)
	f.submittedFrom = append(f.submittedFrom, from)
	return f.submitChainID, f.submitErr
}

type fakeQuota struct {
	admitErr     error
	admitted     []string
	recorded     []string
	status       quota.Status
}

func (f *fakeQuota) Admit(ctx context.Context, userID string) error {
	f.admitted = append(f.admitted, userID)
	return f.admitErr
}

func (f *fakeQuota) RecordAdmission(ctx context.Context, userID string) error {
	f.recorded = append(f.recorded, userID)
	return nil
}

func (f *fakeQuota) Status(ctx context.Context, userID string) (quota.Status, error) {
	return f.status, nil
}

type fakeScheduler struct {
	result   scheduler.RunResult
	err      error
	gotJobID string
	gotDry   bool
}

func (f *fakeScheduler) RunJob(ctx context.Context, job *models.AutomationJob, dryRun bool) (scheduler.RunResult, error) {
	f.gotJobID = job.ID
	f.gotDry = dryRun
	return f.result, f.err
}

func TestSubmitSkipsBlankRecording(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1", BlankRecord: true}
	pipe := &fakePipeline{}
	q := &fakeQuota{}
	s := &Service{Repo: repo, Pipe: pipe, Quota: q}

	chainID, err := s.Submit(context.Background(), "user-1", "rec-1", nil)
	require.NoError(t, err)
	assert.Empty(t, chainID)
	assert.Equal(t, models.StatusSkipped, repo.statusWrites["rec-1"])
	assert.Empty(t, pipe.submitted)
	assert.Empty(t, q.admitted)
}

func TestSubmitRejectsWhenQuotaDenies(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1"}
	pipe := &fakePipeline{}
	q := &fakeQuota{admitErr: assertError("quota exceeded")}
	s := &Service{Repo: repo, Pipe: pipe, Quota: q}

	_, err := s.Submit(context.Background(), "user-1", "rec-1", nil)
	require.Error(t, err)
	assert.Empty(t, pipe.submitted)
}

func TestSubmitResolvesRuntimeTemplateAndSubmits(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1", Status: models.StatusDownloaded}
	repo.templates["runtime-1"] = &models.RecordingTemplate{
		ID: "runtime-1",
		ProcessingConfig: map[string]interface{}{"trimming": map[string]interface{}{"enabled": true}},
	}
	pipe := &fakePipeline{submitChainID: "chain-1"}
	q := &fakeQuota{}
	s := &Service{Repo: repo, Pipe: pipe, Quota: q}

	chainID, err := s.Submit(context.Background(), "user-1", "rec-1", map[string]interface{}{"runtime_template_id": "runtime-1"})
	require.NoError(t, err)
	assert.Equal(t, "chain-1", chainID)
	require.Len(t, pipe.submitted, 1)
	assert.True(t, pipe.submitted[0].Trim)
	assert.Equal(t, []string{"user-1"}, q.recorded)
}

func TestRecordingsPauseResume(t *testing.T) {
	repo := newFakeRepo()
	s := &Service{Repo: repo}

	require.NoError(t, s.RecordingsPause(context.Background(), "user-1", "rec-1"))
	require.NoError(t, s.RecordingsResume(context.Background(), "user-1", "rec-1"))
	assert.Equal(t, []string{"rec-1"}, repo.paused)
	assert.Equal(t, []string{"rec-1"}, repo.resumed)
}

func TestRecordingsResetClearsArtifactsUnlessPreserved(t *testing.T) {
	repo := newFakeRepo()
	s := &Service{Repo: repo}

	require.NoError(t, s.RecordingsReset(context.Background(), "user-1", "rec-1", true))
	require.NoError(t, s.RecordingsReset(context.Background(), "user-1", "rec-1", false))
	assert.Equal(t, []bool{false, true}, repo.resetCleared)
	assert.Equal(t, models.StatusInitialized, repo.statusWrites["rec-1"])
}

func TestRecordingsRetryStageClearsMatchingFailureAndResubmits(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{
		ID: "rec-1", UserID: "user-1", Status: models.StatusDownloaded,
		Failed: true, FailedAtStage: "trim",
	}
	pipe := &fakePipeline{submitChainID: "chain-2"}
	s := &Service{Repo: repo, Pipe: pipe}

	chainID, err := s.RecordingsRetryStage(context.Background(), "user-1", "rec-1", "trim")
	require.NoError(t, err)
	assert.Equal(t, "chain-2", chainID)
	assert.Equal(t, []models.StageType{models.StageTrim}, repo.clearedStages)
	assert.Equal(t, []string{"rec-1"}, repo.resetIDs)
	require.Len(t, pipe.submittedFrom, 1)
	assert.Equal(t, pipeline.StepTrim, pipe.submittedFrom[0])
}

func TestRecordingsRetryStageLeavesRecordingFailedFlagWhenStageMismatched(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{
		ID: "rec-1", UserID: "user-1",
		Failed: true, FailedAtStage: string(models.StageTranscribe),
	}
	pipe := &fakePipeline{}
	s := &Service{Repo: repo, Pipe: pipe}

	_, err := s.RecordingsRetryStage(context.Background(), "user-1", "rec-1", "trim")
	require.NoError(t, err)
	assert.Empty(t, repo.resetIDs)
}

func TestRecordingsRetryStageRejectsUnknownStage(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1"}
	s := &Service{Repo: repo}

	_, err := s.RecordingsRetryStage(context.Background(), "user-1", "rec-1", "bogus")
	require.Error(t, err)
}

func TestRecordingsDeleteAndRestore(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1"}
	s := &Service{Repo: repo}

	require.NoError(t, s.RecordingsDelete(context.Background(), "user-1", "rec-1"))
	require.NoError(t, s.RecordingsRestore(context.Background(), "user-1", "rec-1"))
	assert.Equal(t, []string{"rec-1"}, repo.deletedIDs)
	assert.Equal(t, []string{"rec-1"}, repo.restoredIDs)
}

func TestSourcesSyncAggregatesAcrossExplicitIDs(t *testing.T) {
	repo := newFakeRepo()
	sync := &fakeSyncer{oneResult: sourcesync.Result{SourcesSynced: 1, EntriesSeen: 2, Mapped: 2}}
	s := &Service{Repo: repo, Sync: sync}

	result, err := s.SourcesSync(context.Background(), "user-1", []string{"src-1", "src-2"}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SourcesSynced)
	assert.Equal(t, 4, result.EntriesSeen)
	assert.Equal(t, []string{"src-1", "src-2"}, sync.oneCalls)
	require.Len(t, repo.tasks, 1)
	for _, task := range repo.tasks {
		assert.Equal(t, "succeeded", task.Status)
	}
}

func TestSourcesSyncWithNoIDsRunsSyncAll(t *testing.T) {
	repo := newFakeRepo()
	sync := &fakeSyncer{allResult: sourcesync.Result{SourcesSynced: 3}}
	s := &Service{Repo: repo, Sync: sync}

	result, err := s.SourcesSync(context.Background(), "user-1", nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, sync.allCalled)
	assert.Equal(t, 3, result.SourcesSynced)
}

func TestTemplatesFromRecordingDefaultsToExactMatch(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1", DisplayName: "Weekly Standup"}
	s := &Service{Repo: repo}

	tmpl, err := s.TemplatesFromRecording(context.Background(), "user-1", "rec-1", "Standup template", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Weekly Standup"}, tmpl.MatchingRules.ExactMatches)
}

func TestTemplatesFromRecordingUsesPatternWhenGiven(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1", DisplayName: "Weekly Standup"}
	s := &Service{Repo: repo}
	pattern := "^Weekly.*"

	tmpl, err := s.TemplatesFromRecording(context.Background(), "user-1", "rec-1", "Standup template", &pattern, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{pattern}, tmpl.MatchingRules.IncludePatterns)
}

func TestAutomationRunAndDryRunDelegateToEvaluator(t *testing.T) {
	repo := newFakeRepo()
	repo.jobs["job-1"] = &models.AutomationJob{ID: "job-1", UserID: "user-1"}
	sched := &fakeScheduler{result: scheduler.RunResult{Submitted: 2}}
	s := &Service{Repo: repo, Sched: sched}

	_, err := s.AutomationRun(context.Background(), "user-1", "job-1")
	require.NoError(t, err)
	assert.False(t, sched.gotDry)

	_, err = s.AutomationDryRun(context.Background(), "user-1", "job-1")
	require.NoError(t, err)
	assert.True(t, sched.gotDry)
}

func TestUploadsScheduleSubmitsUploadOnlyChain(t *testing.T) {
	repo := newFakeRepo()
	repo.recordings["rec-1"] = &models.Recording{ID: "rec-1", UserID: "user-1"}
	pipe := &fakePipeline{submitChainID: "chain-3"}
	q := &fakeQuota{}
	s := &Service{Repo: repo, Pipe: pipe, Quota: q}

	chainID, err := s.UploadsSchedule(context.Background(), "user-1", "rec-1", "youtube", nil)
	require.NoError(t, err)
	assert.Equal(t, "chain-3", chainID)
	require.Len(t, pipe.submitted, 1)
	assert.True(t, pipe.submitted[0].Upload)
	assert.False(t, pipe.submitted[0].Download)
	assert.Equal(t, []string{"youtube"}, pipe.submitted[0].Platforms)
}

func TestTasksStatusAndCancelDelegateToRepository(t *testing.T) {
	repo := newFakeRepo()
	repo.tasks["task-1"] = &models.TaskRecord{ID: "task-1", UserID: "user-1", Status: "queued"}
	s := &Service{Repo: repo}

	task, err := s.TasksStatus(context.Background(), "user-1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "queued", task.Status)

	require.NoError(t, s.TasksCancel(context.Background(), "user-1", "task-1"))
	assert.Equal(t, "cancelled", repo.tasks["task-1"].Status)
}

type assertError string

func (e assertError) Error() string { return string(e) }
