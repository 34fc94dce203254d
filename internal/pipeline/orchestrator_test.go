package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/queue"
)

type fakeRepo struct {
	mu          sync.Mutex
	recomputed  []string
	joinCounts  map[string]int
	joinSize    map[string]int
	statusCalls []models.RecordingStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{joinCounts: map[string]int{}, joinSize: map[string]int{}}
}

func (f *fakeRepo) GetByID(ctx context.Context, userID, rid string) (*models.Recording, error) {
	return &models.Recording{ID: rid, UserID: userID}, nil
}

func (f *fakeRepo) SetRecordingStatus(ctx context.Context, rid string, s models.RecordingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, s)
	return nil
}

func (f *fakeRepo) JoinArrive(ctx context.Context, rid, groupKey string, groupSize int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := rid + "/" + groupKey
	f.joinCounts[key]++
	f.joinSize[key] = groupSize
	return f.joinCounts[key] >= groupSize, nil
}

func (f *fakeRepo) RecomputeStatus(ctx context.Context, rid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recomputed = append(f.recomputed, rid)
	return nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []queue.Name
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, name queue.Name, t queue.Task, priority uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, name)
	return nil
}

func TestSubmitEnqueuesOnlyFirstSequentialStep(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)

	rec := &models.Recording{ID: "r1", UserID: "u1"}
	flags := EnabledFlags{Download: true, Trim: true, Transcribe: true}

	chainID, err := o.Submit(context.Background(), rec, flags)
	require.NoError(t, err)
	assert.NotEmpty(t, chainID)
	assert.Equal(t, []queue.Name{queue.Downloads}, enq.tasks)
}

func TestSubmitWithNoSequentialStepsEnqueuesParallelGroup(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)

	rec := &models.Recording{ID: "r1", UserID: "u1"}
	flags := EnabledFlags{Topics: true, Subtitles: true}

	_, err := o.Submit(context.Background(), rec, flags)
	require.NoError(t, err)
	assert.ElementsMatch(t, []queue.Name{queue.AsyncOperations, queue.AsyncOperations}, enq.tasks)
}

func TestCompleteStepAdvancesSequentialChain(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)

	rec := &models.Recording{ID: "r1", UserID: "u1"}
	flags := EnabledFlags{Download: true, Trim: true}
	chainID, err := o.Submit(context.Background(), rec, flags)
	require.NoError(t, err)
	require.Equal(t, []queue.Name{queue.Downloads}, enq.tasks)

	err = o.CompleteStep(context.Background(), rec, chainID, StepDownload)
	require.NoError(t, err)
	assert.Equal(t, []queue.Name{queue.Downloads, queue.ProcessingCPU}, enq.tasks)
}

func TestCompleteStepOnlyLastParallelArrivalRecomputesStatus(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)

	rec := &models.Recording{ID: "r1", UserID: "u1"}
	flags := EnabledFlags{Topics: true, Subtitles: true}
	chainID, err := o.Submit(context.Background(), rec, flags)
	require.NoError(t, err)

	err = o.CompleteStep(context.Background(), rec, chainID, StepExtractTopics)
	require.NoError(t, err)
	assert.Empty(t, repo.recomputed, "first arrival must not recompute status")

	err = o.CompleteStep(context.Background(), rec, chainID, StepGenerateSubtitles)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, repo.recomputed, "last arrival must recompute status exactly once")
}

func TestCompleteStepEnqueuesUploadLauncherAfterLastSequentialStep(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)

	rec := &models.Recording{ID: "r1", UserID: "u1"}
	flags := EnabledFlags{Download: true, Upload: true, Platforms: []string{"youtube"}}
	chainID, err := o.Submit(context.Background(), rec, flags)
	require.NoError(t, err)

	err = o.CompleteStep(context.Background(), rec, chainID, StepDownload)
	require.NoError(t, err)
	assert.Equal(t, []queue.Name{queue.Downloads, queue.AsyncOperations}, enq.tasks)
}

func TestCompleteStepUnknownChainIDReturnsNotFound(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	o := New(repo, enq)
	rec := &models.Recording{ID: "r1", UserID: "u1"}

	err := o.CompleteStep(context.Background(), rec, "does-not-exist", StepDownload)
	assert.Error(t, err)
}

func TestRunParallelGroupInProcessRunsAllMembers(t *testing.T) {
	rec := &models.Recording{ID: "r1"}
	chain := Build(rec, EnabledFlags{Topics: true, Subtitles: true})

	var mu sync.Mutex
	var ran []StepKind
	members := []func(context.Context, Step) error{
		func(ctx context.Context, s Step) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, s.Kind)
			return nil
		},
		func(ctx context.Context, s Step) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, s.Kind)
			return nil
		},
	}

	err := RunParallelGroupInProcess(context.Background(), chain, members)
	require.NoError(t, err)
	assert.ElementsMatch(t, []StepKind{StepExtractTopics, StepGenerateSubtitles}, ran)
}

func TestRunParallelGroupInProcessMismatchedMemberCountErrors(t *testing.T) {
	rec := &models.Recording{ID: "r1"}
	chain := Build(rec, EnabledFlags{Topics: true, Subtitles: true})
	err := RunParallelGroupInProcess(context.Background(), chain, nil)
	assert.Error(t, err)
}
