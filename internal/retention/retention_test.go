package retention

import (
	"context"
	"testing"
	"time"

	"github.com/meetcast/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	recordings    map[string]*models.Recording
	expiring      []RecordingRef
	softDueRefs   []RecordingRef
	hardDueRefs   []RecordingRef
	expiredTokens int64

	autoExpired []string
	cleaned     []string
	deleted     []string
	cleanupErr  error
}

func (f *fakeRepo) GetByID(ctx context.Context, userID, rid string) (*models.Recording, error) {
	rec, ok := f.recordings[rid]
	if !ok {
		return nil, assertError("not found")
	}
	return rec, nil
}

func (f *fakeRepo) AutoExpire(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error {
	f.autoExpired = append(f.autoExpired, rec.ID)
	return nil
}

func (f *fakeRepo) CleanupRecordingFiles(ctx context.Context, rid, userID string, freedBytes int64) (int64, error) {
	if f.cleanupErr != nil {
		return 0, f.cleanupErr
	}
	f.cleaned = append(f.cleaned, rid)
	return freedBytes, nil
}

func (f *fakeRepo) Delete(ctx context.Context, rec *models.Recording, freedBytes int64) error {
	f.deleted = append(f.deleted, rec.ID)
	return nil
}

func (f *fakeRepo) ListExpiringRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return f.expiring, nil
}

func (f *fakeRepo) ListSoftDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return f.softDueRefs, nil
}

func (f *fakeRepo) ListHardDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return f.hardDueRefs, nil
}

func (f *fakeRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return f.expiredTokens, nil
}

type fakeFileStore struct {
	deletedPaths []string
}

func (f *fakeFileStore) Delete(path string) error {
	f.deletedPaths = append(f.deletedPaths, path)
	return nil
}

type fakeQuota struct {
	decremented map[string]int64
}

func (f *fakeQuota) DecrementStorageBytes(ctx context.Context, userID string, freedBytes int64) error {
	if f.decremented == nil {
		f.decremented = map[string]int64{}
	}
	f.decremented[userID] += freedBytes
	return nil
}

func TestRunAutoExpireSchedulesSoftDeleteForEachDueRecording(t *testing.T) {
	repo := &fakeRepo{
		recordings: map[string]*models.Recording{"rec-1": {ID: "rec-1", UserID: "user-1"}},
		expiring:   []RecordingRef{{ID: "rec-1", UserID: "user-1"}},
	}
	c := &Controller{Repo: repo}

	result, err := c.RunAutoExpire(context.Background(), Config{SoftDeleteDays: 7, HardDeleteDays: 30})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Done)
	assert.Equal(t, []string{"rec-1"}, repo.autoExpired)
}

func TestRunFileCleanupDeletesArtifactsAndDecrementsQuota(t *testing.T) {
	repo := &fakeRepo{
		recordings: map[string]*models.Recording{"rec-1": {
			ID: "rec-1", UserID: "user-1", SizeBytes: 4096,
			LocalVideoPath: "/video/rec-1.mp4", ProcessedAudioPath: "/audio/rec-1.wav",
		}},
		softDueRefs: []RecordingRef{{ID: "rec-1", UserID: "user-1"}},
	}
	files := &fakeFileStore{}
	quota := &fakeQuota{}
	c := &Controller{Repo: repo, Files: files, Quota: quota}

	result, err := c.RunFileCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Done)
	assert.Equal(t, []string{"rec-1"}, repo.cleaned)
	assert.ElementsMatch(t, []string{"/video/rec-1.mp4", "/audio/rec-1.wav"}, files.deletedPaths)
	assert.EqualValues(t, 4096, quota.decremented["user-1"])
}

func TestRunFileCleanupCountsRaceAsFailedWithoutDeletingArtifacts(t *testing.T) {
	repo := &fakeRepo{
		recordings:  map[string]*models.Recording{"rec-1": {ID: "rec-1", UserID: "user-1", LocalVideoPath: "/video/rec-1.mp4"}},
		softDueRefs: []RecordingRef{{ID: "rec-1", UserID: "user-1"}},
		cleanupErr:  assertError("race: already restored"),
	}
	files := &fakeFileStore{}
	c := &Controller{Repo: repo, Files: files}

	result, err := c.RunFileCleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, files.deletedPaths)
}

func TestRunHardDeleteRemovesRowAndArtifacts(t *testing.T) {
	repo := &fakeRepo{
		recordings:  map[string]*models.Recording{"rec-1": {ID: "rec-1", UserID: "user-1", TranscriptionDir: "/transcripts/rec-1"}},
		hardDueRefs: []RecordingRef{{ID: "rec-1", UserID: "user-1"}},
	}
	files := &fakeFileStore{}
	c := &Controller{Repo: repo, Files: files}

	result, err := c.RunHardDelete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Done)
	assert.Equal(t, []string{"rec-1"}, repo.deleted)
	assert.Equal(t, []string{"/transcripts/rec-1"}, files.deletedPaths)
}

func TestRunRefreshTokenGCReturnsDeletedCount(t *testing.T) {
	repo := &fakeRepo{expiredTokens: 3}
	c := &Controller{Repo: repo}

	n, err := c.RunRefreshTokenGC(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRunAllRunsTasksInDependencyOrder(t *testing.T) {
	repo := &fakeRepo{
		recordings: map[string]*models.Recording{
			"rec-1": {ID: "rec-1", UserID: "user-1"},
			"rec-2": {ID: "rec-2", UserID: "user-1"},
			"rec-3": {ID: "rec-3", UserID: "user-1"},
		},
		expiring:    []RecordingRef{{ID: "rec-1", UserID: "user-1"}},
		softDueRefs: []RecordingRef{{ID: "rec-2", UserID: "user-1"}},
		hardDueRefs: []RecordingRef{{ID: "rec-3", UserID: "user-1"}},
	}
	c := &Controller{Repo: repo, Files: &fakeFileStore{}}

	err := c.RunAll(context.Background(), Config{SoftDeleteDays: 7, HardDeleteDays: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, repo.autoExpired)
	assert.Equal(t, []string{"rec-2"}, repo.cleaned)
	assert.Equal(t, []string{"rec-3"}, repo.deleted)
}

type assertError string

func (e assertError) Error() string { return string(e) }
