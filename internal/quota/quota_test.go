package quota

import (
	"context"
	"testing"
	"time"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	usage          models.QuotaUsage
	sub            *models.UserSubscription
	plan           *models.SubscriptionPlan
	concurrentReal int64

	recordingsDelta  int64
	storageDelta     int64
	concurrentDeltas []int64
}

func (f *fakeRepo) GetQuotaUsage(ctx context.Context, userID, period string) (models.QuotaUsage, error) {
	return f.usage, nil
}

func (f *fakeRepo) GetUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, *models.SubscriptionPlan, error) {
	return f.sub, f.plan, nil
}

func (f *fakeRepo) IncrementRecordingsCount(ctx context.Context, userID, period string, delta int64) error {
	f.recordingsDelta += delta
	return nil
}

func (f *fakeRepo) IncrementStorageBytes(ctx context.Context, userID, period string, delta int64) error {
	f.storageDelta += delta
	return nil
}

func (f *fakeRepo) IncrementConcurrentTasks(ctx context.Context, userID, period string, delta int64) error {
	f.concurrentDeltas = append(f.concurrentDeltas, delta)
	f.concurrentReal += delta
	return nil
}

func (f *fakeRepo) CountConcurrentTasks(ctx context.Context, userID string) (int64, error) {
	return f.concurrentReal, nil
}

type fakeCounter struct {
	values map[string]int64
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{values: map[string]int64{}}
}

func (c *fakeCounter) Get(ctx context.Context, userID string) (int64, bool, error) {
	if c.err != nil {
		return 0, false, c.err
	}
	n, ok := c.values[userID]
	return n, ok, nil
}

func (c *fakeCounter) Set(ctx context.Context, userID string, value int64, ttl time.Duration) error {
	c.values[userID] = value
	return nil
}

func basePlan() (*models.UserSubscription, *models.SubscriptionPlan) {
	return &models.UserSubscription{UserID: "user-1", PlanID: "plan-1"},
		&models.SubscriptionPlan{ID: "plan-1", RecordingsPerMonth: 10, ConcurrentTasksLimit: 2, StorageBytesLimit: 1 << 30}
}

func TestCheckRecordingsPerMonthAllowsUnderLimit(t *testing.T) {
	sub, plan := basePlan()
	repo := &fakeRepo{sub: sub, plan: plan, usage: models.QuotaUsage{RecordingsCount: 5}}
	s := &Service{Repo: repo}

	err := s.CheckRecordingsPerMonth(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestCheckRecordingsPerMonthRejectsAtLimit(t *testing.T) {
	sub, plan := basePlan()
	repo := &fakeRepo{sub: sub, plan: plan, usage: models.QuotaUsage{RecordingsCount: 10}}
	s := &Service{Repo: repo}

	err := s.CheckRecordingsPerMonth(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, apierrors.IsQuotaExceeded(err))
}

func TestCheckRecordingsPerMonthHonorsOverride(t *testing.T) {
	sub, plan := basePlan()
	sub.Overrides = map[string]int64{"recordings_per_month": 100}
	repo := &fakeRepo{sub: sub, plan: plan, usage: models.QuotaUsage{RecordingsCount: 50}}
	s := &Service{Repo: repo}

	err := s.CheckRecordingsPerMonth(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestCheckConcurrentTasksRejectsAtLimit(t *testing.T) {
	sub, plan := basePlan()
	repo := &fakeRepo{sub: sub, plan: plan, concurrentReal: 2}
	s := &Service{Repo: repo}

	err := s.CheckConcurrentTasks(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, apierrors.IsQuotaExceeded(err))
}

func TestCheckConcurrentTasksUsesCacheWhenHit(t *testing.T) {
	sub, plan := basePlan()
	repo := &fakeRepo{sub: sub, plan: plan, concurrentReal: 0}
	cache := newFakeCounter()
	cache.values["user-1"] = 2
	s := &Service{Repo: repo, Cache: cache}

	err := s.CheckConcurrentTasks(context.Background(), "user-1")
	require.Error(t, err)
}

func TestCheckConcurrentTasksFallsBackPastCacheError(t *testing.T) {
	sub, plan := basePlan()
	repo := &fakeRepo{sub: sub, plan: plan, concurrentReal: 0}
	cache := &fakeCounter{err: assertError("redis unreachable")}
	s := &Service{Repo: repo, Cache: cache}

	err := s.CheckConcurrentTasks(context.Background(), "user-1")
	require.NoError(t, err)
}

func TestRecordAdmissionIncrementsRecordingsAndConcurrentTasks(t *testing.T) {
	repo := &fakeRepo{}
	s := &Service{Repo: repo}

	err := s.RecordAdmission(context.Background(), "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, repo.recordingsDelta)
	assert.Equal(t, []int64{1}, repo.concurrentDeltas)
}

func TestRecordCompletionDecrementsConcurrentTasks(t *testing.T) {
	repo := &fakeRepo{}
	s := &Service{Repo: repo}

	err := s.RecordCompletion(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []int64{-1}, repo.concurrentDeltas)
}

func TestDecrementStorageBytesAppliesNegativeDelta(t *testing.T) {
	repo := &fakeRepo{}
	s := &Service{Repo: repo}

	err := s.DecrementStorageBytes(context.Background(), "user-1", 2048)
	require.NoError(t, err)
	assert.EqualValues(t, -2048, repo.storageDelta)
}

func TestPeriodFormatsAsYYYYMM(t *testing.T) {
	assert.Equal(t, "202607", Period(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)))
}

type assertError string

func (e assertError) Error() string { return string(e) }
