// Package quota implements the two admission checks and incremental
// accounting of spec.md §4.14. Postgres (internal/storagepg) remains the
// source of truth; an optional Redis fast-path accelerates the hot
// concurrent_tasks counter, grounded on Livepeer-FrameWorks-monorepo's
// pkg/redis client wiring -- the admission check consults Redis first and
// falls back past it on any error, never trusting it as the only copy.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
)

// Repository is the narrow slice of internal/storagepg.Repository this
// package needs.
type Repository interface {
	GetQuotaUsage(ctx context.Context, userID, period string) (models.QuotaUsage, error)
	GetUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, *models.SubscriptionPlan, error)
	IncrementRecordingsCount(ctx context.Context, userID, period string, delta int64) error
	IncrementStorageBytes(ctx context.Context, userID, period string, delta int64) error
	IncrementConcurrentTasks(ctx context.Context, userID, period string, delta int64) error
	CountConcurrentTasks(ctx context.Context, userID string) (int64, error)
}

// Counter is a fast-path accelerator for the concurrent_tasks admission
// check. Implemented by a thin wrapper over a real Redis client; any
// error from it is treated as a cache miss, never as the final answer.
type Counter interface {
	Get(ctx context.Context, userID string) (int64, bool, error)
	Set(ctx context.Context, userID string, value int64, ttl time.Duration) error
}

// CounterTTL bounds how long the Redis fast path trusts a count before
// falling back to Postgres, so a missed decrement (worker crash) cannot
// wedge admission shut forever.
const CounterTTL = 2 * time.Minute

// Service implements admission and accounting (spec.md §4.14).
type Service struct {
	Repo  Repository
	Cache Counter
	Now   func() time.Time
}

func Period(t time.Time) string {
	return t.Format("200601")
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func resolveLimit(plan *models.SubscriptionPlan, sub *models.UserSubscription, key string, planValue int64) int64 {
	if sub != nil {
		if override, ok := sub.Overrides[key]; ok {
			return override
		}
	}
	return planValue
}

// CheckRecordingsPerMonth enforces the first admission check: the user's
// current-period recordings_count must be under their plan limit (or
// override).
func (s *Service) CheckRecordingsPerMonth(ctx context.Context, userID string) error {
	sub, plan, err := s.Repo.GetUserSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota: resolving subscription: %w", err)
	}
	limit := resolveLimit(plan, sub, "recordings_per_month", plan.RecordingsPerMonth)

	period := Period(s.now())
	usage, err := s.Repo.GetQuotaUsage(ctx, userID, period)
	if err != nil {
		return fmt.Errorf("quota: reading usage: %w", err)
	}
	if usage.RecordingsCount >= limit {
		return apierrors.QuotaExceededError{Quota: "recordings_per_month", Limit: limit, Used: usage.RecordingsCount}
	}
	return nil
}

// CheckConcurrentTasks enforces the second admission check: the user's
// current in-flight task count must be under their plan limit.
func (s *Service) CheckConcurrentTasks(ctx context.Context, userID string) error {
	sub, plan, err := s.Repo.GetUserSubscription(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota: resolving subscription: %w", err)
	}
	limit := resolveLimit(plan, sub, "concurrent_tasks", plan.ConcurrentTasksLimit)

	count, err := s.currentConcurrentTasks(ctx, userID)
	if err != nil {
		return fmt.Errorf("quota: counting concurrent tasks: %w", err)
	}
	if count >= limit {
		return apierrors.QuotaExceededError{Quota: "concurrent_tasks", Limit: limit, Used: count}
	}
	return nil
}

func (s *Service) currentConcurrentTasks(ctx context.Context, userID string) (int64, error) {
	if s.Cache != nil {
		if n, ok, err := s.Cache.Get(ctx, userID); err == nil && ok {
			return n, nil
		}
	}

	n, err := s.Repo.CountConcurrentTasks(ctx, userID)
	if err != nil {
		return 0, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, userID, n, CounterTTL); err != nil {
			return n, nil
		}
	}
	return n, nil
}

// Admit runs both checks; callers invoke this before submitting a
// pipeline run (spec.md §4.8's admission gate).
func (s *Service) Admit(ctx context.Context, userID string) error {
	if err := s.CheckRecordingsPerMonth(ctx, userID); err != nil {
		return err
	}
	return s.CheckConcurrentTasks(ctx, userID)
}

// RecordAdmission increments recordings_count and concurrent_tasks_count
// for the current period once a pipeline is actually admitted.
func (s *Service) RecordAdmission(ctx context.Context, userID string) error {
	period := Period(s.now())
	if err := s.Repo.IncrementRecordingsCount(ctx, userID, period, 1); err != nil {
		return err
	}
	if err := s.Repo.IncrementConcurrentTasks(ctx, userID, period, 1); err != nil {
		return err
	}
	s.invalidateCache(ctx, userID)
	return nil
}

// RecordCompletion decrements concurrent_tasks_count once a pipeline run
// leaves the in-flight set (success, failure, or cancellation).
func (s *Service) RecordCompletion(ctx context.Context, userID string) error {
	period := Period(s.now())
	if err := s.Repo.IncrementConcurrentTasks(ctx, userID, period, -1); err != nil {
		return err
	}
	s.invalidateCache(ctx, userID)
	return nil
}

// RecordStorageWrite increments storage_bytes at a successful artifact
// write (spec.md §4.14).
func (s *Service) RecordStorageWrite(ctx context.Context, userID string, bytes int64) error {
	return s.Repo.IncrementStorageBytes(ctx, userID, Period(s.now()), bytes)
}

// DecrementStorageBytes implements internal/retention.QuotaAccountant:
// storage_bytes is decremented when a recording's files are freed on hard
// delete (spec.md §4.14).
func (s *Service) DecrementStorageBytes(ctx context.Context, userID string, freedBytes int64) error {
	return s.Repo.IncrementStorageBytes(ctx, userID, Period(s.now()), -freedBytes)
}

// Status is the current-period usage-vs-limit view returned by the
// quota.status() control-plane verb (spec.md §6).
type Status struct {
	Period                string
	RecordingsUsed        int64
	RecordingsLimit       int64
	StorageBytesUsed      int64
	StorageBytesLimit     int64
	ConcurrentTasksUsed   int64
	ConcurrentTasksLimit  int64
}

// Status reports current-period usage against the resolved plan/override
// limits, without mutating anything.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	sub, plan, err := s.Repo.GetUserSubscription(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("quota: resolving subscription: %w", err)
	}
	period := Period(s.now())
	usage, err := s.Repo.GetQuotaUsage(ctx, userID, period)
	if err != nil {
		return Status{}, fmt.Errorf("quota: reading usage: %w", err)
	}
	concurrent, err := s.currentConcurrentTasks(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("quota: counting concurrent tasks: %w", err)
	}
	return Status{
		Period:               period,
		RecordingsUsed:       usage.RecordingsCount,
		RecordingsLimit:      resolveLimit(plan, sub, "recordings_per_month", plan.RecordingsPerMonth),
		StorageBytesUsed:     usage.StorageBytes,
		StorageBytesLimit:    resolveLimit(plan, sub, "storage_bytes", plan.StorageBytesLimit),
		ConcurrentTasksUsed:  concurrent,
		ConcurrentTasksLimit: resolveLimit(plan, sub, "concurrent_tasks", plan.ConcurrentTasksLimit),
	}, nil
}

func (s *Service) invalidateCache(ctx context.Context, userID string) {
	if s.Cache == nil {
		return
	}
	n, err := s.Repo.CountConcurrentTasks(ctx, userID)
	if err != nil {
		return
	}
	_ = s.Cache.Set(ctx, userID, n, CounterTTL)
}
