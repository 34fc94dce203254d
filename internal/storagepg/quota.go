package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meetcast/core/internal/models"
)

// GetQuotaUsage reads (or lazily zero-initializes) a user's usage row for
// period (YYYYMM), per spec.md §4.14.
func (r *Repository) GetQuotaUsage(ctx context.Context, userID, period string) (models.QuotaUsage, error) {
	var u models.QuotaUsage
	u.UserID, u.Period = userID, period
	err := r.db.QueryRowContext(ctx, `
		select recordings_count, storage_bytes, concurrent_tasks_count, overage_recordings, overage_storage_bytes
		  from quota_usage where user_id=$1 and period=$2`, userID, period).
		Scan(&u.RecordingsCount, &u.StorageBytes, &u.ConcurrentTasksCount, &u.OverageRecordings, &u.OverageStorageBytes)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return models.QuotaUsage{}, fmt.Errorf("storagepg: reading quota usage: %w", err)
	}
	return u, nil
}

// GetUserSubscription resolves the plan and per-user overrides that bound
// admission checks (spec.md §4.14).
func (r *Repository) GetUserSubscription(ctx context.Context, userID string) (*models.UserSubscription, *models.SubscriptionPlan, error) {
	var sub models.UserSubscription
	var overrides []byte
	err := r.db.QueryRowContext(ctx, `select user_id, plan_id, overrides from user_subscriptions where user_id=$1`, userID).
		Scan(&sub.UserID, &sub.PlanID, &overrides)
	if err != nil {
		return nil, nil, fmt.Errorf("storagepg: reading user subscription: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &sub.Overrides); err != nil {
			return nil, nil, err
		}
	}

	var plan models.SubscriptionPlan
	err = r.db.QueryRowContext(ctx, `
		select id, name, recordings_per_month, concurrent_tasks_limit, storage_bytes_limit
		  from subscription_plans where id=$1`, sub.PlanID).
		Scan(&plan.ID, &plan.Name, &plan.RecordingsPerMonth, &plan.ConcurrentTasksLimit, &plan.StorageBytesLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("storagepg: reading subscription plan: %w", err)
	}
	return &sub, &plan, nil
}

// IncrementRecordingsCount bumps quota_usage.recordings_count for period
// when a pipeline is admitted (spec.md §4.14).
func (r *Repository) IncrementRecordingsCount(ctx context.Context, userID, period string, delta int64) error {
	return r.upsertQuotaDelta(ctx, userID, period, "recordings_count", delta)
}

// IncrementStorageBytes bumps quota_usage.storage_bytes at successful
// artifact write, or decrements it (negative delta) on hard delete.
func (r *Repository) IncrementStorageBytes(ctx context.Context, userID, period string, delta int64) error {
	return r.upsertQuotaDelta(ctx, userID, period, "storage_bytes", delta)
}

// IncrementConcurrentTasks tracks userID's in-flight task count.
func (r *Repository) IncrementConcurrentTasks(ctx context.Context, userID, period string, delta int64) error {
	return r.upsertQuotaDelta(ctx, userID, period, "concurrent_tasks_count", delta)
}

func (r *Repository) upsertQuotaDelta(ctx context.Context, userID, period, column string, delta int64) error {
	query := fmt.Sprintf(`
		insert into quota_usage(user_id, period, %s)
		values ($1, $2, $3)
		on conflict (user_id, period) do update set %s = quota_usage.%s + $3`, column, column, column)
	if _, err := r.db.ExecContext(ctx, query, userID, period, delta); err != nil {
		return fmt.Errorf("storagepg: updating quota usage %s: %w", column, err)
	}
	return nil
}

// CountConcurrentTasks counts userID's recordings currently mid-pipeline
// (status DOWNLOADING, PROCESSING or UPLOADING), the
// authoritative source for the concurrent_tasks admission check.
func (r *Repository) CountConcurrentTasks(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		select count(*) from recordings
		 where user_id=$1 and status in ($2, $3, $4)`,
		userID, models.StatusDownloading, models.StatusProcessing, models.StatusUploading).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storagepg: counting concurrent tasks: %w", err)
	}
	return n, nil
}
