package storagepg

import (
	"context"
	"fmt"
	"time"
)

// RecordingRef is a minimal (id, user_id) pair for the tenant-agnostic
// retention sweeps (spec.md §4.13): each ref is re-fetched via GetByID
// inside its own transaction rather than carried across the sweep, per
// spec.md §5's "never hold in-memory rows across suspensions" rule.
type RecordingRef struct {
	ID     string
	UserID string
}

func (r *Repository) listRecordingRefs(ctx context.Context, query string, now time.Time) ([]RecordingRef, error) {
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying recording refs: %w", err)
	}
	defer rows.Close()

	var out []RecordingRef
	for rows.Next() {
		var ref RecordingRef
		if err := rows.Scan(&ref.ID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("storagepg: scanning recording ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// ListExpiringRecordings finds non-deleted recordings whose expire_at has
// passed (spec.md §4.13 task 1, auto-expire).
func (r *Repository) ListExpiringRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return r.listRecordingRefs(ctx, `select id, user_id from recordings where deleted = false and expire_at is not null and expire_at <= $1`, now)
}

// ListSoftDeleteDueRecordings finds soft-deleted recordings whose
// soft_deleted_at has passed (spec.md §4.13 task 2, file cleanup).
func (r *Repository) ListSoftDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return r.listRecordingRefs(ctx, `select id, user_id from recordings where delete_state = 'soft' and soft_deleted_at <= $1`, now)
}

// ListHardDeleteDueRecordings finds recordings whose hard_delete_at has
// passed (spec.md §4.13 task 3, hard delete).
func (r *Repository) ListHardDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error) {
	return r.listRecordingRefs(ctx, `select id, user_id from recordings where hard_delete_at is not null and hard_delete_at <= $1`, now)
}

// DeleteExpiredRefreshTokens GCs stale meeting-provider refresh tokens,
// scheduled alongside the other retention tasks (spec.md §4.13, last line)
// even though it is unrelated to recordings.
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("storagepg: deleting expired refresh tokens: %w", err)
	}
	return res.RowsAffected()
}
