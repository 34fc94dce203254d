// Package retention implements the three cooperating periodic sweeps of
// spec.md §4.13: auto-expire, file cleanup, and hard delete, each a
// tenant-agnostic pass that processes every due recording in its own
// transaction -- grounded on the teacher's own batch-maintenance loops
// (internal/storagepg's guarded CleanupRecordingFiles already carries the
// "re-check state under the transaction" race guard this package relies
// on) generalized from ad hoc admin scripts to a scheduled controller.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/logging"
	"github.com/meetcast/core/internal/models"
)

// RecordingRef mirrors storagepg.RecordingRef so this package does not
// need to import storagepg's concrete type for its Repository interface.
type RecordingRef struct {
	ID     string
	UserID string
}

// Repository is the narrow slice of internal/storagepg.Repository the
// controller needs.
type Repository interface {
	GetByID(ctx context.Context, userID, rid string) (*models.Recording, error)
	AutoExpire(ctx context.Context, rec *models.Recording, softDeleteDays, hardDeleteDays int) error
	CleanupRecordingFiles(ctx context.Context, rid, userID string, freedBytes int64) (int64, error)
	Delete(ctx context.Context, rec *models.Recording, freedBytes int64) error

	ListExpiringRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error)
	ListSoftDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error)
	ListHardDeleteDueRecordings(ctx context.Context, now time.Time) ([]RecordingRef, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// FileStore deletes the on-disk or remote artifacts belonging to a
// recording once it is past cleanup. Implemented by internal/artifacts.Store.
type FileStore interface {
	Delete(path string) error
}

// QuotaAccountant is consulted to decrement a user's storage accounting
// once a recording's files are actually freed (spec.md §4.14's "decrement
// on hard delete"). Kept as a narrow interface so this package does not
// depend on internal/quota's admission-check machinery, only its write side.
type QuotaAccountant interface {
	DecrementStorageBytes(ctx context.Context, userID string, freedBytes int64) error
}

// Config holds the retention windows applied by auto-expire. One Config
// applies to every recording in a sweep; per-user retention settings in
// user config are not read.
type Config struct {
	SoftDeleteDays int
	HardDeleteDays int
}

// Controller runs the three retention sweeps.
type Controller struct {
	Repo  Repository
	Files FileStore
	Quota QuotaAccountant
	Now   func() time.Time
}

// SweepResult reports how many recordings one sweep touched.
type SweepResult struct {
	Scanned int
	Done    int
	Failed  int
}

func (r *SweepResult) fail() { r.Failed++ }
func (r *SweepResult) done() { r.Done++ }

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RunAutoExpire is task 1 (spec.md §4.13): recordings with deleted=false
// and expire_at <= now are scheduled for soft deletion.
func (c *Controller) RunAutoExpire(ctx context.Context, cfg Config) (SweepResult, error) {
	now := c.now()
	refs, err := c.Repo.ListExpiringRecordings(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("retention: listing expiring recordings: %w", err)
	}

	result := SweepResult{Scanned: len(refs)}
	for _, ref := range refs {
		rec, err := c.Repo.GetByID(ctx, ref.UserID, ref.ID)
		if err != nil {
			logging.LogNoScope("retention: auto-expire refetch failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}
		if err := c.Repo.AutoExpire(ctx, rec, cfg.SoftDeleteDays, cfg.HardDeleteDays); err != nil {
			logging.LogNoScope("retention: auto-expire failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}
		result.done()
	}
	return result, nil
}

// RunFileCleanup is task 2 (spec.md §4.13): soft-deleted recordings whose
// soft_deleted_at has passed have their large media artifacts removed.
// CleanupRecordingFiles re-checks delete_state under its own transaction,
// so a restore landing between the scan and this call is never raced.
func (c *Controller) RunFileCleanup(ctx context.Context) (SweepResult, error) {
	now := c.now()
	refs, err := c.Repo.ListSoftDeleteDueRecordings(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("retention: listing soft-delete-due recordings: %w", err)
	}

	result := SweepResult{Scanned: len(refs)}
	for _, ref := range refs {
		rec, err := c.Repo.GetByID(ctx, ref.UserID, ref.ID)
		if err != nil {
			logging.LogNoScope("retention: cleanup refetch failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}

		freed := rec.SizeBytes
		freedBytes, err := c.Repo.CleanupRecordingFiles(ctx, rec.ID, rec.UserID, freed)
		if err != nil {
			logging.LogNoScope("retention: cleanup raced or failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}

		c.deleteArtifacts(rec)
		c.decrementQuota(ctx, rec.UserID, freedBytes)
		result.done()
	}
	return result, nil
}

// RunHardDelete is task 3 (spec.md §4.13): recordings whose hard_delete_at
// has passed have their row (and any remaining media) removed entirely.
func (c *Controller) RunHardDelete(ctx context.Context) (SweepResult, error) {
	now := c.now()
	refs, err := c.Repo.ListHardDeleteDueRecordings(ctx, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("retention: listing hard-delete-due recordings: %w", err)
	}

	result := SweepResult{Scanned: len(refs)}
	for _, ref := range refs {
		rec, err := c.Repo.GetByID(ctx, ref.UserID, ref.ID)
		if err != nil {
			logging.LogNoScope("retention: hard delete refetch failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}
		if err := c.Repo.Delete(ctx, rec, rec.SizeBytes); err != nil {
			logging.LogNoScope("retention: hard delete failed", "recording_id", ref.ID, "err", err)
			result.fail()
			continue
		}
		c.deleteArtifacts(rec)
		result.done()
	}
	return result, nil
}

// RunRefreshTokenGC deletes expired meeting-provider refresh tokens,
// scheduled alongside the recording sweeps even though it is unrelated to
// them (spec.md §4.13, last line).
func (c *Controller) RunRefreshTokenGC(ctx context.Context) (int64, error) {
	n, err := c.Repo.DeleteExpiredRefreshTokens(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("retention: refresh token gc: %w", err)
	}
	return n, nil
}

// RunAll runs all four tasks in the declared order: auto-expire, file
// cleanup, hard delete, then refresh-token gc, matching the dependency
// spec.md §4.13 states explicitly ("daily, after auto-expire" etc).
func (c *Controller) RunAll(ctx context.Context, cfg Config) error {
	if _, err := c.RunAutoExpire(ctx, cfg); err != nil {
		return err
	}
	if _, err := c.RunFileCleanup(ctx); err != nil {
		return err
	}
	if _, err := c.RunHardDelete(ctx); err != nil {
		return err
	}
	if _, err := c.RunRefreshTokenGC(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Controller) deleteArtifacts(rec *models.Recording) {
	if c.Files == nil {
		return
	}
	for _, path := range []string{rec.LocalVideoPath, rec.ProcessedVideoPath, rec.ProcessedAudioPath, rec.TranscriptionDir} {
		if path == "" {
			continue
		}
		if err := c.Files.Delete(path); err != nil {
			logging.LogNoScope("retention: artifact delete failed", "recording_id", rec.ID, "path", path, "err", err)
		}
	}
}

func (c *Controller) decrementQuota(ctx context.Context, userID string, freedBytes int64) {
	if c.Quota == nil || freedBytes == 0 {
		return
	}
	if err := c.Quota.DecrementStorageBytes(ctx, userID, freedBytes); err != nil {
		logging.LogNoScope("retention: quota decrement failed", "user_id", userID, "err", err)
	}
}
