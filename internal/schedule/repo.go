package schedule

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo owns the scheduled_jobs table.
type Repo struct {
	DB *gorm.DB
}

// InsertIfAbsent creates the job unless its dedupe key already exists.
// Returns true only when this call created the row; the losing side of a
// race simply observes false. This is the idempotency gate for
// materialization.
func (r *Repo) InsertIfAbsent(ctx context.Context, j *Job) (bool, error) {
	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		}).
		Create(j)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CancelTarget removes every non-terminal job for one task or habit.
// Jobs already in a terminal state are left alone; a running job is not
// interrupted, cancellation only prevents future claims.
func (r *Repo) CancelTarget(ctx context.Context, ownerID uint64, targetType string, targetID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("owner_id = ? AND target_type = ? AND target_id = ? AND status IN ?",
			ownerID, targetType, targetID, NonTerminalStatuses).
		Delete(&Job{})
	return res.RowsAffected, res.Error
}

// CancelReminder is the single-definition variant of CancelTarget.
func (r *Repo) CancelReminder(ctx context.Context, ownerID, reminderID uint64) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("owner_id = ? AND reminder_id = ? AND status IN ?",
			ownerID, reminderID, NonTerminalStatuses).
		Delete(&Job{})
	return res.RowsAffected, res.Error
}

// HasRecentActive reports whether any non-terminal job for the owner was
// created after since. Backfill uses this as a cheap freshness probe: no
// recent active jobs means scheduling never ran or silently stalled.
func (r *Repo) HasRecentActive(ctx context.Context, ownerID uint64, since time.Time) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&Job{}).
		Where("owner_id = ? AND status IN ? AND created_at > ?", ownerID, NonTerminalStatuses, since).
		Count(&n).Error
	return n > 0, err
}

// The methods below are the contract exposed to the external job executor.
// Nothing in this module calls them; see Executor.

// DuePending lists due pending/retry jobs ordered by run time.
func (r *Repo) DuePending(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	var jobs []Job
	q := r.DB.WithContext(ctx).
		Where("status IN ? AND run_at <= ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			[]string{StatusPending, StatusRetry}, now, now).
		Order("run_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// MarkRunning claims a due job. Returns false if another executor got there
// first or the job was cancelled meanwhile.
func (r *Repo) MarkRunning(ctx context.Context, id uint64) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []string{StatusPending, StatusRetry}).
		Update("status", StatusRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkSent(ctx context.Context, id uint64) error {
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Update("status", StatusSent).Error
}

func (r *Repo) MarkFailed(ctx context.Context, id uint64, lastError string) error {
	updates := map[string]any{"status": StatusFailed}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// RetryLater requeues a job for another attempt at nextRetryAt.
func (r *Repo) RetryLater(ctx context.Context, id uint64, attempts int, nextRetryAt time.Time, lastError string) error {
	updates := map[string]any{
		"status":        StatusRetry,
		"attempts":      attempts,
		"next_retry_at": nextRetryAt,
	}
	if lastError != "" {
		updates["last_error"] = lastError
	}
	return r.DB.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Executor is the pluggable consumer of the job table. It lives outside
// this module; the interface pins down what it may rely on.
type Executor interface {
	DuePending(ctx context.Context, now time.Time, limit int) ([]Job, error)
	MarkRunning(ctx context.Context, id uint64) (bool, error)
	MarkSent(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, lastError string) error
	RetryLater(ctx context.Context, id uint64, attempts int, nextRetryAt time.Time, lastError string) error
}

var _ Executor = (*Repo)(nil)
