// Package schedule materializes reminder definitions into durable scheduled
// jobs and keeps that ledger consistent across edits (cancel and replace)
// and endpoint registration (backfill). The job table is consumed by an
// external executor; its contract lives on Repo.
package schedule

import "time"

// Job statuses. pending/retry/running are non-terminal; the external
// executor owns the transitions to sent/failed.
const (
	StatusPending   = "pending"
	StatusRetry     = "retry"
	StatusRunning   = "running"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// NonTerminalStatuses are the states cancellation is allowed to remove.
var NonTerminalStatuses = []string{StatusPending, StatusRetry, StatusRunning}

// Job is one materialized future firing of a reminder.
//
// DedupeKey is globally unique and derived from the reminder identity plus
// the fire instant truncated to the minute, so materializing the same
// definition twice can never produce two rows for the same minute.
type Job struct {
	ID         uint64 `gorm:"primaryKey"`
	OwnerID    uint64 `gorm:"not null;index:idx_jobs_owner_status,priority:1"`
	Kind       string `gorm:"type:text;not null"`
	TargetType string `gorm:"type:text;not null"`
	TargetID   uint64 `gorm:"not null"`
	ReminderID uint64 `gorm:"index;not null"`

	// Calendar day the instance belongs to, in the owner's timezone at
	// materialization time.
	DayKey          string    `gorm:"type:text;not null"`
	RunAt           time.Time `gorm:"index;not null"`
	TzOffsetMinutes int       `gorm:"not null;default:0"`

	Title string `gorm:"type:text;not null;default:''"`
	Body  string `gorm:"type:text;not null;default:''"`
	URL   string `gorm:"type:text;not null;default:''"`
	Topic string `gorm:"type:text;not null;default:''"`

	Status      string `gorm:"type:text;not null;default:'pending';index:idx_jobs_owner_status,priority:2"`
	Attempts    int    `gorm:"not null;default:0"`
	NextRetryAt *time.Time
	LastError   *string `gorm:"type:text"`

	DedupeKey string `gorm:"type:text;not null;uniqueIndex:ux_jobs_dedupe"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "scheduled_jobs" }

// ResyncReport summarizes one cancel-and-replace pass.
type ResyncReport struct {
	Cancelled int64 `json:"cancelled"`
	Created   int   `json:"created"`
}

// BackfillReport summarizes one conditional backfill.
type BackfillReport struct {
	Skipped   bool  `json:"skipped"`
	Targets   int   `json:"targets"`
	Created   int   `json:"created"`
	Cancelled int64 `json:"cancelled"`
}
