// Package reminder holds typed views of the rows the surrounding CRUD
// system owns: reminder definitions, tasks, habits and push endpoints.
// This core only reads them; validation happens here at the boundary so the
// scheduling logic never sees half-formed rows.
package reminder

import (
	"time"

	"github.com/lib/pq"
)

const (
	TargetTask  = "task"
	TargetHabit = "habit"

	AnchorTaskStart = "task_start"
	AnchorTaskEnd   = "task_end"
	AnchorHabitTime = "habit_time"

	TaskStatusTodo = "todo"
	TaskStatusDone = "done"
)

// Definition describes when to remind, attached to a task or a habit.
// Exactly one row exists per (owner, target type, target id, anchor, minute)
// tuple; the CRUD layer updates in place rather than duplicating.
type Definition struct {
	ID         uint64 `gorm:"primaryKey"`
	OwnerID    uint64 `gorm:"not null;uniqueIndex:ux_reminder_tuple,priority:1"`
	TargetType string `gorm:"type:text;not null;uniqueIndex:ux_reminder_tuple,priority:2"`
	TargetID   uint64 `gorm:"not null;uniqueIndex:ux_reminder_tuple,priority:3"`
	Anchor     string `gorm:"type:text;not null;uniqueIndex:ux_reminder_tuple,priority:4"`

	// Local wall-clock minute for habit_time anchors. Task anchors take the
	// minute from the task row; this field stays 0 for them.
	TimeOfDayMinutes int `gorm:"not null;default:0;uniqueIndex:ux_reminder_tuple,priority:5"`

	// When set, the day's firing is only meaningful strictly before this
	// local minute. Must be greater than TimeOfDayMinutes.
	EndTimeOfDayMinutes *int

	// Shift relative to the anchor minute; negative means "before".
	OffsetMinutes int `gorm:"not null;default:0"`

	Enabled   bool `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Definition) TableName() string { return "reminder_definitions" }

// Valid reports whether the row is complete enough to schedule from.
// Incomplete rows are filtered, never treated as errors.
func (d Definition) Valid() bool {
	if d.OwnerID == 0 || d.TargetID == 0 {
		return false
	}
	switch d.TargetType {
	case TargetTask, TargetHabit:
	default:
		return false
	}
	switch d.Anchor {
	case AnchorTaskStart, AnchorTaskEnd, AnchorHabitTime:
	default:
		return false
	}
	if d.TimeOfDayMinutes < 0 || d.TimeOfDayMinutes > 1439 {
		return false
	}
	if d.EndTimeOfDayMinutes != nil && *d.EndTimeOfDayMinutes <= d.TimeOfDayMinutes {
		return false
	}
	return true
}

// Task is the tracker's task row. ScopeKey is a day ("2024-03-10"), week
// ("2024-W11"), month ("2024-03") or year ("2024") key; only day-scoped
// tasks carry a concrete date and can produce reminders.
type Task struct {
	ID                  uint64 `gorm:"primaryKey"`
	OwnerID             uint64 `gorm:"index;not null"`
	Title               string `gorm:"type:text;not null;default:''"`
	ScopeKey            string `gorm:"type:text;not null;default:''"`
	StartMinute         *int
	EndMinute           *int
	RemindBeforeMinutes int            `gorm:"not null;default:0"`
	Status              string         `gorm:"type:text;not null;default:'todo'"`
	Tags                pq.StringArray `gorm:"type:text[]"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (Task) TableName() string { return "tasks" }

// AnchorMinute resolves the task-local minute a given anchor refers to.
// Returns false when the task has no such minute.
func (t Task) AnchorMinute(anchor string) (int, bool) {
	var m *int
	switch anchor {
	case AnchorTaskStart:
		m = t.StartMinute
	case AnchorTaskEnd:
		m = t.EndMinute
	default:
		return 0, false
	}
	if m == nil || *m < 0 || *m > 1439 {
		return 0, false
	}
	return *m, true
}

// EffectiveOffset resolves the minute shift for a task-anchored definition.
// A definition-level offset wins; otherwise a start anchor honors the
// task's own remind-before setting. Both scheduling paths resolve offsets
// through this one function.
func EffectiveOffset(d Definition, t Task) int {
	if d.OffsetMinutes != 0 {
		return d.OffsetMinutes
	}
	if d.Anchor == AnchorTaskStart && t.RemindBeforeMinutes > 0 {
		return -t.RemindBeforeMinutes
	}
	return 0
}

// Habit is the tracker's recurring habit row. Start/end dates are day keys.
type Habit struct {
	ID        uint64 `gorm:"primaryKey"`
	OwnerID   uint64 `gorm:"index;not null"`
	Title     string `gorm:"type:text;not null;default:''"`
	Active    bool   `gorm:"not null;default:true"`
	StartDate string `gorm:"type:text;not null;default:''"`
	EndDate   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Habit) TableName() string { return "habits" }

// CoversDay reports whether dayKey falls inside the habit's date range.
// Day keys compare lexicographically.
func (h Habit) CoversDay(dayKey string) bool {
	if h.StartDate != "" && dayKey < h.StartDate {
		return false
	}
	if h.EndDate != nil && *h.EndDate != "" && dayKey > *h.EndDate {
		return false
	}
	return true
}

// Endpoint is a registered push subscription plus the owner's current
// timezone offset. Owned by the CRUD layer; this core only reads it and
// flips DisabledAt when delivery says the subscription is gone or the row
// went stale.
type Endpoint struct {
	ID                    string `gorm:"type:text;primaryKey"`
	OwnerID               uint64 `gorm:"index;not null"`
	Endpoint              string `gorm:"type:text;not null"`
	P256dh                string `gorm:"type:text;not null"`
	Auth                  string `gorm:"type:text;not null"`
	TimezoneOffsetMinutes int    `gorm:"not null;default:0"`
	DisabledAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (Endpoint) TableName() string { return "delivery_endpoints" }
