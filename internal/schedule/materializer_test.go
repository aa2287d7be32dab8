package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"remindd/internal/db"
	"remindd/internal/reminder"
	"remindd/internal/schedule"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.MigrateSource(gdb))
	return gdb
}

func newService(gdb *gorm.DB, windowDays int) *schedule.Service {
	return &schedule.Service{DB: gdb, WindowDays: windowDays, Log: zerolog.Nop()}
}

func intp(v int) *int { return &v }

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func seedTask(t *testing.T, gdb *gorm.DB, task reminder.Task) reminder.Task {
	t.Helper()
	require.NoError(t, gdb.Create(&task).Error)
	return task
}

func seedHabit(t *testing.T, gdb *gorm.DB, habit reminder.Habit) reminder.Habit {
	t.Helper()
	require.NoError(t, gdb.Create(&habit).Error)
	return habit
}

func seedDefinition(t *testing.T, gdb *gorm.DB, def reminder.Definition) reminder.Definition {
	t.Helper()
	require.NoError(t, gdb.Create(&def).Error)
	return def
}

func seedEndpoint(t *testing.T, gdb *gorm.DB, ownerID uint64, tz int) reminder.Endpoint {
	t.Helper()
	ep := reminder.Endpoint{
		ID:                    "ep-1",
		OwnerID:               ownerID,
		Endpoint:              "https://push.example/sub",
		P256dh:                "p256dh",
		Auth:                  "auth",
		TimezoneOffsetMinutes: tz,
	}
	require.NoError(t, gdb.Create(&ep).Error)
	return ep
}

func jobsForTarget(t *testing.T, gdb *gorm.DB, targetType string, targetID uint64) []schedule.Job {
	t.Helper()
	var jobs []schedule.Job
	require.NoError(t, gdb.Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("run_at ASC").Find(&jobs).Error)
	return jobs
}

func TestMaterialize_TaskStartScenario(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 14)
	ctx := context.Background()

	// 09:00 local start, remind 5 minutes before, owner at UTC+8.
	task := seedTask(t, gdb, reminder.Task{
		OwnerID:             1,
		Title:               "T1",
		ScopeKey:            "2024-03-10",
		StartMinute:         intp(540),
		RemindBeforeMinutes: 5,
		Status:              reminder.TaskStatusTodo,
	})
	def := seedDefinition(t, gdb, reminder.Definition{
		OwnerID:    1,
		TargetType: reminder.TargetTask,
		TargetID:   task.ID,
		Anchor:     reminder.AnchorTaskStart,
		Enabled:    true,
	})

	now := mustUTC(t, "2024-03-09T20:00:00Z")
	created, err := svc.Materialize(ctx, def, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	jobs := jobsForTarget(t, gdb, reminder.TargetTask, task.ID)
	require.Len(t, jobs, 1)
	assert.Equal(t, reminder.AnchorTaskStart, jobs[0].Kind)
	assert.Equal(t, "2024-03-10", jobs[0].DayKey)
	assert.Equal(t, schedule.StatusPending, jobs[0].Status)
	assert.True(t, jobs[0].RunAt.UTC().Equal(mustUTC(t, "2024-03-10T00:55:00Z")),
		"got run_at %s", jobs[0].RunAt.UTC())
}

func TestMaterialize_HabitWindow(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 3)
	ctx := context.Background()

	habit := seedHabit(t, gdb, reminder.Habit{
		OwnerID:   1,
		Title:     "Stretch",
		Active:    true,
		StartDate: "2024-01-01",
	})
	def := seedDefinition(t, gdb, reminder.Definition{
		OwnerID:          1,
		TargetType:       reminder.TargetHabit,
		TargetID:         habit.ID,
		Anchor:           reminder.AnchorHabitTime,
		TimeOfDayMinutes: 420,
		Enabled:          true,
	})

	now := mustUTC(t, "2024-03-09T20:00:00Z") // 2024-03-10 local at UTC+8
	created, err := svc.Materialize(ctx, def, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	jobs := jobsForTarget(t, gdb, reminder.TargetHabit, habit.ID)
	require.Len(t, jobs, 3)
	wantDays := []string{"2024-03-10", "2024-03-11", "2024-03-12"}
	for i, j := range jobs {
		assert.Equal(t, reminder.AnchorHabitTime, j.Kind)
		assert.Equal(t, wantDays[i], j.DayKey)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 7)
	ctx := context.Background()

	habit := seedHabit(t, gdb, reminder.Habit{OwnerID: 1, Title: "Read", Active: true, StartDate: "2024-01-01"})
	def := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetHabit, TargetID: habit.ID,
		Anchor: reminder.AnchorHabitTime, TimeOfDayMinutes: 600, Enabled: true,
	})

	now := mustUTC(t, "2024-03-09T20:00:00Z")
	first, err := svc.Materialize(ctx, def, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 7, first)

	second, err := svc.Materialize(ctx, def, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second)

	var n int64
	require.NoError(t, gdb.Model(&schedule.Job{}).Count(&n).Error)
	assert.EqualValues(t, 7, n)
}

func TestMaterialize_EndTimeCutoff(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 3)
	ctx := context.Background()
	now := mustUTC(t, "2024-03-10T00:00:00Z")

	// Offset pushes the firing to minute 100, at or past the 90 boundary.
	late := seedTask(t, gdb, reminder.Task{
		OwnerID: 1, Title: "Late", ScopeKey: "2024-03-10",
		EndMinute: intp(60), Status: reminder.TaskStatusTodo,
	})
	lateDef := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetTask, TargetID: late.ID,
		Anchor: reminder.AnchorTaskEnd, OffsetMinutes: 40,
		EndTimeOfDayMinutes: intp(90), Enabled: true,
	})

	created, err := svc.Materialize(ctx, lateDef, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 0, created, "firing at/after the end boundary must not materialize")

	// Same shape but the firing lands at minute 80, inside the boundary.
	early := seedTask(t, gdb, reminder.Task{
		OwnerID: 1, Title: "Early", ScopeKey: "2024-03-10",
		StartMinute: intp(60), Status: reminder.TaskStatusTodo,
	})
	earlyDef := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetTask, TargetID: early.ID,
		Anchor: reminder.AnchorTaskStart, OffsetMinutes: 20,
		EndTimeOfDayMinutes: intp(90), Enabled: true,
	})
	created, err = svc.Materialize(ctx, earlyDef, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestMaterialize_PastInstantsDropped(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 3)
	ctx := context.Background()

	task := seedTask(t, gdb, reminder.Task{
		OwnerID: 1, Title: "Soon", ScopeKey: "2024-03-10",
		StartMinute: intp(100), Status: reminder.TaskStatusTodo,
	})
	def := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetTask, TargetID: task.ID,
		Anchor: reminder.AnchorTaskStart, Enabled: true,
	})

	// Five minutes past the 01:40 firing: unexecutable, silently dropped.
	created, err := svc.Materialize(ctx, def, 0, mustUTC(t, "2024-03-10T01:45:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	// Ninety seconds past: still inside the grace, scheduled.
	created, err = svc.Materialize(ctx, def, 0, mustUTC(t, "2024-03-10T01:41:30Z"))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}

func TestMaterialize_DisabledAndInactiveProduceNothing(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 3)
	ctx := context.Background()
	now := mustUTC(t, "2024-03-09T20:00:00Z")

	habit := seedHabit(t, gdb, reminder.Habit{OwnerID: 1, Title: "Run", Active: true, StartDate: "2024-01-01"})
	disabled := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetHabit, TargetID: habit.ID,
		Anchor: reminder.AnchorHabitTime, TimeOfDayMinutes: 420, Enabled: false,
	})
	created, err := svc.Materialize(ctx, disabled, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	inactive := seedHabit(t, gdb, reminder.Habit{OwnerID: 1, Title: "Swim", Active: false, StartDate: "2024-01-01"})
	def := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetHabit, TargetID: inactive.ID,
		Anchor: reminder.AnchorHabitTime, TimeOfDayMinutes: 420, Enabled: true,
	})
	created, err = svc.Materialize(ctx, def, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 0, created)

	// Start date beyond the window: nothing until it activates.
	future := seedHabit(t, gdb, reminder.Habit{OwnerID: 1, Title: "Ski", Active: true, StartDate: "2025-01-01"})
	futureDef := seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetHabit, TargetID: future.ID,
		Anchor: reminder.AnchorHabitTime, TimeOfDayMinutes: 420, Enabled: true,
	})
	created, err = svc.Materialize(ctx, futureDef, 480, now)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
}

func TestResync_ReplacesEditedTask(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 14)
	ctx := context.Background()
	seedEndpoint(t, gdb, 1, 480)

	task := seedTask(t, gdb, reminder.Task{
		OwnerID: 1, Title: "T1", ScopeKey: "2024-03-10",
		StartMinute: intp(540), RemindBeforeMinutes: 5,
		Status: reminder.TaskStatusTodo,
	})
	seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetTask, TargetID: task.ID,
		Anchor: reminder.AnchorTaskStart, Enabled: true,
	})

	now := mustUTC(t, "2024-03-09T20:00:00Z")
	rep, err := svc.Resync(ctx, 1, reminder.TargetTask, task.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Created)

	// The owner moves the task from 09:00 to 10:00.
	require.NoError(t, gdb.Model(&reminder.Task{}).Where("id = ?", task.ID).
		Update("start_minute", 600).Error)

	rep, err = svc.Resync(ctx, 1, reminder.TargetTask, task.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Cancelled)
	assert.Equal(t, 1, rep.Created)

	jobs := jobsForTarget(t, gdb, reminder.TargetTask, task.ID)
	require.Len(t, jobs, 1, "old fire instance must be gone")
	assert.True(t, jobs[0].RunAt.UTC().Equal(mustUTC(t, "2024-03-10T01:55:00Z")),
		"got run_at %s", jobs[0].RunAt.UTC())
}

func TestBackfill_CatchesUpThenSkips(t *testing.T) {
	gdb := newTestDB(t)
	svc := newService(gdb, 3)
	ctx := context.Background()

	task := seedTask(t, gdb, reminder.Task{
		OwnerID: 1, Title: "Plan week", ScopeKey: "2024-03-11",
		StartMinute: intp(540), Status: reminder.TaskStatusTodo,
	})
	seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetTask, TargetID: task.ID,
		Anchor: reminder.AnchorTaskStart, Enabled: true,
	})
	habit := seedHabit(t, gdb, reminder.Habit{OwnerID: 1, Title: "Stretch", Active: true, StartDate: "2024-01-01"})
	seedDefinition(t, gdb, reminder.Definition{
		OwnerID: 1, TargetType: reminder.TargetHabit, TargetID: habit.ID,
		Anchor: reminder.AnchorHabitTime, TimeOfDayMinutes: 420, Enabled: true,
	})

	now := mustUTC(t, "2024-03-09T20:00:00Z")
	rep, err := svc.Backfill(ctx, 1, 480, now)
	require.NoError(t, err)
	assert.False(t, rep.Skipped)
	assert.Equal(t, 2, rep.Targets)
	assert.Equal(t, 4, rep.Created) // 1 task + 3 habit days

	// Fresh jobs exist now, so an immediately repeated registration no-ops.
	rep, err = svc.Backfill(ctx, 1, 480, now)
	require.NoError(t, err)
	assert.True(t, rep.Skipped)
}
