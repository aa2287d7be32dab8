package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"remindd/internal/clock"
	"remindd/internal/identity"
	"remindd/internal/reminder"
)

// Instants further in the past than this at materialization time can never
// be usefully executed and are silently dropped.
const pastGrace = 2 * time.Minute

// DefaultWindowDays bounds how far ahead jobs are materialized.
const DefaultWindowDays = 14

// Service expands reminder definitions into scheduled jobs and replaces
// them wholesale when a source entity changes. Materialization is cheap and
// idempotent, so every edit does a full cancel-and-replace, never a diff.
//
// Concurrent resyncs for the same target need serialization at the call
// site; different targets are safe.
type Service struct {
	DB         *gorm.DB
	WindowDays int
	Log        zerolog.Logger
}

func (s *Service) windowDays() int {
	if s.WindowDays > 0 {
		return s.WindowDays
	}
	return DefaultWindowDays
}

// Resync cancels every non-terminal job for the target and re-materializes
// from its current definitions. This is the entry point the CRUD layer must
// call on any reminder, task or habit edit.
func (s *Service) Resync(ctx context.Context, ownerID uint64, targetType string, targetID uint64, now time.Time) (ResyncReport, error) {
	src := &reminder.Repo{DB: s.DB}
	tz, err := src.OwnerTimezone(ctx, ownerID)
	if err != nil {
		return ResyncReport{}, fmt.Errorf("resolve owner timezone: %w", err)
	}
	return s.resync(ctx, ownerID, targetType, targetID, tz, now)
}

func (s *Service) resync(ctx context.Context, ownerID uint64, targetType string, targetID uint64, tz int, now time.Time) (ResyncReport, error) {
	var rep ResyncReport
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobs := &Repo{DB: tx}
		cancelled, err := jobs.CancelTarget(ctx, ownerID, targetType, targetID)
		if err != nil {
			return err
		}
		rep.Cancelled = cancelled

		defs, err := (&reminder.Repo{DB: tx}).DefinitionsForTarget(ctx, ownerID, targetType, targetID)
		if err != nil {
			return err
		}
		for _, def := range defs {
			n, err := s.materialize(ctx, tx, def, tz, now)
			if err != nil {
				return err
			}
			rep.Created += n
		}
		return nil
	})
	if err != nil {
		return ResyncReport{}, err
	}

	s.Log.Debug().
		Uint64("owner", ownerID).
		Str("target_type", targetType).
		Uint64("target", targetID).
		Int64("cancelled", rep.Cancelled).
		Int("created", rep.Created).
		Msg("resynced target")
	return rep, nil
}

// Materialize expands one definition into at most WindowDays future jobs.
// Calling it twice with identical input produces no duplicate rows.
func (s *Service) Materialize(ctx context.Context, def reminder.Definition, tzOffsetMinutes int, now time.Time) (int, error) {
	return s.materialize(ctx, s.DB, def, tzOffsetMinutes, now)
}

func (s *Service) materialize(ctx context.Context, tx *gorm.DB, def reminder.Definition, tz int, now time.Time) (int, error) {
	if !def.Enabled || !def.Valid() || !clock.ValidOffset(tz) {
		return 0, nil
	}
	src := &reminder.Repo{DB: tx}

	switch def.TargetType {
	case reminder.TargetTask:
		return s.materializeTask(ctx, tx, src, def, tz, now)
	case reminder.TargetHabit:
		return s.materializeHabit(ctx, tx, src, def, tz, now)
	}
	return 0, nil
}

func (s *Service) materializeTask(ctx context.Context, tx *gorm.DB, src *reminder.Repo, def reminder.Definition, tz int, now time.Time) (int, error) {
	t, err := src.TaskByID(ctx, def.OwnerID, def.TargetID)
	if err == reminder.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if t.Status != reminder.TaskStatusTodo || t.Title == "" || !clock.IsDayKey(t.ScopeKey) {
		// Done, anonymous or week/month/year scoped tasks have no concrete
		// wall-clock date to remind at. Normal filtering, not an error.
		return 0, nil
	}

	today := clock.DayKey(now, tz)
	windowEnd, err := clock.AddDays(today, s.windowDays()-1)
	if err != nil {
		return 0, err
	}
	if t.ScopeKey < today || t.ScopeKey > windowEnd {
		return 0, nil
	}

	minute, ok := t.AnchorMinute(def.Anchor)
	if !ok {
		return 0, nil
	}
	fire, err := clock.FireInstant(t.ScopeKey, tz, minute)
	if err != nil {
		return 0, nil
	}
	fire = fire.Add(time.Duration(reminder.EffectiveOffset(def, t)) * time.Minute)
	if !s.schedulable(def, t.ScopeKey, tz, fire, now) {
		return 0, nil
	}

	var body string
	if def.Anchor == reminder.AnchorTaskStart {
		body = "Starts at " + clock.MinuteLabel(minute)
	} else {
		body = "Ends at " + clock.MinuteLabel(minute)
	}
	key := identity.ReminderKey(def.OwnerID, def.TargetType, def.TargetID, def.Anchor, identity.NoMinute)
	created, err := (&Repo{DB: tx}).InsertIfAbsent(ctx, &Job{
		OwnerID:         def.OwnerID,
		Kind:            def.Anchor,
		TargetType:      def.TargetType,
		TargetID:        def.TargetID,
		ReminderID:      def.ID,
		DayKey:          t.ScopeKey,
		RunAt:           fire,
		TzOffsetMinutes: tz,
		Title:           t.Title,
		Body:            body,
		URL:             fmt.Sprintf("/tasks/%d", t.ID),
		Topic:           key,
		Status:          StatusPending,
		DedupeKey:       identity.FireKey(key, fire),
	})
	if err != nil {
		return 0, err
	}
	if created {
		return 1, nil
	}
	return 0, nil
}

func (s *Service) materializeHabit(ctx context.Context, tx *gorm.DB, src *reminder.Repo, def reminder.Definition, tz int, now time.Time) (int, error) {
	h, err := src.HabitByID(ctx, def.OwnerID, def.TargetID)
	if err == reminder.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !h.Active || h.Title == "" {
		return 0, nil
	}

	today := clock.DayKey(now, tz)
	key := identity.ReminderKey(def.OwnerID, def.TargetType, def.TargetID, def.Anchor, def.TimeOfDayMinutes)
	jobs := &Repo{DB: tx}

	created := 0
	for i := 0; i < s.windowDays(); i++ {
		day, err := clock.AddDays(today, i)
		if err != nil {
			return created, err
		}
		if !h.CoversDay(day) {
			continue
		}
		fire, err := clock.FireInstant(day, tz, def.TimeOfDayMinutes)
		if err != nil {
			continue
		}
		fire = fire.Add(time.Duration(def.OffsetMinutes) * time.Minute)
		if !s.schedulable(def, day, tz, fire, now) {
			continue
		}

		ok, err := jobs.InsertIfAbsent(ctx, &Job{
			OwnerID:         def.OwnerID,
			Kind:            reminder.AnchorHabitTime,
			TargetType:      def.TargetType,
			TargetID:        def.TargetID,
			ReminderID:      def.ID,
			DayKey:          day,
			RunAt:           fire,
			TzOffsetMinutes: tz,
			Title:           h.Title,
			Body:            "Check in at " + clock.MinuteLabel(def.TimeOfDayMinutes),
			URL:             fmt.Sprintf("/habits/%d?day=%s", h.ID, day),
			Topic:           key,
			Status:          StatusPending,
			DedupeKey:       identity.FireKey(key, fire),
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// schedulable applies the end-of-day cutoff and the past drop. The firing
// must land strictly before the day's end boundary when one is set.
func (s *Service) schedulable(def reminder.Definition, dayKey string, tz int, fire, now time.Time) bool {
	if def.EndTimeOfDayMinutes != nil {
		boundary, err := clock.FireInstant(dayKey, tz, *def.EndTimeOfDayMinutes)
		if err != nil || !fire.Before(boundary) {
			return false
		}
	}
	return !fire.Before(now.Add(-pastGrace))
}
