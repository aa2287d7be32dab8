package schedule

import (
	"context"
	"time"

	"remindd/internal/clock"
	"remindd/internal/reminder"
)

// An owner with any non-terminal job created inside this window is
// considered already scheduled; backfill then does nothing.
const backfillFreshness = 5 * time.Minute

// Backfill bulk re-materializes every reminder-bearing task and habit of
// one owner. Invoked when a new delivery endpoint registers: if the durable
// job pipeline was ever down or never ran for this user, registering an
// endpoint triggers a full catch-up.
func (s *Service) Backfill(ctx context.Context, ownerID uint64, tzOffsetMinutes int, now time.Time) (BackfillReport, error) {
	jobs := &Repo{DB: s.DB}
	active, err := jobs.HasRecentActive(ctx, ownerID, now.Add(-backfillFreshness))
	if err != nil {
		return BackfillReport{}, err
	}
	if active {
		return BackfillReport{Skipped: true}, nil
	}

	src := &reminder.Repo{DB: s.DB}
	today := clock.DayKey(now, tzOffsetMinutes)
	keys := make([]string, 0, s.windowDays())
	for i := 0; i < s.windowDays(); i++ {
		day, err := clock.AddDays(today, i)
		if err != nil {
			return BackfillReport{}, err
		}
		keys = append(keys, day)
	}

	type target struct {
		typ string
		id  uint64
	}
	var targets []target

	tasks, err := src.TodoTasksInScope(ctx, ownerID, keys)
	if err != nil {
		return BackfillReport{}, err
	}
	for _, t := range tasks {
		targets = append(targets, target{reminder.TargetTask, t.ID})
	}

	habitDefs, err := src.EnabledDefinitions(ctx, ownerID, reminder.TargetHabit)
	if err != nil {
		return BackfillReport{}, err
	}
	seen := map[uint64]bool{}
	for _, d := range habitDefs {
		if !seen[d.TargetID] {
			seen[d.TargetID] = true
			targets = append(targets, target{reminder.TargetHabit, d.TargetID})
		}
	}

	rep := BackfillReport{Targets: len(targets)}
	for _, tg := range targets {
		r, err := s.resync(ctx, ownerID, tg.typ, tg.id, tzOffsetMinutes, now)
		if err != nil {
			return rep, err
		}
		rep.Created += r.Created
		rep.Cancelled += r.Cancelled
	}

	s.Log.Info().
		Uint64("owner", ownerID).
		Int("targets", rep.Targets).
		Int("created", rep.Created).
		Msg("backfilled owner schedule")
	return rep, nil
}
