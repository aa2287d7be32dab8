package sweep

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"remindd/internal/clock"
	"remindd/internal/identity"
	"remindd/internal/push"
	"remindd/internal/reminder"
)

const (
	DefaultLookback  = 30 * time.Second
	DefaultLookahead = 90 * time.Second

	// Endpoints untouched for this long are disabled during preflight.
	DefaultStaleTTL = 24 * time.Hour

	// Claims still "sending" after this long are reconciled to terminal.
	stuckClaimAge = 5 * time.Minute

	defaultParallelism = 4
)

// Pusher is the delivery transport. push.Client implements it; tests swap
// in a fake.
type Pusher interface {
	Send(ctx context.Context, ep reminder.Endpoint, msg push.Message) (push.Result, error)
}

// Service runs the delivery sweep. Safe to invoke on overlapping schedules:
// correctness rests entirely on the ledger's conditional insert.
type Service struct {
	Source      *reminder.Repo
	Ledger      *Ledger
	Pusher      Pusher
	Lookback    time.Duration
	Lookahead   time.Duration
	StaleTTL    time.Duration
	Parallelism int
	Log         zerolog.Logger

	mu   sync.Mutex
	last *Summary
}

// Last returns the most recent summary, nil before the first run.
func (s *Service) Last() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type counters struct {
	candidates atomic.Int64
	claimed    atomic.Int64
	duplicates atomic.Int64
	sentOK     atomic.Int64
	sendFailed atomic.Int64
}

// Run executes one sweep pass at the given instant. Per-event failures are
// recorded, never propagated; a non-nil error means the pass itself could
// not scan (storage unavailable past preflight).
func (s *Service) Run(ctx context.Context, now time.Time) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString(), At: now}

	if missing := s.Source.MissingTables(); len(missing) > 0 {
		// Fresh install before migrations; report and bail rather than fail.
		sum.MissingTables = missing
		s.Log.Warn().Strs("tables", missing).Msg("sweep skipped, source tables missing")
		s.store(sum)
		return sum, nil
	}

	// Best-effort housekeeping; a broken store here must not stop delivery.
	if n, err := s.Source.DisableStale(ctx, now.Add(-s.staleTTL()), now); err != nil {
		s.Log.Debug().Err(err).Msg("stale endpoint cleanup failed")
	} else {
		sum.StaleDisabled = n
	}
	if n, err := s.Ledger.ReconcileStuck(ctx, now.Add(-stuckClaimAge)); err != nil {
		s.Log.Debug().Err(err).Msg("stuck claim reconcile failed")
	} else {
		sum.StuckReconciled = n
	}

	endpoints, err := s.Source.EnabledEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}
	sum.Endpoints = len(endpoints)

	var c counters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism())
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.sendFailed.Add(1)
					s.Log.Error().Any("panic", r).Str("stack", string(debug.Stack())).
						Str("endpoint", ep.ID).Msg("panic sweeping endpoint")
				}
			}()
			s.sweepEndpoint(gctx, ep, now, &c)
			return nil
		})
	}
	_ = g.Wait()

	sum.Candidates = int(c.candidates.Load())
	sum.Claimed = int(c.claimed.Load())
	sum.Duplicates = int(c.duplicates.Load())
	sum.SentOK = int(c.sentOK.Load())
	sum.SendFailed = int(c.sendFailed.Load())
	s.store(sum)

	s.Log.Info().
		Str("run", sum.RunID).
		Int("endpoints", sum.Endpoints).
		Int("candidates", sum.Candidates).
		Int("claimed", sum.Claimed).
		Int("sent_ok", sum.SentOK).
		Int("send_failed", sum.SendFailed).
		Msg("sweep complete")
	return sum, nil
}

func (s *Service) sweepEndpoint(ctx context.Context, ep reminder.Endpoint, now time.Time, c *counters) {
	tz := ep.TimezoneOffsetMinutes
	if !clock.ValidOffset(tz) {
		return
	}
	winStart := now.Add(-s.lookback())
	winEnd := now.Add(s.lookahead())

	cands, err := s.collect(ctx, ep.OwnerID, tz, winStart, winEnd)
	if err != nil {
		c.sendFailed.Add(1)
		s.Log.Warn().Err(err).Str("endpoint", ep.ID).Msg("candidate scan failed")
		return
	}

	for _, cand := range cands {
		c.candidates.Add(1)

		created, err := s.Ledger.Claim(ctx, ep.ID, cand.eventKey)
		if err != nil {
			c.sendFailed.Add(1)
			s.Log.Warn().Err(err).Str("event", cand.eventKey).Msg("claim failed")
			continue
		}
		if !created {
			// Another sweep iteration got here first. Expected, not logged.
			c.duplicates.Add(1)
			continue
		}
		c.claimed.Add(1)

		res, err := s.Pusher.Send(ctx, ep, cand.msg)
		switch {
		case err != nil:
			c.sendFailed.Add(1)
			s.setStatus(ctx, ep.ID, cand.eventKey, StatusException)
			s.Log.Warn().Err(err).Str("event", cand.eventKey).Msg("push exception")
		case !res.OK:
			c.sendFailed.Add(1)
			s.setStatus(ctx, ep.ID, cand.eventKey, ErrorStatus(res.StatusCode))
			if res.Gone {
				if derr := s.Source.DisableEndpoint(ctx, ep.ID, now); derr != nil {
					s.Log.Warn().Err(derr).Str("endpoint", ep.ID).Msg("disable failed")
				}
				s.Log.Info().Str("endpoint", ep.ID).Int("status", res.StatusCode).
					Msg("endpoint gone, disabled")
				return
			}
		default:
			c.sentOK.Add(1)
			s.setStatus(ctx, ep.ID, cand.eventKey, StatusSent)
		}
	}
}

func (s *Service) setStatus(ctx context.Context, subID, eventKey, status string) {
	if err := s.Ledger.SetStatus(ctx, subID, eventKey, status); err != nil {
		s.Log.Warn().Err(err).Str("event", eventKey).Str("status", status).
			Msg("delivery status write failed")
	}
}

type candidate struct {
	eventKey string
	fire     time.Time
	msg      push.Message
}

// collect recomputes the owner's due events inside the window directly
// from the source tables, through the same clock and identity arithmetic
// the materializer uses.
func (s *Service) collect(ctx context.Context, ownerID uint64, tz int, winStart, winEnd time.Time) ([]candidate, error) {
	// The window may straddle local midnight on either side.
	keys := dayKeys(tz, winStart, winEnd)

	var out []candidate

	tasks, err := s.Source.TodoTasksInScope(ctx, ownerID, keys)
	if err != nil {
		return nil, err
	}
	if len(tasks) > 0 {
		defs, err := s.Source.EnabledDefinitions(ctx, ownerID, reminder.TargetTask)
		if err != nil {
			return nil, err
		}
		byTarget := map[uint64][]reminder.Definition{}
		for _, d := range defs {
			if d.Valid() {
				byTarget[d.TargetID] = append(byTarget[d.TargetID], d)
			}
		}
		for _, t := range tasks {
			if t.Title == "" || !clock.IsDayKey(t.ScopeKey) {
				continue
			}
			for _, d := range byTarget[t.ID] {
				minute, ok := t.AnchorMinute(d.Anchor)
				if !ok {
					continue
				}
				fire, err := clock.FireInstant(t.ScopeKey, tz, minute)
				if err != nil {
					continue
				}
				fire = fire.Add(time.Duration(reminder.EffectiveOffset(d, t)) * time.Minute)
				if !inWindow(fire, winStart, winEnd) || !beforeCutoff(d, t.ScopeKey, tz, fire) {
					continue
				}
				body := "Starts at " + clock.MinuteLabel(minute)
				if d.Anchor == reminder.AnchorTaskEnd {
					body = "Ends at " + clock.MinuteLabel(minute)
				}
				key := identity.ReminderKey(ownerID, d.TargetType, d.TargetID, d.Anchor, identity.NoMinute)
				out = append(out, candidate{
					eventKey: identity.FireKey(key, fire),
					fire:     fire,
					msg: push.Message{
						Title: t.Title,
						Body:  body,
						URL:   fmt.Sprintf("/tasks/%d", t.ID),
						Topic: key,
					},
				})
			}
		}
	}

	habitDefs, err := s.Source.EnabledDefinitions(ctx, ownerID, reminder.TargetHabit)
	if err != nil {
		return nil, err
	}
	if len(habitDefs) > 0 {
		habits, err := s.Source.ActiveHabits(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		for _, d := range habitDefs {
			if !d.Valid() {
				continue
			}
			h, ok := habits[d.TargetID]
			if !ok || h.Title == "" {
				continue
			}
			key := identity.ReminderKey(ownerID, d.TargetType, d.TargetID, d.Anchor, d.TimeOfDayMinutes)
			for _, day := range keys {
				if !h.CoversDay(day) {
					continue
				}
				fire, err := clock.FireInstant(day, tz, d.TimeOfDayMinutes)
				if err != nil {
					continue
				}
				fire = fire.Add(time.Duration(d.OffsetMinutes) * time.Minute)
				if !inWindow(fire, winStart, winEnd) || !beforeCutoff(d, day, tz, fire) {
					continue
				}
				out = append(out, candidate{
					eventKey: identity.FireKey(key, fire),
					fire:     fire,
					msg: push.Message{
						Title: h.Title,
						Body:  "Check in at " + clock.MinuteLabel(d.TimeOfDayMinutes),
						URL:   fmt.Sprintf("/habits/%d?day=%s", h.ID, day),
						Topic: key,
					},
				})
			}
		}
	}

	return out, nil
}

// inWindow defends against skew between day-key bucketing and candidate
// filtering: whatever the bucket said, the instant itself must land inside
// [winStart, winEnd].
func inWindow(fire, winStart, winEnd time.Time) bool {
	return !fire.Before(winStart) && !fire.After(winEnd)
}

// beforeCutoff mirrors the materializer's end-of-day rule: the firing must
// land strictly before the definition's end boundary when set.
func beforeCutoff(d reminder.Definition, dayKey string, tz int, fire time.Time) bool {
	if d.EndTimeOfDayMinutes == nil {
		return true
	}
	boundary, err := clock.FireInstant(dayKey, tz, *d.EndTimeOfDayMinutes)
	if err != nil {
		return false
	}
	return fire.Before(boundary)
}

func dayKeys(tz int, winStart, winEnd time.Time) []string {
	keys := []string{clock.DayKey(winStart, tz)}
	if k := clock.DayKey(winEnd, tz); k != keys[len(keys)-1] {
		keys = append(keys, k)
	}
	return keys
}

func (s *Service) store(sum *Summary) {
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()
}

func (s *Service) lookback() time.Duration {
	if s.Lookback > 0 {
		return s.Lookback
	}
	return DefaultLookback
}

func (s *Service) lookahead() time.Duration {
	if s.Lookahead > 0 {
		return s.Lookahead
	}
	return DefaultLookahead
}

func (s *Service) staleTTL() time.Duration {
	if s.StaleTTL > 0 {
		return s.StaleTTL
	}
	return DefaultStaleTTL
}

func (s *Service) parallelism() int {
	if s.Parallelism > 0 {
		return s.Parallelism
	}
	return defaultParallelism
}
