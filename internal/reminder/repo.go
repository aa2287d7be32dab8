package reminder

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// Repo reads the externally-owned source tables. The only writes it
// performs are the DisabledAt flips on delivery endpoints, which this core
// owns operationally.
type Repo struct {
	DB *gorm.DB
}

// sourceTables are the tables the sweep cannot run without. A fresh install
// may not have migrated them yet; the sweep probes before scanning.
var sourceTables = []string{"reminder_definitions", "tasks", "habits", "delivery_endpoints"}

// MissingTables returns the source tables absent from the schema.
func (r *Repo) MissingTables() []string {
	var missing []string
	m := r.DB.Migrator()
	for _, t := range sourceTables {
		if !m.HasTable(t) {
			missing = append(missing, t)
		}
	}
	return missing
}

// DefinitionsForTarget lists every definition attached to one task or habit,
// enabled or not. Cancellation needs the disabled ones too.
func (r *Repo) DefinitionsForTarget(ctx context.Context, ownerID uint64, targetType string, targetID uint64) ([]Definition, error) {
	var defs []Definition
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND target_type = ? AND target_id = ?", ownerID, targetType, targetID).
		Find(&defs).Error
	return defs, err
}

// EnabledDefinitions lists an owner's enabled definitions of one target type.
func (r *Repo) EnabledDefinitions(ctx context.Context, ownerID uint64, targetType string) ([]Definition, error) {
	var defs []Definition
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND target_type = ? AND enabled = ?", ownerID, targetType, true).
		Find(&defs).Error
	return defs, err
}

func (r *Repo) TaskByID(ctx context.Context, ownerID, taskID uint64) (Task, error) {
	var t Task
	err := r.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", taskID, ownerID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrNotFound
	}
	return t, err
}

func (r *Repo) HabitByID(ctx context.Context, ownerID, habitID uint64) (Habit, error) {
	var h Habit
	err := r.DB.WithContext(ctx).Where("id = ? AND owner_id = ?", habitID, ownerID).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Habit{}, ErrNotFound
	}
	return h, err
}

// TodoTasksInScope lists an owner's open tasks whose scope key is one of the
// given keys. The sweep and backfill both bucket by day key first.
func (r *Repo) TodoTasksInScope(ctx context.Context, ownerID uint64, scopeKeys []string) ([]Task, error) {
	if len(scopeKeys) == 0 {
		return nil, nil
	}
	var tasks []Task
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND status = ? AND scope_key IN ?", ownerID, TaskStatusTodo, scopeKeys).
		Find(&tasks).Error
	return tasks, err
}

// ActiveHabits lists an owner's active habits keyed by id.
func (r *Repo) ActiveHabits(ctx context.Context, ownerID uint64) (map[uint64]Habit, error) {
	var habits []Habit
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND active = ?", ownerID, true).
		Find(&habits).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]Habit, len(habits))
	for _, h := range habits {
		out[h.ID] = h
	}
	return out, nil
}

// EnabledEndpoints lists every endpoint not yet disabled.
func (r *Repo) EnabledEndpoints(ctx context.Context) ([]Endpoint, error) {
	var eps []Endpoint
	err := r.DB.WithContext(ctx).Where("disabled_at IS NULL").Find(&eps).Error
	return eps, err
}

// OwnerTimezone resolves an owner's current offset from their most recently
// updated enabled endpoint. Owners with no endpoint schedule in UTC.
func (r *Repo) OwnerTimezone(ctx context.Context, ownerID uint64) (int, error) {
	var ep Endpoint
	err := r.DB.WithContext(ctx).
		Where("owner_id = ? AND disabled_at IS NULL", ownerID).
		Order("updated_at DESC").
		First(&ep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ep.TimezoneOffsetMinutes, nil
}

// DisableEndpoint sets the disabled marker; later sweeps skip the row.
func (r *Repo) DisableEndpoint(ctx context.Context, id string, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&Endpoint{}).
		Where("id = ? AND disabled_at IS NULL", id).
		Update("disabled_at", at).Error
}

// DisableStale disables endpoints not touched since the cutoff. Run as
// best-effort preflight housekeeping before each sweep.
func (r *Repo) DisableStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&Endpoint{}).
		Where("disabled_at IS NULL AND updated_at < ?", cutoff).
		Update("disabled_at", now)
	return res.RowsAffected, res.Error
}
