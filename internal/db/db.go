package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"remindd/internal/reminder"
	"remindd/internal/schedule"
	"remindd/internal/sweep"
)

// Connect opens the configured backend. Postgres is the production store;
// sqlite exists so a fresh checkout (and the tests) run without one.
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite", "sqlite3":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

// Migrate creates the tables this core owns plus their query indexes. The
// uniqueness constraints that carry the at-most-once guarantees come from
// the model tags; these are only lookup helpers.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&schedule.Job{},
		&sweep.Record{},
	); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_jobs_due on scheduled_jobs(status, run_at);`,
		`create index if not exists idx_jobs_target on scheduled_jobs(owner_id, target_type, target_id, status);`,
		`create index if not exists idx_records_status on delivery_records(status, updated_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}
	return nil
}

// MigrateSource creates the externally-owned source tables. In production
// the CRUD system migrates these; this path serves the sqlite dev mode and
// the tests. tasks needs raw DDL because its tags column is a Postgres
// array, stored as a plain array literal under sqlite.
func MigrateSource(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&reminder.Definition{},
		&reminder.Habit{},
		&reminder.Endpoint{},
	); err != nil {
		return err
	}

	tagsType := "text[]"
	serial := "bigserial primary key"
	ts := "timestamptz"
	if gdb.Dialector.Name() == "sqlite" {
		tagsType = "text"
		serial = "integer primary key autoincrement"
		ts = "datetime"
	}
	ddl := fmt.Sprintf(`create table if not exists tasks (
		id %s,
		owner_id bigint not null,
		title text not null default '',
		scope_key text not null default '',
		start_minute bigint,
		end_minute bigint,
		remind_before_minutes bigint not null default 0,
		status text not null default 'todo',
		tags %s,
		created_at %s,
		updated_at %s
	);`, serial, tagsType, ts, ts)
	if err := gdb.Exec(ddl).Error; err != nil {
		return err
	}
	return gdb.Exec(`create index if not exists idx_tasks_owner_scope on tasks(owner_id, status, scope_key);`).Error
}
