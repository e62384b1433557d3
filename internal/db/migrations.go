package db

import (
	"errors"
	"fmt"

	"github.com/marcus/dispatchd/internal/logging"
)

// Migration represents a single schema change. SQL must run unchanged on
// both sqlite and postgres.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: tasks, staff, worker_performance, worker_stats",
		SQL:         migration001SQL,
	},
	{
		Version:     2,
		Description: "add vacancy_windows ledger for calendar ingestion",
		SQL:         migration002SQL,
	},
	{
		Version:     3,
		Description: "add tenant_settings for per-tenant language",
		SQL:         migration003SQL,
	},
	{
		Version:     4,
		Description: "key vacancy_windows by room",
		SQL:         migration004SQL,
	},
}

// Timestamps are fixed-width UTC text so ordering is lexical on every backend.
const migration001SQL = `
CREATE TABLE tasks (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    task_type       TEXT NOT NULL,
    room            TEXT NOT NULL DEFAULT '',
    room_id         TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    worker_notes    TEXT NOT NULL DEFAULT '',
    staff_id        TEXT,
    status          TEXT NOT NULL,
    created_at      TEXT NOT NULL,
    assigned_at     TEXT,
    on_the_way_at   TEXT,
    started_at      TEXT,
    finished_at     TEXT,
    due_at          TEXT,
    points_awarded  INTEGER
);

CREATE INDEX idx_tasks_tenant_status ON tasks(tenant_id, status, created_at);
CREATE INDEX idx_tasks_tenant_staff ON tasks(tenant_id, staff_id);
CREATE INDEX idx_tasks_tenant_created ON tasks(tenant_id, created_at);

CREATE TABLE staff (
    tenant_id        TEXT NOT NULL,
    id               TEXT NOT NULL,
    name             TEXT NOT NULL,
    phone            TEXT NOT NULL DEFAULT '',
    language         TEXT NOT NULL DEFAULT '',
    photo_url        TEXT NOT NULL DEFAULT '',
    role             TEXT NOT NULL DEFAULT '',
    active           BOOLEAN NOT NULL DEFAULT FALSE,
    on_shift         BOOLEAN NOT NULL DEFAULT FALSE,
    last_clock_in    TEXT,
    last_clock_out   TEXT,
    last_lat         DOUBLE PRECISION,
    last_lng         DOUBLE PRECISION,
    last_location_at TEXT,
    points           INTEGER NOT NULL DEFAULT 0,
    gold_points      INTEGER NOT NULL DEFAULT 0,
    last_assigned_at TEXT,
    created_at       TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX idx_staff_tenant_phone ON staff(tenant_id, phone);

CREATE TABLE worker_performance (
    task_id          TEXT PRIMARY KEY,
    tenant_id        TEXT NOT NULL,
    staff_id         TEXT NOT NULL,
    staff_name       TEXT NOT NULL DEFAULT '',
    room             TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    created_at       TEXT,
    assigned_at      TEXT,
    started_at       TEXT,
    finished_at      TEXT NOT NULL,
    duration_seconds INTEGER,
    work_date        TEXT NOT NULL
);

CREATE INDEX idx_perf_tenant_staff_date ON worker_performance(tenant_id, staff_id, work_date);
CREATE INDEX idx_perf_tenant_finished ON worker_performance(tenant_id, finished_at);

CREATE TABLE worker_stats (
    tenant_id            TEXT NOT NULL,
    staff_id             TEXT NOT NULL,
    work_date            TEXT NOT NULL,
    staff_name           TEXT NOT NULL DEFAULT '',
    tasks_total          INTEGER NOT NULL DEFAULT 0,
    tasks_done           INTEGER NOT NULL DEFAULT 0,
    avg_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    first_activity       TEXT,
    last_activity        TEXT,
    updated_at           TEXT NOT NULL,
    PRIMARY KEY (tenant_id, staff_id, work_date)
);
`

const migration002SQL = `
CREATE TABLE vacancy_windows (
    tenant_id  TEXT NOT NULL,
    checkin    TEXT NOT NULL,
    checkout   TEXT NOT NULL,
    task_id    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, checkin, checkout)
);
`

// Windows recorded before rooms were tracked keep an empty room key.
const migration004SQL = `
CREATE TABLE vacancy_ledger (
    tenant_id  TEXT NOT NULL,
    room_key   TEXT NOT NULL DEFAULT '',
    checkin    TEXT NOT NULL,
    checkout   TEXT NOT NULL,
    task_id    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, room_key, checkin, checkout)
);

INSERT INTO vacancy_ledger (tenant_id, room_key, checkin, checkout, task_id, created_at)
SELECT tenant_id, '', checkin, checkout, task_id, created_at FROM vacancy_windows;

DROP TABLE vacancy_windows;

ALTER TABLE vacancy_ledger RENAME TO vacancy_windows;
`

const migration003SQL = `
CREATE TABLE tenant_settings (
    tenant_id  TEXT PRIMARY KEY,
    language   TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);
`

// Migrate runs all pending migrations inside transactions.
func Migrate(d *DB) error {
	if d == nil || d.sql == nil {
		return errors.New("db is nil")
	}

	if _, err := d.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at TEXT)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	currentVersion, err := CurrentVersion(d)
	if err != nil {
		return err
	}

	log := logging.Component("db")
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, err := d.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(d.Rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`), migration.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", migration.Version, err)
		}

		log.InfoCtx("applied migration", logging.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		currentVersion = migration.Version
	}

	return nil
}

// CurrentVersion returns the current schema version (0 if no migrations applied).
func CurrentVersion(d *DB) (int, error) {
	if d == nil || d.sql == nil {
		return 0, errors.New("db is nil")
	}

	row := d.sql.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	var version int
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}

// LatestVersion is the version Migrate brings a database to.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}
