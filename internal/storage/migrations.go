package storage

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS monitors (
	id             INTEGER PRIMARY KEY,
	name           TEXT    NOT NULL,
	group_name     TEXT    NOT NULL DEFAULT '',
	type           TEXT    NOT NULL,
	url            TEXT    NOT NULL,
	interval_secs  INTEGER NOT NULL DEFAULT 60,
	timeout_secs   INTEGER NOT NULL DEFAULT 30,
	public         INTEGER NOT NULL DEFAULT 1,
	conditions     TEXT    NOT NULL DEFAULT '[]',
	dns_query_name TEXT    NOT NULL DEFAULT '',
	dns_query_type TEXT    NOT NULL DEFAULT '',
	created_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now')),
	updated_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ','now'))
);

CREATE TABLE IF NOT EXISTS checks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	monitor_id    INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	status        TEXT    NOT NULL,
	response_time INTEGER NOT NULL DEFAULT 0,
	error         TEXT    NOT NULL DEFAULT '',
	checked_at    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checks_monitor_checked ON checks(monitor_id, checked_at DESC);

CREATE TABLE IF NOT EXISTS incidents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	monitor_id  INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	status      TEXT    NOT NULL DEFAULT 'investigating',
	severity    TEXT    NOT NULL DEFAULT 'minor',
	title       TEXT    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	started_at  TEXT    NOT NULL,
	resolved_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_one_active
	ON incidents(monitor_id) WHERE resolved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_incidents_monitor ON incidents(monitor_id, started_at DESC);

CREATE TABLE IF NOT EXISTS maintenance_windows (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	monitor_id  INTEGER REFERENCES monitors(id) ON DELETE CASCADE,
	start_time  TEXT    NOT NULL,
	end_time    TEXT    NOT NULL,
	timezone    TEXT    NOT NULL DEFAULT 'UTC',
	description TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_maintenance_times ON maintenance_windows(start_time, end_time);

CREATE TABLE IF NOT EXISTS status_history (
	monitor_id        INTEGER NOT NULL REFERENCES monitors(id) ON DELETE CASCADE,
	date              TEXT    NOT NULL,
	uptime_pct        REAL    NOT NULL DEFAULT 0,
	avg_response_time INTEGER NOT NULL DEFAULT 0,
	total_checks      INTEGER NOT NULL DEFAULT 0,
	successful_checks INTEGER NOT NULL DEFAULT 0,
	UNIQUE(monitor_id, date)
);

CREATE TABLE IF NOT EXISTS repeating_jobs (
	key        TEXT    PRIMARY KEY,
	monitor_id INTEGER NOT NULL,
	every_ms   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_jobs (
	id           TEXT    PRIMARY KEY,
	key          TEXT    NOT NULL,
	monitor_id   INTEGER NOT NULL,
	state        TEXT    NOT NULL DEFAULT 'pending',
	run_at       TEXT    NOT NULL,
	claimed_at   TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 2,
	every_ms     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT    NOT NULL DEFAULT '',
	created_at   TEXT    NOT NULL,
	finished_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_queue_jobs_due ON queue_jobs(state, run_at);
CREATE INDEX IF NOT EXISTS idx_queue_jobs_key ON queue_jobs(key, created_at);
`

// migrations holds incremental schema changes after the initial schema.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks(checked_at);
CREATE INDEX IF NOT EXISTS idx_queue_jobs_claimed ON queue_jobs(state, claimed_at);`,
	},
}
