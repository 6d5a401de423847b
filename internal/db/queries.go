package db

const postgresSchema = `CREATE TABLE IF NOT EXISTS research_sessions (
	id              TEXT PRIMARY KEY,
	topic           TEXT NOT NULL,
	depth           TEXT NOT NULL,
	status          TEXT NOT NULL,
	coverage_score  INTEGER NOT NULL DEFAULT 0,
	source_count    INTEGER NOT NULL DEFAULT 0,
	iteration_count INTEGER NOT NULL DEFAULT 0,
	exit_reason     TEXT NOT NULL DEFAULT '',
	report          TEXT NOT NULL DEFAULT '',
	metadata        JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	completed_at    TIMESTAMPTZ
)`

const sqliteSchema = `CREATE TABLE IF NOT EXISTS research_sessions (
	id              TEXT PRIMARY KEY,
	topic           TEXT NOT NULL,
	depth           TEXT NOT NULL,
	status          TEXT NOT NULL,
	coverage_score  INTEGER NOT NULL DEFAULT 0,
	source_count    INTEGER NOT NULL DEFAULT 0,
	iteration_count INTEGER NOT NULL DEFAULT 0,
	exit_reason     TEXT NOT NULL DEFAULT '',
	report          TEXT NOT NULL DEFAULT '',
	metadata        TEXT,
	created_at      DATETIME NOT NULL,
	completed_at    DATETIME
)`

const upsertSessionQuery = `INSERT INTO research_sessions (
	id, topic, depth, status, coverage_score, source_count, iteration_count,
	exit_reason, report, metadata, created_at, completed_at
) VALUES (
	:id, :topic, :depth, :status, :coverage_score, :source_count, :iteration_count,
	:exit_reason, :report, :metadata, :created_at, :completed_at
) ON CONFLICT (id) DO UPDATE SET
	status = excluded.status,
	coverage_score = excluded.coverage_score,
	source_count = excluded.source_count,
	iteration_count = excluded.iteration_count,
	exit_reason = excluded.exit_reason,
	report = excluded.report,
	metadata = excluded.metadata,
	completed_at = excluded.completed_at`

const selectSessionQuery = `SELECT id, topic, depth, status, coverage_score, source_count, iteration_count,
	exit_reason, report, metadata, created_at, completed_at
FROM research_sessions`
