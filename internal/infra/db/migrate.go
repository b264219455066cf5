package db

import (
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS message_bodies (
    id          BIGSERIAL PRIMARY KEY,
    app_id      TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    kind        VARCHAR(16) NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    media_ref   TEXT NOT NULL DEFAULT '',
    text        TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    url2        TEXT NOT NULL DEFAULT '',
    survey_ref  TEXT NOT NULL DEFAULT '',
    fingerprint CHAR(64) NOT NULL UNIQUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS delivery_logs (
    id             BIGSERIAL PRIMARY KEY,
    body_id        BIGINT NOT NULL REFERENCES message_bodies(id),
    recipient      TEXT NOT NULL,
    directory_code TEXT NOT NULL DEFAULT '',
    fingerprint    CHAR(64) NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    sent_at        TIMESTAMPTZ,
    received_at    TIMESTAMPTZ,
    read_at        TIMESTAMPTZ,
    success        BOOLEAN,
    error_text     VARCHAR(512) NOT NULL DEFAULT '',
    task_id        TEXT NOT NULL DEFAULT '',
    request_id     TEXT NOT NULL DEFAULT '',
    delivery_id    UUID NOT NULL UNIQUE,
    recalled       BOOLEAN NOT NULL DEFAULT FALSE,
    recalled_at    TIMESTAMPTZ,
    done           BOOLEAN NOT NULL DEFAULT FALSE,
    retry_count    INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS recall_records (
    id             BIGSERIAL PRIMARY KEY,
    app_id         TEXT NOT NULL,
    body_id        BIGINT NOT NULL REFERENCES message_bodies(id),
    task_id        TEXT NOT NULL,
    recalled_at    TIMESTAMPTZ NOT NULL,
    success        BOOLEAN NOT NULL,
    affected_count INTEGER NOT NULL DEFAULT 0,
    raw_result     TEXT NOT NULL DEFAULT '',
    UNIQUE (app_id, body_id, task_id)
)`,
	`CREATE TABLE IF NOT EXISTS periodic_schedules (
    id           BIGSERIAL PRIMARY KEY,
    cron_expr    TEXT NOT NULL,
    max_runs     INTEGER NOT NULL DEFAULT 0,
    deadline     TIMESTAMPTZ,
    body_id      BIGINT NOT NULL REFERENCES message_bodies(id),
    recipients   TEXT[] NOT NULL DEFAULT '{}',
    org_units    TEXT[] NOT NULL DEFAULT '{}',
    remark       TEXT NOT NULL DEFAULT '',
    state        VARCHAR(16) NOT NULL DEFAULT 'draft',
    job_id       INTEGER NOT NULL DEFAULT 0,
    run_count    INTEGER NOT NULL DEFAULT 0,
    activated_at TIMESTAMPTZ,
    deleted_at   TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    CONSTRAINT chk_schedule_state CHECK (state IN ('draft', 'enabled', 'disabled', 'expired', 'deleted'))
)`,
	// UNLOGGED: cache rows are disposable and are rebuilt from the stores on miss
	`CREATE UNLOGGED TABLE IF NOT EXISTS dedup_cache (
    namespace  TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (namespace, key)
)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_body_id ON delivery_logs(body_id)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_recipient ON delivery_logs(recipient)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_task_id ON delivery_logs(task_id) WHERE task_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_fingerprint ON delivery_logs(fingerprint, created_at DESC) WHERE recalled = FALSE`,
	// compensation sweep: today's failed or stale rows
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_retry ON delivery_logs(created_at) WHERE recalled = FALSE AND success IS NOT TRUE`,
	`CREATE INDEX IF NOT EXISTS idx_periodic_schedules_state ON periodic_schedules(state)`,
	`CREATE INDEX IF NOT EXISTS idx_dedup_cache_expires_at ON dedup_cache(expires_at)`,
}

// MigrateUp creates the pipeline tables and indexes.
func MigrateUp(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}
