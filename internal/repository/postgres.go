// Package repository persists awakening events and reads the subject
// registry from Postgres.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/sweeney/crib-sensor/internal/config"
)

// Schema creates the tables crib-server needs. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS awakening_events (
	id             BIGSERIAL PRIMARY KEY,
	subject_id     TEXT NOT NULL REFERENCES subjects(id),
	event_metadata JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS awakening_events_subject_awakened
	ON awakening_events (subject_id, ((event_metadata->>'awakened_at')));

CREATE TABLE IF NOT EXISTS sensor_readings (
	subject_id    TEXT NOT NULL REFERENCES subjects(id),
	recorded_at   TIMESTAMPTZ NOT NULL,
	temp_celsius  DOUBLE PRECISION,
	humidity      DOUBLE PRECISION,
	noise_decibel DOUBLE PRECISION
);
`

// Open connects to Postgres. It does not ping; callers decide how to wait
// for the database.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	return db, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
