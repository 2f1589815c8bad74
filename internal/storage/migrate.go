package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements are the fixed, idempotent DDL statements that
// bootstrap the SQLite schema. Resolves the "schema bootstrap" open
// question from spec §9: an explicit migration step invoked once at
// startup, rather than the source's opportunistic schema-file lookup
// on the hot path.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vector_clocks (
		doc_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		PRIMARY KEY (doc_id, client_id)
	)`,
	`CREATE TABLE IF NOT EXISTS deltas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		changes TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deltas_doc_id ON deltas (doc_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions (user_id)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_doc_id ON snapshots (doc_id, created_at DESC)`,
}

// Migrate applies the fixed schema. Every statement is idempotent
// (CREATE ... IF NOT EXISTS), so this is safe to run on every startup.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: applying schema statement: %w", err)
		}
	}
	return nil
}
