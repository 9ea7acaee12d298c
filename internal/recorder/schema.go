package recorder

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current recorder schema version.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    seed TEXT NOT NULL,        -- uint64 in decimal; SQLite integers are signed
    max_x REAL NOT NULL,
    max_y REAL NOT NULL,
    range_threshold REAL NOT NULL,
    node_count INTEGER NOT NULL,
    ticks INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS node_states (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    tick INTEGER NOT NULL,
    node_id TEXT NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    direction REAL NOT NULL,
    speed REAL NOT NULL,
    moving INTEGER NOT NULL,
    paused INTEGER NOT NULL,
    remaining_time INTEGER NOT NULL,
    class TEXT NOT NULL,
    seq INTEGER NOT NULL,      -- position in the frame, keeps creation order
    PRIMARY KEY (run_id, tick, node_id)
);

CREATE TABLE IF NOT EXISTS edges (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    tick INTEGER NOT NULL,
    node_a TEXT NOT NULL,
    node_b TEXT NOT NULL,
    PRIMARY KEY (run_id, tick, node_a, node_b)
);

CREATE TABLE IF NOT EXISTS schema_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// InitSchema creates the recorder tables if they do not exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO schema_meta(key, value) VALUES ('version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprint(SchemaVersion))
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
