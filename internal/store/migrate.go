package store

import (
	"context"
	"fmt"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// migrate creates all tables. Schema changes beyond CREATE IF NOT EXISTS
// are not supported.
func (s *Store) migrate(ctx context.Context) error {
	steps := []struct {
		name   string
		schema string
	}{
		{"log_files", `
		CREATE TABLE IF NOT EXISTS log_files (
			id         INTEGER PRIMARY KEY,
			created_at TEXT NOT NULL UNIQUE,
			last_read  TEXT
		);`},
		{"locations", `
		CREATE TABLE IF NOT EXISTS locations (
			id            INTEGER PRIMARY KEY,
			log_file_id   INTEGER NOT NULL REFERENCES log_files(id),
			world_id      TEXT NOT NULL,
			instance_id   TEXT NOT NULL,
			world_name    TEXT NOT NULL,
			instance_type TEXT NOT NULL,
			region        TEXT NOT NULL,
			owner_id      TEXT,
			joined_at     TEXT NOT NULL,
			left_at       TEXT,
			UNIQUE(log_file_id, world_id, joined_at)
		);

		CREATE INDEX IF NOT EXISTS idx_locations_joined ON locations(joined_at, id);
		CREATE INDEX IF NOT EXISTS idx_locations_world_name ON locations(world_name);`},
		{"presences", `
		CREATE TABLE IF NOT EXISTS presences (
			id          INTEGER PRIMARY KEY,
			location_id INTEGER NOT NULL REFERENCES locations(id) ON DELETE CASCADE,
			player_name TEXT NOT NULL,
			player_id   TEXT,
			joined_at   TEXT NOT NULL,
			left_at     TEXT,
			is_local    INTEGER NOT NULL DEFAULT 0,
			UNIQUE(location_id, player_name, joined_at)
		);

		CREATE INDEX IF NOT EXISTS idx_presences_open ON presences(location_id, player_name, left_at);
		CREATE INDEX IF NOT EXISTS idx_presences_player ON presences(player_name);`},
		{"parse_failures", `
		CREATE TABLE IF NOT EXISTS parse_failures (
			id         INTEGER PRIMARY KEY,
			ts         TEXT NOT NULL,
			raw_line   TEXT NOT NULL,
			error_msg  TEXT NOT NULL,
			dedupe_key TEXT NOT NULL UNIQUE
		);`},
		{"metadata", `
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`},
	}

	for _, step := range steps {
		if _, err := s.db.ExecContext(ctx, step.schema); err != nil {
			return fmt.Errorf("create %s table: %w", step.name, err)
		}
	}
	return nil
}
