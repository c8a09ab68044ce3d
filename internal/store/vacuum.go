package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// VacuumInterval is the minimum time between two VACUUMs.
const VacuumInterval = 30 * 24 * time.Hour

const lastVacuumKey = "last_vacuum_at"

// VacuumIfNeeded compacts the database when the previous VACUUM is older
// than VacuumInterval, or has never run. It reports whether it ran.
func (s *Store) VacuumIfNeeded(ctx context.Context) (bool, error) {
	last, err := s.metadataTime(ctx, lastVacuumKey)
	if err != nil {
		return false, err
	}
	now := s.now()
	if now.Sub(last) < VacuumInterval {
		return false, nil
	}

	start := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return false, fmt.Errorf("vacuum: %w", err)
	}
	slog.Info("database vacuumed", "elapsed", time.Since(start), "previous", last)

	if err := s.setMetadataTime(ctx, lastVacuumKey, now); err != nil {
		slog.Warn("failed to record vacuum time", "error", err)
	}
	return true, nil
}

// metadataTime reads a timestamp from the metadata table. A missing or
// unparsable value reads as the zero time.
func (s *Store) metadataTime(ctx context.Context, key string) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, nil
	case err != nil:
		return time.Time{}, fmt.Errorf("read metadata %s: %w", key, err)
	}
	t, err := time.Parse(TimeFormat, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (s *Store) setMetadataTime(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, formatTime(t))
	return err
}
