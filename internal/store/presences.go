package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

// EnsurePresence looks up the Presence by its natural key
// (location, player name, join time) and creates it if absent.
// On return p carries the persisted row, including its ID.
func (s *Store) EnsurePresence(ctx context.Context, p *history.Presence) (created bool, err error) {
	if err := validatePresence(p); err != nil {
		return false, err
	}

	const insert = `
	INSERT INTO presences (location_id, player_name, player_id, joined_at, left_at, is_local)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(location_id, player_name, joined_at) DO NOTHING
	`

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insert,
			p.LocationID, p.PlayerName, nullString(p.PlayerID),
			formatTime(p.JoinedAt), nullTime(p.LeftAt), boolToInt(p.IsLocal),
		)
		if err != nil {
			return fmt.Errorf("insert presence: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		created = n > 0

		existing, err := scanPresence(tx.QueryRowContext(ctx,
			`SELECT `+presenceColumns+` FROM presences
			WHERE location_id = ? AND player_name = ? AND joined_at = ?`,
			p.LocationID, p.PlayerName, formatTime(p.JoinedAt),
		))
		if err != nil {
			return err
		}
		*p = *existing
		return nil
	})
	return created, err
}

// MarkLocal sets is_local on the earliest-joined Presence of name
// in the Location. Returns ErrNotFound if the player has no Presence there.
func (s *Store) MarkLocal(ctx context.Context, locationID int64, name string, isLocal bool) (*history.Presence, error) {
	var p *history.Presence
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = scanPresence(tx.QueryRowContext(ctx,
			`SELECT `+presenceColumns+` FROM presences
			WHERE location_id = ? AND player_name = ?
			ORDER BY joined_at ASC, id ASC
			LIMIT 1`, locationID, name))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE presences SET is_local = ? WHERE id = ?`, boolToInt(isLocal), p.ID,
		); err != nil {
			return fmt.Errorf("mark local: %w", err)
		}
		p.IsLocal = isLocal
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClosePresence closes the earliest unclosed Presence of name in the
// Location that joined at or before leftAt. Ties on join time go to the
// lowest row id. If the closed Presence is the local player, the Location
// is closed at the same time in the same transaction.
// Returns ErrNotFound if no Presence qualifies.
func (s *Store) ClosePresence(ctx context.Context, locationID int64, name string, leftAt time.Time) (*history.Presence, error) {
	var p *history.Presence
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = scanPresence(tx.QueryRowContext(ctx,
			`SELECT `+presenceColumns+` FROM presences
			WHERE location_id = ? AND player_name = ? AND left_at IS NULL AND joined_at <= ?
			ORDER BY joined_at ASC, id ASC
			LIMIT 1`, locationID, name, formatTime(leftAt)))
		if err != nil {
			return err
		}

		ts := formatTime(leftAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE presences SET left_at = ? WHERE id = ?`, ts, p.ID,
		); err != nil {
			return fmt.Errorf("close presence: %w", err)
		}
		if p.IsLocal {
			if _, err := tx.ExecContext(ctx,
				`UPDATE locations SET left_at = ? WHERE id = ? AND left_at IS NULL`, ts, locationID,
			); err != nil {
				return fmt.Errorf("close location: %w", err)
			}
		}
		p.LeftAt = history.TimePtr(leftAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// OpenPresences returns every unclosed Presence in the LogFile's Locations.
func (s *Store) OpenPresences(ctx context.Context, logFileID int64) ([]history.Presence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.location_id, p.player_name, p.player_id, p.joined_at, p.left_at, p.is_local
		FROM presences p
		JOIN locations l ON l.id = p.location_id
		WHERE l.log_file_id = ? AND p.left_at IS NULL
		ORDER BY p.joined_at ASC, p.id ASC`, logFileID)
	if err != nil {
		return nil, fmt.Errorf("query open presences: %w", err)
	}
	return collectPresences(rows)
}

// PresencesByLocation returns every Presence of a Location in join order.
func (s *Store) PresencesByLocation(ctx context.Context, locationID int64) ([]history.Presence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+presenceColumns+` FROM presences
		WHERE location_id = ?
		ORDER BY joined_at ASC, id ASC`, locationID)
	if err != nil {
		return nil, fmt.Errorf("query presences: %w", err)
	}
	return collectPresences(rows)
}

// DistinctPlayerNames returns every known player name, sorted.
func (s *Store) DistinctPlayerNames(ctx context.Context) ([]string, error) {
	return s.distinctStrings(ctx,
		`SELECT DISTINCT player_name FROM presences ORDER BY player_name`)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
