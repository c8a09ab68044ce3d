package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// EnsureLocation looks up the Location by its natural key
// (log file, world, join time) and creates it if absent.
// On return l carries the persisted row, including its ID.
func (s *Store) EnsureLocation(ctx context.Context, l *history.Location) (created bool, err error) {
	if err := validateLocation(l); err != nil {
		return false, err
	}

	const insert = `
	INSERT INTO locations
	(log_file_id, world_id, instance_id, world_name, instance_type, region, owner_id, joined_at, left_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(log_file_id, world_id, joined_at) DO NOTHING
	`

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insert,
			l.LogFileID, l.WorldID, l.InstanceID, l.WorldName,
			string(l.Type), string(l.Region), nullString(l.OwnerID),
			formatTime(l.JoinedAt), nullTime(l.LeftAt),
		)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		created = n > 0

		existing, err := scanLocation(tx.QueryRowContext(ctx,
			`SELECT `+locationColumns+` FROM locations
			WHERE log_file_id = ? AND world_id = ? AND joined_at = ?`,
			l.LogFileID, l.WorldID, formatTime(l.JoinedAt),
		))
		if err != nil {
			return err
		}
		*l = *existing
		return nil
	})
	return created, err
}

// GetLocation returns the Location with the given id.
func (s *Store) GetLocation(ctx context.Context, id int64) (*history.Location, error) {
	return scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id))
}

// LatestLocation returns the most recently joined Location of a LogFile.
func (s *Store) LatestLocation(ctx context.Context, logFileID int64) (*history.Location, error) {
	return scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations
		WHERE log_file_id = ?
		ORDER BY joined_at DESC, id DESC
		LIMIT 1`, logFileID))
}

// LocationsByLogFile returns every Location of a LogFile in join order.
func (s *Store) LocationsByLogFile(ctx context.Context, logFileID int64) ([]history.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations
		WHERE log_file_id = ?
		ORDER BY joined_at ASC, id ASC`, logFileID)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	return collectLocations(rows)
}

// LocationFilter contains filter options for querying the location history.
type LocationFilter struct {
	Since  *time.Time
	Until  *time.Time
	Player string // substring of any present player's name
	World  string // substring of the world name
	Limit  int
	Cursor *string
}

// LocationPage is one page of QueryLocations results.
type LocationPage struct {
	Items      []history.Location `json:"items"`
	NextCursor *string            `json:"next_cursor"`
}

// QueryLocations returns locations newest first, filtered and paginated.
func (s *Store) QueryLocations(ctx context.Context, f LocationFilter) (LocationPage, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	} else if limit > maxLimit {
		limit = maxLimit
	}

	var (
		sb   strings.Builder
		args []any
	)

	sb.WriteString(`SELECT ` + locationColumns + ` FROM locations l WHERE 1=1`)

	if f.Since != nil {
		sb.WriteString(" AND l.joined_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		sb.WriteString(" AND l.joined_at < ?")
		args = append(args, formatTime(*f.Until))
	}
	if f.World != "" {
		sb.WriteString(` AND l.world_name LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.World))
	}
	if f.Player != "" {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM presences p WHERE p.location_id = l.id AND p.player_name LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(f.Player))
	}

	// Composite cursor (joined_at|id), descending.
	if f.Cursor != nil && *f.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(*f.Cursor)
		if err != nil {
			return LocationPage{}, fmt.Errorf("decode cursor: %w", err)
		}
		ts := formatTime(cursorTime)
		sb.WriteString(" AND (l.joined_at < ? OR (l.joined_at = ? AND l.id < ?))")
		args = append(args, ts, ts, cursorID)
	}

	sb.WriteString(" ORDER BY l.joined_at DESC, l.id DESC LIMIT ?")
	args = append(args, limit+1) // fetch one extra to detect next page

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return LocationPage{}, fmt.Errorf("query locations: %w", err)
	}
	items, err := collectLocations(rows)
	if err != nil {
		return LocationPage{}, err
	}

	var next *string
	if len(items) > limit {
		last := items[limit-1]
		items = items[:limit]
		c := EncodeCursor(last.JoinedAt, last.ID)
		next = &c
	}
	return LocationPage{Items: items, NextCursor: next}, nil
}

// DistinctWorldNames returns every known world name, sorted.
func (s *Store) DistinctWorldNames(ctx context.Context) ([]string, error) {
	return s.distinctStrings(ctx,
		`SELECT DISTINCT world_name FROM locations WHERE world_name != '' ORDER BY world_name`)
}

func (s *Store) distinctStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query names: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// likePattern builds a substring LIKE pattern with wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
