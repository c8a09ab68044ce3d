package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats holds aggregated history statistics for a time period.
type Stats struct {
	LocationCount int      `json:"locations"`
	PresenceCount int      `json:"presences"`
	UniquePlayers int      `json:"unique_players"`
	RecentWorlds  []string `json:"recent_worlds"`
	LastJoinAt    *string  `json:"last_join_at,omitempty"`
}

// GetStats aggregates locations joined in [since, until).
func (s *Store) GetStats(ctx context.Context, since, until time.Time) (*Stats, error) {
	stats := &Stats{RecentWorlds: []string{}}
	sinceStr, untilStr := formatTime(since), formatTime(until)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM locations WHERE joined_at >= ? AND joined_at < ?),
			(SELECT COUNT(*) FROM presences WHERE joined_at >= ? AND joined_at < ?),
			(SELECT COUNT(DISTINCT player_name) FROM presences WHERE joined_at >= ? AND joined_at < ?)
	`, sinceStr, untilStr, sinceStr, untilStr, sinceStr, untilStr).
		Scan(&stats.LocationCount, &stats.PresenceCount, &stats.UniquePlayers)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}

	// Last 5 distinct worlds, most recent first.
	rows, err := s.db.QueryContext(ctx, `
		SELECT world_name FROM locations
		WHERE world_name != ''
		GROUP BY world_name
		ORDER BY MAX(joined_at) DESC
		LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("recent worlds: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		stats.RecentWorlds = append(stats.RecentWorlds, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(joined_at) FROM locations`,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("last join: %w", err)
	}
	if last.Valid {
		stats.LastJoinAt = &last.String
	}

	return stats, nil
}

// TodayBoundary returns the start and end of the current local day.
func TodayBoundary(now time.Time) (since, until time.Time) {
	y, m, d := now.Date()
	since = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return since, since.AddDate(0, 0, 1)
}
