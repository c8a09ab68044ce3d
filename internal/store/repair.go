package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repair closes one Location's dangling intervals at LeftAt.
type Repair struct {
	LocationID    int64
	LeftAt        time.Time
	CloseLocation bool
	PresenceIDs   []int64
}

// ApplyRepairs writes all repairs in a single transaction.
// Rows that were closed in the meantime are left untouched, and no
// interval is closed before it was opened.
func (s *Store) ApplyRepairs(ctx context.Context, repairs []Repair) error {
	if len(repairs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range repairs {
			ts := formatTime(r.LeftAt)
			if r.CloseLocation {
				if _, err := tx.ExecContext(ctx,
					`UPDATE locations SET left_at = MAX(?, joined_at) WHERE id = ? AND left_at IS NULL`, ts, r.LocationID,
				); err != nil {
					return fmt.Errorf("repair location %d: %w", r.LocationID, err)
				}
			}
			for _, id := range r.PresenceIDs {
				if _, err := tx.ExecContext(ctx,
					`UPDATE presences SET left_at = MAX(?, joined_at) WHERE id = ? AND left_at IS NULL`, ts, id,
				); err != nil {
					return fmt.Errorf("repair presence %d: %w", id, err)
				}
			}
		}
		return nil
	})
}
