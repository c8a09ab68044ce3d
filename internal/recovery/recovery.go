// Package recovery closes history intervals left open when the producer
// exited without writing leave lines.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// Store defines the store operations needed by Recover.
type Store interface {
	LocationsByLogFile(ctx context.Context, logFileID int64) ([]history.Location, error)
	OpenPresences(ctx context.Context, logFileID int64) ([]history.Presence, error)
	ApplyRepairs(ctx context.Context, repairs []store.Repair) error
}

// Result summarizes one recovery pass.
type Result struct {
	Locations int // locations closed
	Presences int // presences closed
	Repairs   []store.Repair
}

type config struct {
	logger   *slog.Logger
	onChange func(history.Change)
}

// Option configures Recover.
type Option func(*config)

// WithLogger sets the logger used to report each repair.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithOnChange registers a hook called once per repaired location.
func WithOnChange(fn func(history.Change)) Option {
	return func(c *config) { c.onChange = fn }
}

// Recover closes every open Location and Presence of the LogFile.
//
// A Location's resolved leave time is its own leave time if set, else the
// join time of the next Location in the file, else lastWrite (the file's
// last-write time), never earlier than its join. Open Presences close at
// their Location's resolved leave time so they stay nested inside it.
// All repairs are written in one transaction.
func Recover(ctx context.Context, st Store, logFileID int64, lastWrite time.Time, opts ...Option) (Result, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger.With("log_file_id", logFileID)

	locs, err := st.LocationsByLogFile(ctx, logFileID)
	if err != nil {
		return Result{}, fmt.Errorf("load locations: %w", err)
	}
	open, err := st.OpenPresences(ctx, logFileID)
	if err != nil {
		return Result{}, fmt.Errorf("load open presences: %w", err)
	}

	byLocation := make(map[int64][]history.Presence, len(locs))
	for _, p := range open {
		byLocation[p.LocationID] = append(byLocation[p.LocationID], p)
	}

	var (
		res      Result
		repaired []history.Location
	)
	for i := range locs {
		loc := &locs[i]
		presences := byLocation[loc.ID]
		if !loc.Open() && len(presences) == 0 {
			continue
		}

		leave := resolveLeave(locs, i, lastWrite)
		repair := store.Repair{
			LocationID:    loc.ID,
			LeftAt:        leave,
			CloseLocation: loc.Open(),
		}
		for _, p := range presences {
			repair.PresenceIDs = append(repair.PresenceIDs, p.ID)
		}
		res.Repairs = append(res.Repairs, repair)

		closed := *loc
		closed.LeftAt = history.TimePtr(leave)
		repaired = append(repaired, closed)

		if repair.CloseLocation {
			res.Locations++
		}
		res.Presences += len(presences)

		logger.Warn("repairing unclosed history",
			"location_id", loc.ID,
			"world", loc.WorldName,
			"left_at", leave,
			"close_location", repair.CloseLocation,
			"presences", len(presences),
		)
	}

	if len(res.Repairs) == 0 {
		return res, nil
	}
	if err := st.ApplyRepairs(ctx, res.Repairs); err != nil {
		return Result{}, fmt.Errorf("apply repairs: %w", err)
	}

	metrics.RecoveryRepairs.WithLabelValues("location").Add(float64(res.Locations))
	metrics.RecoveryRepairs.WithLabelValues("presence").Add(float64(res.Presences))

	if cfg.onChange != nil {
		for i := range repaired {
			cfg.onChange(history.Change{Type: history.ChangeRepaired, Ts: *repaired[i].LeftAt, Location: &repaired[i]})
		}
	}
	return res, nil
}

func resolveLeave(locs []history.Location, i int, lastWrite time.Time) time.Time {
	loc := locs[i]
	var leave time.Time
	switch {
	case loc.LeftAt != nil:
		leave = *loc.LeftAt
	case i+1 < len(locs):
		leave = locs[i+1].JoinedAt
	default:
		leave = lastWrite
	}
	if leave.Before(loc.JoinedAt) {
		leave = loc.JoinedAt
	}
	return leave
}
