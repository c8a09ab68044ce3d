package app

import (
	"context"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// StatsResult represents the response for the stats/basic endpoint.
type StatsResult struct {
	TodayLocations     int      `json:"today_locations"`
	TodayPresences     int      `json:"today_presences"`
	TodayUniquePlayers int      `json:"today_unique_players"`
	RecentWorlds       []string `json:"recent_worlds"`
	LastJoinAt         *string  `json:"last_join_at,omitempty"`
}

// StatsUsecase defines the interface for stats operations.
type StatsUsecase interface {
	GetBasicStats(ctx context.Context) (*StatsResult, error)
}

// StatsStore defines the interface for stats data access.
type StatsStore interface {
	GetStats(ctx context.Context, since, until time.Time) (*store.Stats, error)
}

// StatsService implements StatsUsecase.
type StatsService struct {
	store StatsStore
	now   func() time.Time
}

// NewStatsService creates a new StatsService.
func NewStatsService(store StatsStore) *StatsService {
	return &StatsService{store: store, now: time.Now}
}

// GetBasicStats retrieves statistics for today (local time).
func (s *StatsService) GetBasicStats(ctx context.Context) (*StatsResult, error) {
	since, until := store.TodayBoundary(s.now())

	stats, err := s.store.GetStats(ctx, since, until)
	if err != nil {
		return nil, err
	}

	return &StatsResult{
		TodayLocations:     stats.LocationCount,
		TodayPresences:     stats.PresenceCount,
		TodayUniquePlayers: stats.UniquePlayers,
		RecentWorlds:       stats.RecentWorlds,
		LastJoinAt:         stats.LastJoinAt,
	}, nil
}
