package app

import (
	"context"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// HistoryUsecase defines the read-only history queries.
type HistoryUsecase interface {
	Locations(ctx context.Context, filter store.LocationFilter) (store.LocationPage, error)
	Presences(ctx context.Context, locationID int64) ([]history.Presence, error)
	PlayerNames(ctx context.Context) ([]string, error)
	WorldNames(ctx context.Context) ([]string, error)
}

// HistoryStore defines store operations needed by HistoryService.
type HistoryStore interface {
	QueryLocations(ctx context.Context, f store.LocationFilter) (store.LocationPage, error)
	GetLocation(ctx context.Context, id int64) (*history.Location, error)
	PresencesByLocation(ctx context.Context, locationID int64) ([]history.Presence, error)
	DistinctPlayerNames(ctx context.Context) ([]string, error)
	DistinctWorldNames(ctx context.Context) ([]string, error)
}

// HistoryService implements HistoryUsecase.
type HistoryService struct {
	Store HistoryStore
}

// Locations returns one page of locations, newest first.
func (s *HistoryService) Locations(ctx context.Context, filter store.LocationFilter) (store.LocationPage, error) {
	return s.Store.QueryLocations(ctx, filter)
}

// Presences returns everyone seen at a location, in join order.
// It returns store.ErrNotFound for an unknown location.
func (s *HistoryService) Presences(ctx context.Context, locationID int64) ([]history.Presence, error) {
	if _, err := s.Store.GetLocation(ctx, locationID); err != nil {
		return nil, err
	}
	return s.Store.PresencesByLocation(ctx, locationID)
}

// PlayerNames returns every player name seen, for search suggestions.
func (s *HistoryService) PlayerNames(ctx context.Context) ([]string, error) {
	return s.Store.DistinctPlayerNames(ctx)
}

// WorldNames returns every world name visited, for search suggestions.
func (s *HistoryService) WorldNames(ctx context.Context) ([]string, error) {
	return s.Store.DistinctWorldNames(ctx)
}
