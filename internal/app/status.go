package app

import (
	"context"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// StatusUsecase defines the live status use case.
type StatusUsecase interface {
	// Status returns the reader state and where the local player is now.
	Status(ctx context.Context) (StatusResult, error)
}

// StatusResult represents the current status response.
type StatusResult struct {
	ActiveReaders   int                `json:"active_readers"`
	ProducerRunning bool               `json:"producer_running"`
	Location        *history.Location  `json:"location"`
	Players         []history.Presence `json:"players"`
}

// ReaderCounter reports the number of active log readers.
type ReaderCounter interface {
	Count() int
}

// ProducerChecker reports whether the log producer is running.
type ProducerChecker interface {
	Running(ctx context.Context) bool
}

// StatusStore defines store operations needed by StatusService.
type StatusStore interface {
	QueryLocations(ctx context.Context, f store.LocationFilter) (store.LocationPage, error)
	PresencesByLocation(ctx context.Context, locationID int64) ([]history.Presence, error)
}

// StatusService implements StatusUsecase.
type StatusService struct {
	Readers  ReaderCounter
	Producer ProducerChecker
	Store    StatusStore
}

// Status reports the latest location if it is still open, with the
// players currently present there.
func (s StatusService) Status(ctx context.Context) (StatusResult, error) {
	res := StatusResult{Players: []history.Presence{}}
	if s.Readers != nil {
		res.ActiveReaders = s.Readers.Count()
	}
	if s.Producer != nil {
		res.ProducerRunning = s.Producer.Running(ctx)
	}

	page, err := s.Store.QueryLocations(ctx, store.LocationFilter{Limit: 1})
	if err != nil {
		return StatusResult{}, err
	}
	if len(page.Items) == 0 || !page.Items[0].Open() {
		return res, nil
	}
	loc := page.Items[0]
	res.Location = &loc

	ps, err := s.Store.PresencesByLocation(ctx, loc.ID)
	if err != nil {
		return StatusResult{}, err
	}
	for _, p := range ps {
		if p.Open() {
			res.Players = append(res.Players, p)
		}
	}
	return res, nil
}
