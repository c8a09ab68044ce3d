package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// stubHistoryStore is a test double for HistoryStore and StatusStore.
type stubHistoryStore struct {
	locations []history.Location
	presences map[int64][]history.Presence
	gotFilter store.LocationFilter
	err       error
}

func (s *stubHistoryStore) QueryLocations(ctx context.Context, f store.LocationFilter) (store.LocationPage, error) {
	s.gotFilter = f
	if s.err != nil {
		return store.LocationPage{}, s.err
	}
	items := s.locations
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return store.LocationPage{Items: items}, nil
}

func (s *stubHistoryStore) GetLocation(ctx context.Context, id int64) (*history.Location, error) {
	for i := range s.locations {
		if s.locations[i].ID == id {
			return &s.locations[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubHistoryStore) PresencesByLocation(ctx context.Context, locationID int64) ([]history.Presence, error) {
	return s.presences[locationID], nil
}

func (s *stubHistoryStore) DistinctPlayerNames(ctx context.Context) ([]string, error) {
	return []string{"Alice", "Bob"}, nil
}

func (s *stubHistoryStore) DistinctWorldNames(ctx context.Context) ([]string, error) {
	return []string{"Gallery"}, nil
}

type stubCounter int

func (c stubCounter) Count() int { return int(c) }

type stubProducer bool

func (p stubProducer) Running(context.Context) bool { return bool(p) }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

var t0 = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestHistoryService_LocationsPassesFilter(t *testing.T) {
	st := &stubHistoryStore{locations: []history.Location{{ID: 1, WorldName: "Gallery", JoinedAt: t0}}}
	svc := &HistoryService{Store: st}

	page, err := svc.Locations(context.Background(), store.LocationFilter{Player: "ali", Limit: 10})
	if err != nil {
		t.Fatalf("Locations: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("items = %d, want 1", len(page.Items))
	}
	if st.gotFilter.Player != "ali" || st.gotFilter.Limit != 10 {
		t.Errorf("filter = %+v", st.gotFilter)
	}
}

func TestHistoryService_PresencesUnknownLocation(t *testing.T) {
	svc := &HistoryService{Store: &stubHistoryStore{}}

	_, err := svc.Presences(context.Background(), 42)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHistoryService_Names(t *testing.T) {
	svc := &HistoryService{Store: &stubHistoryStore{}}
	ctx := context.Background()

	players, err := svc.PlayerNames(ctx)
	if err != nil || len(players) != 2 {
		t.Errorf("PlayerNames = %v, %v", players, err)
	}
	worlds, err := svc.WorldNames(ctx)
	if err != nil || len(worlds) != 1 {
		t.Errorf("WorldNames = %v, %v", worlds, err)
	}
}

func TestStatusService_OpenLocation(t *testing.T) {
	left := t0.Add(time.Minute)
	st := &stubHistoryStore{
		locations: []history.Location{{ID: 7, WorldName: "Gallery", JoinedAt: t0}},
		presences: map[int64][]history.Presence{
			7: {
				{ID: 1, LocationID: 7, PlayerName: "Me", JoinedAt: t0, IsLocal: true},
				{ID: 2, LocationID: 7, PlayerName: "Gone", JoinedAt: t0, LeftAt: &left},
				{ID: 3, LocationID: 7, PlayerName: "Bob", JoinedAt: t0},
			},
		},
	}
	svc := StatusService{Readers: stubCounter(1), Producer: stubProducer(true), Store: st}

	res, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.ActiveReaders != 1 || !res.ProducerRunning {
		t.Errorf("res = %+v", res)
	}
	if res.Location == nil || res.Location.ID != 7 {
		t.Fatalf("Location = %+v", res.Location)
	}
	if len(res.Players) != 2 {
		t.Errorf("players = %+v, want the two still present", res.Players)
	}
	if st.gotFilter.Limit != 1 {
		t.Errorf("limit = %d, want 1", st.gotFilter.Limit)
	}
}

func TestStatusService_ClosedLocation(t *testing.T) {
	left := t0.Add(time.Hour)
	st := &stubHistoryStore{locations: []history.Location{{ID: 7, JoinedAt: t0, LeftAt: &left}}}
	svc := StatusService{Store: st}

	res, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Location != nil {
		t.Errorf("Location = %+v, want nil for a closed location", res.Location)
	}
	if res.Players == nil {
		t.Error("Players should be an empty slice, not nil")
	}
}

func TestStatusService_StoreError(t *testing.T) {
	svc := StatusService{Store: &stubHistoryStore{err: errors.New("boom")}}
	if _, err := svc.Status(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestHealthService(t *testing.T) {
	tests := []struct {
		name   string
		db     Pinger
		status string
		dbStat string
	}{
		{"healthy", stubPinger{}, "ok", "ok"},
		{"db down", stubPinger{err: errors.New("closed")}, "degraded", "unavailable"},
		{"no db", nil, "ok", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := HealthService{Version: "1.0", DB: tt.db}.Handle(context.Background())
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if res.Status != tt.status || res.Database != tt.dbStat || res.Version != "1.0" {
				t.Errorf("res = %+v", res)
			}
		})
	}
}
