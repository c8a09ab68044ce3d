// Package session reconstructs Locations and Presences from the ordered
// event stream of one log file.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
	"github.com/graaaaa/vrclog-lifelog/internal/logevent"
	"github.com/graaaaa/vrclog-lifelog/internal/logline"
	"github.com/graaaaa/vrclog-lifelog/internal/metrics"
	"github.com/graaaaa/vrclog-lifelog/internal/store"
)

// Store defines the store operations needed by the Reconstructor.
// Lookups return store.ErrNotFound when nothing matches.
type Store interface {
	EnsureLocation(ctx context.Context, l *history.Location) (bool, error)
	EnsurePresence(ctx context.Context, p *history.Presence) (bool, error)
	MarkLocal(ctx context.Context, locationID int64, name string, isLocal bool) (*history.Presence, error)
	ClosePresence(ctx context.Context, locationID int64, name string, leftAt time.Time) (*history.Presence, error)
}

// Reconstructor is the per-file state machine. Apply must be called from a
// single goroutine in file order; the accessors are safe for concurrent use.
type Reconstructor struct {
	store     Store
	logFileID int64
	logger    *slog.Logger
	onChange  func(history.Change)

	mu       sync.RWMutex
	instance *history.Instance
	location *history.Location
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithLogger sets the logger for the Reconstructor.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconstructor) { r.logger = logger }
}

// WithOnChange registers a hook called after each persisted mutation.
// The hook runs synchronously and must not block.
func WithOnChange(fn func(history.Change)) Option {
	return func(r *Reconstructor) { r.onChange = fn }
}

// New creates a Reconstructor bound to one LogFile.
func New(st Store, logFileID int64, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		store:     st,
		logFileID: logFileID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore rebuilds the current instance and location from a persisted
// Location, for resuming a file that was already consumed.
func (r *Reconstructor) Restore(loc *history.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if loc == nil {
		r.instance, r.location = nil, nil
		return
	}
	inst := loc.Instance()
	l := *loc
	r.instance = &inst
	r.location = &l
}

// CurrentLocation returns a copy of the current location, if any.
func (r *Reconstructor) CurrentLocation() (history.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.location == nil {
		return history.Location{}, false
	}
	return *r.location, true
}

// Apply feeds one extracted event, timestamped by its line, into the
// state machine. A *ContextError means the stream is out of order; any
// other error comes from the store. Both are fatal for the file.
func (r *Reconstructor) Apply(ctx context.Context, rec logline.Record, ev logevent.Event) error {
	var err error
	switch e := ev.(type) {
	case logevent.WorldJoinRequested:
		r.applyWorldJoin(e)
	case logevent.RoomNameResolved:
		err = r.applyRoomName(ctx, rec.Time, e)
	case logevent.PlayerJoined:
		err = r.applyPlayerJoined(ctx, rec.Time, e)
	case logevent.PlayerIdentityResolved:
		err = r.applyIdentity(ctx, rec.Time, e)
	case logevent.PlayerLeft:
		err = r.applyPlayerLeft(ctx, rec.Time, e)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	metrics.EventsApplied.WithLabelValues(ev.Kind().String()).Inc()
	return nil
}

func (r *Reconstructor) applyWorldJoin(e logevent.WorldJoinRequested) {
	inst := e.Instance
	r.mu.Lock()
	r.instance = &inst
	r.mu.Unlock()
}

func (r *Reconstructor) applyRoomName(ctx context.Context, ts time.Time, e logevent.RoomNameResolved) error {
	r.mu.RLock()
	staged := r.instance
	r.mu.RUnlock()
	if staged == nil {
		return &ContextError{Event: logevent.KindRoomNameResolved, Missing: "instance"}
	}

	inst := *staged
	inst.WorldName = e.WorldName
	loc := history.NewLocation(inst, ts, r.logFileID)

	created, err := r.store.EnsureLocation(ctx, loc)
	if err != nil {
		return fmt.Errorf("ensure location: %w", err)
	}

	r.mu.Lock()
	r.instance = &inst
	r.location = loc
	r.mu.Unlock()

	if created {
		r.logger.Info("location opened", "world", loc.WorldName, "world_id", loc.WorldID, "instance_type", loc.Type)
		opened := *loc
		r.emit(history.Change{Type: history.ChangeLocationOpened, Ts: ts, Location: &opened})
	}
	return nil
}

func (r *Reconstructor) applyPlayerJoined(ctx context.Context, ts time.Time, e logevent.PlayerJoined) error {
	loc, err := r.requireLocation(logevent.KindPlayerJoined)
	if err != nil {
		return err
	}

	p := &history.Presence{
		LocationID: loc.ID,
		PlayerName: e.PlayerName,
		JoinedAt:   ts,
	}
	if e.PlayerID != "" {
		p.PlayerID = history.StringPtr(e.PlayerID)
	}

	created, err := r.store.EnsurePresence(ctx, p)
	if err != nil {
		return fmt.Errorf("ensure presence: %w", err)
	}
	if created {
		r.logger.Debug("player joined", "player", p.PlayerName)
		r.emit(history.Change{Type: history.ChangePresenceJoined, Ts: ts, Presence: p})
	}
	return nil
}

func (r *Reconstructor) applyIdentity(ctx context.Context, ts time.Time, e logevent.PlayerIdentityResolved) error {
	loc, err := r.requireLocation(logevent.KindPlayerIdentityResolved)
	if err != nil {
		return err
	}

	p, err := r.store.MarkLocal(ctx, loc.ID, e.PlayerName, e.IsLocal)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("identity for unknown player", "player", e.PlayerName)
		metrics.SoftMisses.WithLabelValues(logevent.KindPlayerIdentityResolved.String()).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark local: %w", err)
	}
	if e.IsLocal {
		r.emit(history.Change{Type: history.ChangePresenceIdentity, Ts: ts, Presence: p})
	}
	return nil
}

func (r *Reconstructor) applyPlayerLeft(ctx context.Context, ts time.Time, e logevent.PlayerLeft) error {
	loc, err := r.requireLocation(logevent.KindPlayerLeft)
	if err != nil {
		return err
	}

	p, err := r.store.ClosePresence(ctx, loc.ID, e.PlayerName, ts)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("leave without open presence", "player", e.PlayerName, "ts", ts)
		metrics.SoftMisses.WithLabelValues(logevent.KindPlayerLeft.String()).Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("close presence: %w", err)
	}
	r.emit(history.Change{Type: history.ChangePresenceLeft, Ts: ts, Presence: p})

	if p.IsLocal && loc.Open() {
		// The store closed the location in the same transaction.
		closed := loc
		closed.LeftAt = history.TimePtr(ts)
		r.mu.Lock()
		if r.location != nil && r.location.ID == loc.ID && r.location.LeftAt == nil {
			r.location.LeftAt = history.TimePtr(ts)
		}
		r.mu.Unlock()

		r.logger.Info("location closed", "world", closed.WorldName, "left_at", ts)
		r.emit(history.Change{Type: history.ChangeLocationClosed, Ts: ts, Location: &closed})
	}
	return nil
}

func (r *Reconstructor) requireLocation(kind logevent.Kind) (history.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.location == nil {
		return history.Location{}, &ContextError{Event: kind, Missing: "location"}
	}
	return *r.location, nil
}

func (r *Reconstructor) emit(c history.Change) {
	if r.onChange != nil {
		r.onChange(c)
	}
}
