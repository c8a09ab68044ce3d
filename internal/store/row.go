package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const locationColumns = `id, log_file_id, world_id, instance_id, world_name, instance_type, region, owner_id, joined_at, left_at`

const presenceColumns = `id, location_id, player_name, player_id, joined_at, left_at, is_local`

// locationRow is the database form of a history.Location.
type locationRow struct {
	ID           int64
	LogFileID    int64
	WorldID      string
	InstanceID   string
	WorldName    string
	InstanceType string
	Region       string
	OwnerID      sql.NullString
	JoinedAt     string
	LeftAt       sql.NullString
}

func (r *locationRow) toLocation() (*history.Location, error) {
	joined, err := parseTime(r.JoinedAt)
	if err != nil {
		return nil, err
	}
	left, err := parseNullTime(r.LeftAt)
	if err != nil {
		return nil, err
	}

	l := &history.Location{
		ID:         r.ID,
		LogFileID:  r.LogFileID,
		WorldID:    r.WorldID,
		InstanceID: r.InstanceID,
		WorldName:  r.WorldName,
		Type:       history.ParseInstanceType(r.InstanceType),
		Region:     history.ParseRegion(r.Region),
		JoinedAt:   joined,
		LeftAt:     left,
	}
	if r.OwnerID.Valid {
		l.OwnerID = &r.OwnerID.String
	}
	return l, nil
}

func scanLocation(sc scanner) (*history.Location, error) {
	var r locationRow
	err := sc.Scan(&r.ID, &r.LogFileID, &r.WorldID, &r.InstanceID, &r.WorldName,
		&r.InstanceType, &r.Region, &r.OwnerID, &r.JoinedAt, &r.LeftAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan location: %w", err)
	}
	return r.toLocation()
}

func collectLocations(rows *sql.Rows) ([]history.Location, error) {
	defer rows.Close()
	out := []history.Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// presenceRow is the database form of a history.Presence.
type presenceRow struct {
	ID         int64
	LocationID int64
	PlayerName string
	PlayerID   sql.NullString
	JoinedAt   string
	LeftAt     sql.NullString
	IsLocal    bool
}

func (r *presenceRow) toPresence() (*history.Presence, error) {
	joined, err := parseTime(r.JoinedAt)
	if err != nil {
		return nil, err
	}
	left, err := parseNullTime(r.LeftAt)
	if err != nil {
		return nil, err
	}

	p := &history.Presence{
		ID:         r.ID,
		LocationID: r.LocationID,
		PlayerName: r.PlayerName,
		JoinedAt:   joined,
		LeftAt:     left,
		IsLocal:    r.IsLocal,
	}
	if r.PlayerID.Valid {
		p.PlayerID = &r.PlayerID.String
	}
	return p, nil
}

func scanPresence(sc scanner) (*history.Presence, error) {
	var r presenceRow
	err := sc.Scan(&r.ID, &r.LocationID, &r.PlayerName, &r.PlayerID, &r.JoinedAt, &r.LeftAt, &r.IsLocal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}
	return r.toPresence()
}

func collectPresences(rows *sql.Rows) ([]history.Presence, error) {
	defer rows.Close()
	out := []history.Presence{}
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// validateLocation checks that required fields are set.
func validateLocation(l *history.Location) error {
	if l == nil {
		return fmt.Errorf("%w: location is nil", ErrInvalidRecord)
	}
	if l.LogFileID == 0 {
		return fmt.Errorf("%w: log_file_id is required", ErrInvalidRecord)
	}
	if l.WorldID == "" {
		return fmt.Errorf("%w: world_id is required", ErrInvalidRecord)
	}
	if l.JoinedAt.IsZero() {
		return fmt.Errorf("%w: joined_at is required", ErrInvalidRecord)
	}
	if l.LeftAt != nil && l.LeftAt.Before(l.JoinedAt) {
		return fmt.Errorf("%w: left_at before joined_at", ErrInvalidRecord)
	}
	return nil
}

// validatePresence checks that required fields are set.
func validatePresence(p *history.Presence) error {
	if p == nil {
		return fmt.Errorf("%w: presence is nil", ErrInvalidRecord)
	}
	if p.LocationID == 0 {
		return fmt.Errorf("%w: location_id is required", ErrInvalidRecord)
	}
	if p.PlayerName == "" {
		return fmt.Errorf("%w: player_name is required", ErrInvalidRecord)
	}
	if p.JoinedAt.IsZero() {
		return fmt.Errorf("%w: joined_at is required", ErrInvalidRecord)
	}
	return nil
}
