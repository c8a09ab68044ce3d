// Package history provides the shared Location/Presence model for VRClog Lifelog.
// This package is used by api, session, recovery, store, and tail packages.
package history

import (
	"strings"
	"time"
)

// InstanceType is the access type of a VRChat instance.
// Values are persisted, so the string forms must stay stable.
type InstanceType string

// Instance type constants.
const (
	InstancePublic      InstanceType = "public"
	InstanceFriendsPlus InstanceType = "friends+"
	InstanceFriends     InstanceType = "friends"
	InstanceInvitePlus  InstanceType = "invite+"
	InstanceInvite      InstanceType = "invite"
	InstanceGroup       InstanceType = "group"
	InstanceGroupPlus   InstanceType = "group+"
	InstanceGroupPublic InstanceType = "group-public"
	InstanceUnknown     InstanceType = "unknown"
)

// ParseInstanceType converts a persisted instance type back to its constant.
// Unrecognized values map to InstanceUnknown.
func ParseInstanceType(s string) InstanceType {
	switch t := InstanceType(s); t {
	case InstancePublic, InstanceFriendsPlus, InstanceFriends, InstanceInvitePlus,
		InstanceInvite, InstanceGroup, InstanceGroupPlus, InstanceGroupPublic:
		return t
	default:
		return InstanceUnknown
	}
}

// Region is the server region of a VRChat instance.
type Region string

// Region constants.
const (
	RegionUSW     Region = "usw"
	RegionUSE     Region = "use"
	RegionEU      Region = "eu"
	RegionJP      Region = "jp"
	RegionUnknown Region = "unknown"
)

// RegionFromToken maps a region token from a world-join line to a Region,
// case-insensitively. The producer writes "us" for US West. Anything else,
// including the empty string and the persisted "usw", is RegionUnknown.
func RegionFromToken(token string) Region {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "us":
		return RegionUSW
	case "use":
		return RegionUSE
	case "eu":
		return RegionEU
	case "jp":
		return RegionJP
	default:
		return RegionUnknown
	}
}

// ParseRegion converts a persisted region back to its constant.
// Unrecognized values map to RegionUnknown.
func ParseRegion(s string) Region {
	switch r := Region(s); r {
	case RegionUSW, RegionUSE, RegionEU, RegionJP:
		return r
	default:
		return RegionUnknown
	}
}

// LogFile is one physical log file the producer has written or is writing.
type LogFile struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	LastRead  *time.Time `json:"last_read,omitempty"`
}

// Instance is the staging object built from a world-join line.
// WorldName is filled in later by the room-name line.
type Instance struct {
	WorldID    string
	InstanceID string
	WorldName  string
	Type       InstanceType
	Region     Region
	OwnerID    string
}

// Location is one continuous stay at one instance.
type Location struct {
	ID         int64        `json:"id"`
	LogFileID  int64        `json:"log_file_id"`
	WorldID    string       `json:"world_id"`
	InstanceID string       `json:"instance_id"`
	WorldName  string       `json:"world_name"`
	Type       InstanceType `json:"instance_type"`
	Region     Region       `json:"region"`
	OwnerID    *string      `json:"owner_id,omitempty"`
	JoinedAt   time.Time    `json:"joined_at"`
	LeftAt     *time.Time   `json:"left_at,omitempty"`
}

// NewLocation builds an unsaved Location for inst joined at ts.
func NewLocation(inst Instance, ts time.Time, logFileID int64) *Location {
	l := &Location{
		LogFileID:  logFileID,
		WorldID:    inst.WorldID,
		InstanceID: inst.InstanceID,
		WorldName:  inst.WorldName,
		Type:       inst.Type,
		Region:     inst.Region,
		JoinedAt:   ts,
	}
	if inst.OwnerID != "" {
		l.OwnerID = StringPtr(inst.OwnerID)
	}
	return l
}

// Instance rebuilds the staging instance this Location was created from.
func (l *Location) Instance() Instance {
	inst := Instance{
		WorldID:    l.WorldID,
		InstanceID: l.InstanceID,
		WorldName:  l.WorldName,
		Type:       l.Type,
		Region:     l.Region,
	}
	if l.OwnerID != nil {
		inst.OwnerID = *l.OwnerID
	}
	return inst
}

// Open reports whether the Location has no leave time yet.
func (l *Location) Open() bool {
	return l.LeftAt == nil
}

// Presence is one player's stay inside one Location.
type Presence struct {
	ID         int64      `json:"id"`
	LocationID int64      `json:"location_id"`
	PlayerName string     `json:"player_name"`
	PlayerID   *string    `json:"player_id,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	IsLocal    bool       `json:"is_local"`
}

// Open reports whether the Presence has no leave time yet.
func (p *Presence) Open() bool {
	return p.LeftAt == nil
}

// StringPtr returns a pointer to the given string.
// Useful for setting optional fields.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to the given time.
func TimePtr(t time.Time) *time.Time {
	return &t
}
