// Package logevent extracts typed session events from VRChat log payloads.
//
// Each extractor is independent and stateless. Extract tries them in a fixed
// priority order and returns the first match; payloads no extractor
// recognizes are ignored by callers, so new producer lines are harmless.
package logevent

import (
	"regexp"
	"strings"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

// Kind identifies the type of an extracted event.
type Kind int

// Event kind constants, in extraction priority order.
const (
	KindWorldJoinRequested Kind = iota + 1
	KindRoomNameResolved
	KindPlayerJoined
	KindPlayerIdentityResolved
	KindPlayerLeft
)

// String returns a snake_case name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindWorldJoinRequested:
		return "world_join_requested"
	case KindRoomNameResolved:
		return "room_name_resolved"
	case KindPlayerJoined:
		return "player_joined"
	case KindPlayerIdentityResolved:
		return "player_identity_resolved"
	case KindPlayerLeft:
		return "player_left"
	default:
		return "unknown"
	}
}

// Event is one typed domain event extracted from a payload.
type Event interface {
	Kind() Kind
}

// WorldJoinRequested is emitted when the local player starts joining an instance.
type WorldJoinRequested struct {
	Instance history.Instance
}

// RoomNameResolved carries the human-readable world name of the pending join.
type RoomNameResolved struct {
	WorldName string
}

// PlayerJoined is emitted when any player (including the local one) enters.
type PlayerJoined struct {
	PlayerName string
	PlayerID   string
}

// PlayerIdentityResolved tells whether a joined player is the observing user.
type PlayerIdentityResolved struct {
	PlayerName string
	IsLocal    bool
}

// PlayerLeft is emitted when a player leaves the current instance.
type PlayerLeft struct {
	PlayerName string
	PlayerID   string
}

func (WorldJoinRequested) Kind() Kind     { return KindWorldJoinRequested }
func (RoomNameResolved) Kind() Kind       { return KindRoomNameResolved }
func (PlayerJoined) Kind() Kind           { return KindPlayerJoined }
func (PlayerIdentityResolved) Kind() Kind { return KindPlayerIdentityResolved }
func (PlayerLeft) Kind() Kind             { return KindPlayerLeft }

const uuidPattern = `[\da-fA-F]{8}-[\da-fA-F]{4}-[\da-fA-F]{4}-[\da-fA-F]{4}-[\da-fA-F]{12}`

// worldJoinPatterns lists world-join grammars, newest first.
var worldJoinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[Behaviour\] Joining (?P<world>wr?ld_` + uuidPattern + `):(?P<instance>\w+)` +
		`(?:~(?P<type>\w+)\((?P<owner>(?:(?:usr|grp)_` + uuidPattern + `)|\w{10})\))?` +
		`(?P<canReqInvite>~canRequestInvite)?` +
		`(?:~groupAccessType\((?P<groupAccess>\w+)\))?` +
		`(?:~region\((?P<region>\w+)\))?` +
		`(?:~nonce\(.+\))?`),
}

var (
	localTestWorldPattern = regexp.MustCompile(`\[Behaviour\] Joining local:(?P<world>[a-f\d]+)`)
	roomNamePattern       = regexp.MustCompile(`\[Behaviour\] Joining or Creating Room: (?P<name>.*)$`)
	playerJoinedPatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\[Behaviour\] OnPlayerJoined (?P<player>.*) \((?P<id>[^()]*)\)\s*$`),
		regexp.MustCompile(`\[Behaviour\] OnPlayerJoined (?P<player>.+?)\s*$`),
	}
	playerIdentityPattern = regexp.MustCompile(`\[Behaviour\] Initialized PlayerAPI "(?P<player>.*)" is (?P<type>remote|local)\s*$`)
	playerLeftPatterns    = []*regexp.Regexp{
		regexp.MustCompile(`\[Behaviour\] OnPlayerLeft (?P<player>.*) \((?P<id>[^()]*)\)\s*$`),
		regexp.MustCompile(`\[Behaviour\] OnPlayerLeft (?P<player>.+?)\s*$`),
	}
)

// Extract runs every extractor in priority order and returns the first match.
func Extract(payload string) (Event, bool) {
	if inst, ok := ParseWorldJoin(payload); ok {
		return WorldJoinRequested{Instance: inst}, true
	}
	if name, ok := ParseRoomName(payload); ok {
		return RoomNameResolved{WorldName: name}, true
	}
	if ev, ok := ParsePlayerJoined(payload); ok {
		return ev, true
	}
	if ev, ok := ParsePlayerIdentity(payload); ok {
		return ev, true
	}
	if ev, ok := ParsePlayerLeft(payload); ok {
		return ev, true
	}
	return nil, false
}

// ParseWorldJoin extracts the staging instance from a world-join payload.
func ParseWorldJoin(payload string) (history.Instance, bool) {
	for _, re := range worldJoinPatterns {
		m := re.FindStringSubmatch(payload)
		if m == nil {
			continue
		}
		g := groups(re, m)
		return history.Instance{
			WorldID:    g["world"],
			InstanceID: g["instance"],
			Type:       resolveInstanceType(g["type"], g["canReqInvite"] != "", g["groupAccess"]),
			Region:     history.RegionFromToken(g["region"]),
			OwnerID:    g["owner"],
		}, true
	}

	if m := localTestWorldPattern.FindStringSubmatch(payload); m != nil {
		return history.Instance{
			WorldID: groups(localTestWorldPattern, m)["world"],
			Type:    history.InstanceUnknown,
			Region:  history.RegionUnknown,
		}, true
	}
	return history.Instance{}, false
}

// resolveInstanceType maps the access qualifier of a world-join line.
func resolveInstanceType(access string, canRequestInvite bool, groupAccess string) history.InstanceType {
	switch access {
	case "":
		return history.InstancePublic
	case "hidden":
		return history.InstanceFriendsPlus
	case "friends":
		return history.InstanceFriends
	case "private":
		if canRequestInvite {
			return history.InstanceInvitePlus
		}
		return history.InstanceInvite
	case "group":
		switch groupAccess {
		case "members":
			return history.InstanceGroup
		case "plus":
			return history.InstanceGroupPlus
		case "public":
			return history.InstanceGroupPublic
		default:
			return history.InstanceUnknown
		}
	default:
		return history.InstanceUnknown
	}
}

// ParseRoomName extracts the world name from a room-join payload.
func ParseRoomName(payload string) (string, bool) {
	m := roomNamePattern.FindStringSubmatch(payload)
	if m == nil {
		return "", false
	}
	return strings.TrimRight(groups(roomNamePattern, m)["name"], "\r\n"), true
}

// ParsePlayerJoined extracts the player from a join payload.
// Older producer versions omit the player id; it is then empty.
func ParsePlayerJoined(payload string) (PlayerJoined, bool) {
	name, id, ok := matchPlayer(playerJoinedPatterns, payload)
	if !ok {
		return PlayerJoined{}, false
	}
	return PlayerJoined{PlayerName: name, PlayerID: id}, true
}

// ParsePlayerLeft extracts the player from a leave payload.
func ParsePlayerLeft(payload string) (PlayerLeft, bool) {
	name, id, ok := matchPlayer(playerLeftPatterns, payload)
	if !ok {
		return PlayerLeft{}, false
	}
	return PlayerLeft{PlayerName: name, PlayerID: id}, true
}

// ParsePlayerIdentity extracts the local/remote flag for a player.
func ParsePlayerIdentity(payload string) (PlayerIdentityResolved, bool) {
	m := playerIdentityPattern.FindStringSubmatch(payload)
	if m == nil {
		return PlayerIdentityResolved{}, false
	}
	g := groups(playerIdentityPattern, m)
	return PlayerIdentityResolved{
		PlayerName: g["player"],
		IsLocal:    g["type"] == "local",
	}, true
}

func matchPlayer(patterns []*regexp.Regexp, payload string) (name, id string, ok bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatch(payload)
		if m == nil {
			continue
		}
		g := groups(re, m)
		if g["player"] == "" {
			continue
		}
		return g["player"], g["id"], true
	}
	return "", "", false
}

// groups maps named capture groups to their matched values.
func groups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(m) {
			out[name] = m[i]
		}
	}
	return out
}
