package history

import "time"

// ChangeType identifies what a Change did to the persisted history.
type ChangeType string

// Change type constants.
const (
	ChangeLocationOpened   ChangeType = "location_opened"
	ChangeLocationClosed   ChangeType = "location_closed"
	ChangePresenceJoined   ChangeType = "presence_joined"
	ChangePresenceLeft     ChangeType = "presence_left"
	ChangePresenceIdentity ChangeType = "presence_identified"
	ChangeRepaired         ChangeType = "repaired"
	ChangeWatchingCount    ChangeType = "watching_count"
)

// Change describes one mutation of the history, for live subscribers.
// Only the fields relevant to Type are set.
type Change struct {
	Type     ChangeType `json:"type"`
	Ts       time.Time  `json:"ts"`
	Location *Location  `json:"location,omitempty"`
	Presence *Presence  `json:"presence,omitempty"`
	Count    *int       `json:"count,omitempty"`
}
