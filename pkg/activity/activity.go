// Package activity records what a user does while a session is active.
package activity

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies an observed event. The set is closed.
type Type int

const (
	TypeCommand Type = iota
	TypeGameModeChange
	TypeItemGive
	TypeBlockPlace
	TypeBlockBreak
	TypeContainerAccess
	TypeItemDrop
	TypeItemPickup
	TypeTeleport
	TypeContainerTransfer
	TypeSessionStart
	TypeSessionEnd
)

var typeNames = [...]struct {
	key     string
	display string
}{
	TypeCommand:           {"COMMAND", "Command Executed"},
	TypeGameModeChange:    {"GAMEMODE_CHANGE", "Gamemode Changed"},
	TypeItemGive:          {"ITEM_GIVE", "Item Given"},
	TypeBlockPlace:        {"BLOCK_PLACE", "Block Placed"},
	TypeBlockBreak:        {"BLOCK_BREAK", "Block Broken"},
	TypeContainerAccess:   {"CONTAINER_ACCESS", "Container Accessed"},
	TypeItemDrop:          {"ITEM_DROP", "Item Dropped"},
	TypeItemPickup:        {"ITEM_PICKUP", "Item Picked Up"},
	TypeTeleport:          {"TELEPORT", "Teleported"},
	TypeContainerTransfer: {"CONTAINER_TRANSFER", "Container Transfer"},
	TypeSessionStart:      {"SESSION_START", "Session Started"},
	TypeSessionEnd:        {"SESSION_END", "Session Ended"},
}

func (t Type) valid() bool { return t >= 0 && int(t) < len(typeNames) }

// String returns the stable upper-case key, e.g. BLOCK_PLACE.
func (t Type) String() string {
	if !t.valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t].key
}

// DisplayName returns the human readable label used in rendered logs.
func (t Type) DisplayName() string {
	if !t.valid() {
		return "Unknown"
	}
	return typeNames[t].display
}

// ParseType maps a key such as "block_place" back to its Type.
func ParseType(s string) (Type, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range typeNames {
		if n.key == key {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activity type %q", s)
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnknownLocation is used when the producer cannot resolve a location.
const UnknownLocation = "unknown"

// Activity is one immutable event inside a session.
type Activity struct {
	Timestamp time.Time `json:"timestamp"`
	Type      Type      `json:"type"`
	Details   string    `json:"details"`
	Location  string    `json:"location"`
}

// New builds an Activity, defaulting an empty location to UnknownLocation.
func New(at time.Time, typ Type, details, location string) Activity {
	if strings.TrimSpace(location) == "" {
		location = UnknownLocation
	}
	return Activity{Timestamp: at, Type: typ, Details: details, Location: location}
}
