package session

import (
	"fmt"
	"strings"
)

// Mode is fixed when a session starts.
type Mode int

const (
	// ModeStandard logs activity without granting anything.
	ModeStandard Mode = iota
	// ModeElevated grants the temporary permissions for the session.
	ModeElevated
)

// String returns the persisted name.
func (m Mode) String() string {
	if m == ModeElevated {
		return "TURBO"
	}
	return "DEFAULT"
}

func (m Mode) DisplayName() string {
	if m == ModeElevated {
		return "Turbo Mode"
	}
	return "Default Mode"
}

// ParseMode accepts the persisted names and their aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEFAULT", "STANDARD":
		return ModeStandard, nil
	case "TURBO", "ELEVATED":
		return ModeElevated, nil
	}
	return ModeStandard, fmt.Errorf("unknown session mode %q", s)
}
