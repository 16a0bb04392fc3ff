// Package snapshot defines the profile snapshot collaborator. The session
// core treats a Snapshot as opaque bytes that only the Service can interpret.
package snapshot

import (
	"context"

	"github.com/google/uuid"
)

// Snapshot is captured profile state. It is owned by one session until it
// has been restored.
type Snapshot []byte

// Service captures and restores a user's full profile.
type Service interface {
	Capture(ctx context.Context, id uuid.UUID) (Snapshot, error)
	Restore(ctx context.Context, snap Snapshot, id uuid.UUID) error
}

// WorkingStateClearer gives an identity a clean slate, e.g. an empty inventory.
type WorkingStateClearer interface {
	ClearWorkingState(ctx context.Context, id uuid.UUID) error
}

// Describer renders a human readable summary of a snapshot, one "Key: value"
// line per field. Implementations return nil when the bytes are unreadable.
type Describer interface {
	Describe(snap Snapshot) []string
}
