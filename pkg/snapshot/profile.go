package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

// Location is a position in a named world.
type Location struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// String renders block coordinates, e.g. "world [10, 64, -3]".
func (l Location) String() string {
	if l.World == "" {
		return "Unknown"
	}
	return fmt.Sprintf("%s [%d, %d, %d]", l.World,
		int(math.Floor(l.X)), int(math.Floor(l.Y)), int(math.Floor(l.Z)))
}

type ItemStack struct {
	Material string `json:"material"`
	Amount   int    `json:"amount"`
}

type Effect struct {
	Type      string `json:"type"`
	Amplifier int    `json:"amplifier"`
	Ticks     int    `json:"ticks"`
}

// Profile is the restorable state of one user.
type Profile struct {
	Location  Location          `json:"location"`
	GameMode  string            `json:"game_mode"`
	Health    float64           `json:"health"`
	FoodLevel int               `json:"food_level"`
	Level     int               `json:"level"`
	Exp       float64           `json:"exp"`
	Inventory map[int]ItemStack `json:"inventory,omitempty"`
	Armor     []ItemStack       `json:"armor,omitempty"`
	Effects   []Effect          `json:"effects,omitempty"`
}

// ProfileStore is a reference Service backed by one JSON file per identity.
// Hosts with their own state model implement Service directly.
type ProfileStore struct {
	dir    string
	logger zerolog.Logger

	mu sync.Mutex
}

func NewProfileStore(dir string, logger zerolog.Logger) (*ProfileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}
	return &ProfileStore{
		dir:    dir,
		logger: logger.With().Str("component", "profile_store").Logger(),
	}, nil
}

func (s *ProfileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

// Load returns the current profile, or an empty one for an unknown identity.
func (s *ProfileStore) Load(id uuid.UUID) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

// Save replaces the current profile.
func (s *ProfileStore) Save(id uuid.UUID, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(id, p)
}

func (s *ProfileStore) loadLocked(id uuid.UUID) (Profile, error) {
	var p Profile
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, errors.New(errors.CodeBackendUnavailable, "snapshot", "read profile", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errors.New(errors.CodeCorruptRecord, "snapshot", "decode profile", err).
			With("identity", id.String())
	}
	return p, nil
}

func (s *ProfileStore) saveLocked(id uuid.UUID, p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.New(errors.CodeBackendUnavailable, "snapshot", "write profile", err)
	}
	return os.Rename(tmp, s.path(id))
}

func (s *ProfileStore) Capture(_ context.Context, id uuid.UUID) (Snapshot, error) {
	p, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return Snapshot(data), nil
}

func (s *ProfileStore) Restore(_ context.Context, snap Snapshot, id uuid.UUID) error {
	var p Profile
	if err := json.Unmarshal(snap, &p); err != nil {
		return errors.New(errors.CodeSnapshotRestoreFailed, "snapshot", "decode snapshot", err).
			With("identity", id.String())
	}
	if err := s.Save(id, p); err != nil {
		return errors.New(errors.CodeSnapshotRestoreFailed, "snapshot", "write restored profile", err).
			With("identity", id.String())
	}
	s.logger.Debug().Str("identity", id.String()).Msg("Restored profile")
	return nil
}

// ClearWorkingState empties inventory, armor and effects.
func (s *ProfileStore) ClearWorkingState(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	p.Inventory = nil
	p.Armor = nil
	p.Effects = nil
	return s.saveLocked(id, p)
}

func (s *ProfileStore) Describe(snap Snapshot) []string {
	var p Profile
	if err := json.Unmarshal(snap, &p); err != nil {
		return nil
	}
	return []string{
		"Location: " + p.Location.String(),
		"GameMode: " + p.GameMode,
		fmt.Sprintf("Level: %d", p.Level),
		fmt.Sprintf("Health: %.1f", p.Health),
		fmt.Sprintf("Food Level: %d", p.FoodLevel),
	}
}
