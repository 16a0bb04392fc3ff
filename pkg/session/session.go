// Package session is the lifecycle core: a registry of active sessions with
// cooldowns, timed expiration, privilege pairing and restart recovery.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doublelife/doublelife-kit/pkg/activity"
	"github.com/doublelife/doublelife-kit/pkg/persistence"
	"github.com/doublelife/doublelife-kit/pkg/snapshot"
)

// Session is one active (or ended) double-life session. Start time and
// mode never change; time is added only through the extension counter.
type Session struct {
	identity     uuid.UUID
	name         string
	mode         Mode
	startTime    time.Time
	baseDuration time.Duration
	log          *activity.Log

	mu               sync.RWMutex
	snapshot         snapshot.Snapshot
	endTime          *time.Time
	extensionMinutes int
}

func newSession(id uuid.UUID, name string, mode Mode, snap snapshot.Snapshot, start time.Time, base time.Duration) *Session {
	return &Session{
		identity:     id,
		name:         name,
		mode:         mode,
		snapshot:     snap,
		startTime:    start,
		baseDuration: base,
		log:          activity.NewLog(),
	}
}

func (s *Session) Identity() uuid.UUID         { return s.identity }
func (s *Session) Name() string                { return s.name }
func (s *Session) Mode() Mode                  { return s.mode }
func (s *Session) StartTime() time.Time        { return s.startTime }
func (s *Session) BaseDuration() time.Duration { return s.baseDuration }
func (s *Session) Log() *activity.Log          { return s.log }

func (s *Session) ExtensionMinutes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extensionMinutes
}

// EndTime is set exactly once, when the session leaves the store.
func (s *Session) EndTime() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.endTime == nil {
		return time.Time{}, false
	}
	return *s.endTime, true
}

// TotalAllowed is the base duration plus every extension.
func (s *Session) TotalAllowed() time.Duration {
	return s.baseDuration + time.Duration(s.ExtensionMinutes())*time.Minute
}

func (s *Session) Elapsed(now time.Time) time.Duration {
	if end, ok := s.EndTime(); ok {
		return end.Sub(s.startTime)
	}
	return now.Sub(s.startTime)
}

func (s *Session) Remaining(now time.Time) time.Duration {
	r := s.TotalAllowed() - s.Elapsed(now)
	if r < 0 {
		return 0
	}
	return r
}

func (s *Session) extend(minutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensionMinutes += minutes
}

func (s *Session) markEnded(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil {
		return false
	}
	s.endTime = &at
	return true
}

// takeSnapshot hands the snapshot to the restore step. It can be taken once.
func (s *Session) takeSnapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot
	s.snapshot = nil
	return snap
}

func (s *Session) replaceSnapshot(snap snapshot.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

func (s *Session) record() persistence.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make([]byte, len(s.snapshot))
	copy(snap, s.snapshot)
	return persistence.Record{
		Identity:         s.identity,
		Name:             s.name,
		Mode:             s.mode.String(),
		StartTime:        s.startTime,
		ExtensionMinutes: s.extensionMinutes,
		BaseDuration:     s.baseDuration,
		Snapshot:         snap,
	}
}

// Status is a point-in-time view for display.
type Status struct {
	Identity         uuid.UUID     `json:"identity"`
	Name             string        `json:"name"`
	Mode             string        `json:"mode"`
	StartTime        time.Time     `json:"start_time"`
	Elapsed          time.Duration `json:"elapsed"`
	Remaining        time.Duration `json:"remaining"`
	TotalAllowed     time.Duration `json:"total_allowed"`
	ExtensionMinutes int           `json:"extension_minutes"`
	Activities       int           `json:"activities"`
}

func (s *Session) Status(now time.Time) Status {
	return Status{
		Identity:         s.identity,
		Name:             s.name,
		Mode:             s.mode.String(),
		StartTime:        s.startTime,
		Elapsed:          s.Elapsed(now),
		Remaining:        s.Remaining(now),
		TotalAllowed:     s.TotalAllowed(),
		ExtensionMinutes: s.ExtensionMinutes(),
		Activities:       s.log.Len(),
	}
}
