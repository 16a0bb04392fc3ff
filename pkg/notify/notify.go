// Package notify carries lifecycle events out of the session core. Delivery
// is fire-and-forget: the core never waits on a sink.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/doublelife/doublelife-kit/pkg/activity"
)

type Kind string

const (
	KindSessionStarted  Kind = "session.started"
	KindSessionEnded    Kind = "session.ended"
	KindSessionLog      Kind = "session.log"
	KindProgress        Kind = "progress"
	KindProgressClear   Kind = "progress.clear"
	KindTurboActivated  Kind = "turbo.activated"
	KindSessionRestored Kind = "session.restored"
	KindSessionExpired  Kind = "session.expired"
	KindMessage         Kind = "message"
)

// Urgency drives the colour of a progress indicator.
type Urgency int

const (
	UrgencyNormal Urgency = iota
	UrgencyWarning
	UrgencyCritical
)

func (u Urgency) String() string {
	switch u {
	case UrgencyWarning:
		return "warning"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// SessionLog is the flushed activity log of an ended session.
type SessionLog struct {
	Identity    uuid.UUID
	Name        string
	Mode        string
	ModeDisplay string
	Start       time.Time
	End         time.Time
	SavedState  []string
	Activities  []activity.Activity
}

func (l SessionLog) Duration() time.Duration { return l.End.Sub(l.Start) }

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	ID       uuid.UUID
	Kind     Kind
	At       time.Time
	Identity uuid.UUID
	Name     string
	Mode     string

	Remaining time.Duration
	Total     time.Duration
	Urgency   Urgency
	Message   string
	Log       *SessionLog
}

// Notifier is the sink the session core talks to.
type Notifier interface {
	Notify(ev Event)
}

// Sink delivers events somewhere. Sinks ignore kinds they do not handle.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Name() string { return "func" }

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Event) {}
