package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
)

// Sender is whoever issued a request: it can be messaged, holds
// capabilities, and may or may not be a user with an identity.
type Sender interface {
	SendMessage(msg string)
	HasCapability(name string) bool
	Identity() (uuid.UUID, bool)
}

type identitySender struct {
	ctx      context.Context
	id       uuid.UUID
	backend  privilege.Backend
	notifier notify.Notifier
}

// NewIdentitySender is a Sender for a user whose capabilities live in the
// permission backend and whose messages go out through the notifier.
func NewIdentitySender(ctx context.Context, id uuid.UUID, backend privilege.Backend, notifier notify.Notifier) Sender {
	return &identitySender{ctx: ctx, id: id, backend: backend, notifier: notifier}
}

func (s *identitySender) SendMessage(msg string) {
	s.notifier.Notify(notify.Event{Kind: notify.KindMessage, Identity: s.id, Message: msg})
}

func (s *identitySender) HasCapability(name string) bool {
	return s.backend.HasCapability(s.ctx, s.id, name)
}

func (s *identitySender) Identity() (uuid.UUID, bool) { return s.id, true }

// ConsoleSender is the operator: every capability, no identity.
type ConsoleSender struct {
	Logger zerolog.Logger
}

func (c ConsoleSender) SendMessage(msg string) { c.Logger.Info().Msg(msg) }

func (c ConsoleSender) HasCapability(string) bool { return true }

func (c ConsoleSender) Identity() (uuid.UUID, bool) { return uuid.Nil, false }
