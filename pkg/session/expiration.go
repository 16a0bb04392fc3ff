package session

import (
	"context"
	"fmt"
	"time"

	"github.com/doublelife/doublelife-kit/pkg/notify"
)

const (
	warnThreshold     = 5 * time.Minute
	criticalThreshold = time.Minute
)

// tick runs on every scheduler interval for sess. It ends the session once
// its allowance is used up and otherwise refreshes the progress indicator.
func (m *Manager) tick(sess *Session) {
	now := m.clock.Now()

	m.mu.RLock()
	e, ok := m.active[sess.identity]
	current := ok && e.session == sess
	if current && sess.Remaining(now) > 0 {
		m.notifier.Notify(progressEvent(sess, now))
	}
	m.mu.RUnlock()

	if !current {
		// Ended or replaced elsewhere; the token is already cancelled.
		return
	}
	if sess.Remaining(now) > 0 {
		return
	}

	overdue := sess.Elapsed(now) - sess.TotalAllowed()
	if grace := m.Settings().GraceWindow.Std(); overdue > grace {
		m.logger.Warn().Str("identity", sess.identity.String()).Dur("overdue", overdue).
			Msg("Session expired later than the grace window")
	}
	m.end(context.Background(), sess.identity, sess, ReasonExpired)
}

func progressEvent(sess *Session, now time.Time) notify.Event {
	remaining := sess.Remaining(now)
	urgency := notify.UrgencyNormal
	switch {
	case remaining <= criticalThreshold:
		urgency = notify.UrgencyCritical
	case remaining <= warnThreshold:
		urgency = notify.UrgencyWarning
	}
	return notify.Event{
		Kind:      notify.KindProgress,
		At:        now,
		Identity:  sess.identity,
		Name:      sess.name,
		Mode:      sess.mode.String(),
		Remaining: remaining,
		Total:     sess.TotalAllowed(),
		Urgency:   urgency,
		Message:   fmt.Sprintf("%s - %s remaining", sess.mode.DisplayName(), notify.FormatDuration(remaining)),
	}
}
