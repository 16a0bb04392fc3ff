package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/metrics"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/persistence"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
)

// RestoreOutcome is what RestorePendingFor did with a pending session.
type RestoreOutcome int

const (
	RestoreNone RestoreOutcome = iota
	RestoreResumed
	RestoreExpired
)

func (o RestoreOutcome) String() string {
	switch o {
	case RestoreResumed:
		return metrics.OutcomeResumed
	case RestoreExpired:
		return metrics.OutcomeExpired
	default:
		return "none"
	}
}

// AddPending parks a record until its identity comes back. A record for an
// identity that already has a pending session replaces it.
func (m *Manager) AddPending(r persistence.Record) error {
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return errors.New(errors.CodeCorruptRecord, "session", "unknown mode in record", err).
			With("identity", r.Identity.String())
	}
	base := r.BaseDuration
	if base <= 0 {
		base = m.Settings().MaxDuration.Std()
	}
	name := r.Name
	if name == "" {
		name = r.Identity.String()
	}
	sess := newSession(r.Identity, name, mode, r.Snapshot, r.StartTime, base)
	sess.extensionMinutes = r.ExtensionMinutes

	m.mu.Lock()
	m.pending[r.Identity] = sess
	m.mu.Unlock()
	return nil
}

// LoadPending consumes every persisted record into the pending set and
// returns how many were accepted.
func (m *Manager) LoadPending(ctx context.Context) (int, error) {
	if m.gateway == nil {
		return 0, nil
	}
	records, err := m.gateway.LoadPending(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range records {
		if err := m.AddPending(r); err != nil {
			m.logger.Warn().Err(err).Str("identity", r.Identity.String()).Msg("Discarding pending session")
			continue
		}
		n++
	}
	return n, nil
}

// PendingIdentities lists identities with a parked session.
func (m *Manager) PendingIdentities() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(m.pending))
	for id := range m.pending {
		out = append(out, id)
	}
	return out
}

// RestorePendingFor resumes or retires the parked session of id. A session
// whose allowance ran out while parked gets its snapshot restored and is
// never re-granted.
func (m *Manager) RestorePendingFor(ctx context.Context, id uuid.UUID) (outcome RestoreOutcome) {
	unlock := m.locks.Lock(id)
	defer unlock()
	var err error
	defer func() {
		if err != nil {
			m.logger.Error().Err(err).Str("identity", id.String()).Str("operation", "restore_pending").Msg("Restore failed")
		}
	}()
	defer m.recoverInto(&err, "restore_pending", id)

	m.mu.Lock()
	sess, ok := m.pending[id]
	delete(m.pending, id)
	current, active := m.active[id]
	m.mu.Unlock()

	if !ok {
		return RestoreNone
	}
	log := m.logger.With().Str("identity", id.String()).Str("operation", "restore_pending").Logger()
	cfg := m.Settings()
	tx := privilege.NewTransaction(m.backend, cfg.TemporaryPermissions, m.logger)
	now := m.clock.Now()

	if active {
		// The parked snapshot predates both sessions, so the live one restores
		// it when it ends.
		sess.markEnded(now)
		current.session.replaceSnapshot(sess.takeSnapshot())
		if sess.mode == ModeElevated && current.session.mode != ModeElevated {
			m.dispatcher.Submit(id, "revoke", func(ctx context.Context) error {
				return tx.Revoke(ctx, id)
			})
		}
		log.Warn().Msg("Identity already has an active session, merged pending one into it")
		return RestoreNone
	}

	if sess.Elapsed(now) >= sess.TotalAllowed() {
		sess.markEnded(now)
		if rerr := m.restore(ctx, sess.takeSnapshot(), id); rerr != nil {
			log.Error().Err(errors.New(errors.CodeSnapshotRestoreFailed, "session", "restore profile snapshot", rerr)).
				Msg("Profile restore of expired session failed")
			m.metrics.BackendFailure("restore")
		}
		if sess.mode == ModeElevated {
			m.dispatcher.Submit(id, "revoke", func(ctx context.Context) error {
				return tx.Revoke(ctx, id)
			})
		}
		m.notifier.Notify(notify.Event{
			Kind: notify.KindSessionExpired, At: now, Identity: id, Name: sess.name, Mode: sess.mode.String(),
			Message: "Your double life session expired while you were away",
		})
		m.metrics.PendingRestored(RestoreExpired.String())
		log.Info().Dur("elapsed", sess.Elapsed(now)).Msg("Pending session expired while offline")
		return RestoreExpired
	}

	remaining := sess.Remaining(now)
	if sess.mode == ModeElevated && len(tx.Permissions()) > 0 {
		m.dispatcher.Submit(id, "regrant", func(ctx context.Context) error {
			return tx.Grant(ctx, id, remaining)
		})
	}
	m.attach(sess, tx)

	m.notifier.Notify(notify.Event{
		Kind: notify.KindSessionRestored, At: now, Identity: id, Name: sess.name, Mode: sess.mode.String(),
		Remaining: remaining, Total: sess.TotalAllowed(),
		Message: fmt.Sprintf("Double life resumed with %s remaining", notify.FormatDuration(remaining)),
	})
	m.metrics.PendingRestored(RestoreResumed.String())
	log.Info().Dur("remaining", remaining).Msg("Pending session resumed")
	return RestoreResumed
}

// ScheduleRestore runs RestorePendingFor after the configured restore delay,
// giving the host time to finish loading the identity. The returned channel
// yields the outcome.
func (m *Manager) ScheduleRestore(ctx context.Context, id uuid.UUID) <-chan RestoreOutcome {
	out := make(chan RestoreOutcome, 1)
	delay := m.Settings().RestoreDelay.Std()
	if delay <= 0 {
		out <- m.RestorePendingFor(ctx, id)
		return out
	}
	timer := m.clock.NewTimer(delay)
	go func() {
		select {
		case <-ctx.Done():
			timer.Stop()
			out <- RestoreNone
		case <-timer.C():
			out <- m.RestorePendingFor(ctx, id)
		}
	}()
	return out
}

// Suspend persists every active session for the next start and detaches it
// without restoring or revoking anything. A session that cannot be saved is
// ended normally instead.
func (m *Manager) Suspend(ctx context.Context) (int, error) {
	if m.gateway == nil {
		return 0, errors.New(errors.CodeInvalidConfig, "session", "no persistence gateway configured", nil)
	}

	var result *multierror.Error
	saved := 0
	for _, sess := range m.List() {
		id := sess.identity
		ok, err := m.suspendOne(ctx, id, sess)
		if err != nil {
			result = multierror.Append(result, err)
			m.end(ctx, id, sess, ReasonShutdown)
			continue
		}
		if ok {
			saved++
		}
	}
	m.logger.Info().Int("saved", saved).Msg("Suspended active sessions")
	return saved, result.ErrorOrNil()
}

func (m *Manager) suspendOne(ctx context.Context, id uuid.UUID, sess *Session) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.RLock()
	e, ok := m.active[id]
	m.mu.RUnlock()
	if !ok || e.session != sess {
		return false, nil
	}

	for _, a := range m.batcher.Flush(id) {
		sess.log.Append(a)
	}
	if err := m.gateway.Save(ctx, sess.record()); err != nil {
		return false, err
	}

	m.mu.Lock()
	delete(m.active, id)
	e.token.Cancel()
	m.mu.Unlock()
	sess.markEnded(m.clock.Now())
	return true, nil
}

// Shutdown is the configured stop path: persist when a gateway is wired,
// otherwise end everything.
func (m *Manager) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if m.gateway != nil {
		if _, err := m.Suspend(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	} else {
		m.EndAll(ctx)
	}
	if err := m.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

