package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/doublelife/doublelife-kit/pkg/activity"
	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/metrics"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/persistence"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
	"github.com/doublelife/doublelife-kit/pkg/schedule"
	"github.com/doublelife/doublelife-kit/pkg/snapshot"
)

const (
	minProlongMinutes = 1
	maxProlongMinutes = 120
)

// EndReason is why a session ended.
type EndReason string

const (
	ReasonManual   EndReason = "manual"
	ReasonExpired  EndReason = "expired"
	ReasonShutdown EndReason = "shutdown"
)

// CommandRunner runs a console command on the host, e.g. entry commands.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string) error
}

// NameResolver maps an identity to a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, id uuid.UUID) string
}

// ManagerConfig wires the Manager to its collaborators. Settings, Snapshots
// and Permissions are required.
type ManagerConfig struct {
	Settings    *config.Config
	Clock       clock.WithTicker
	Snapshots   snapshot.Service
	Clearer     snapshot.WorkingStateClearer
	Describer   snapshot.Describer
	Permissions privilege.Backend
	Dispatcher  *privilege.Dispatcher
	Notifier    notify.Notifier
	Commands    CommandRunner
	Names       NameResolver
	Gateway     *persistence.Gateway
	Metrics     metrics.Recorder
	Logger      zerolog.Logger
}

type entry struct {
	session *Session
	token   schedule.CancelToken
	tx      *privilege.Transaction
}

// Manager is the session store: the single source of truth for who is in
// a session. Mutations are linearized per identity.
type Manager struct {
	clock      clock.WithTicker
	logger     zerolog.Logger
	snapshots  snapshot.Service
	clearer    snapshot.WorkingStateClearer
	describer  snapshot.Describer
	backend    privilege.Backend
	dispatcher *privilege.Dispatcher
	notifier   notify.Notifier
	commands   CommandRunner
	names      NameResolver
	gateway    *persistence.Gateway
	metrics    metrics.Recorder
	batcher    *activity.Batcher

	settings atomic.Pointer[config.Config]
	locks    *keyedMutex

	mu        sync.RWMutex
	active    map[uuid.UUID]*entry
	cooldowns map[uuid.UUID]time.Time
	pending   map[uuid.UUID]*Session
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Settings == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "session", "settings are required", nil)
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Snapshots == nil || cfg.Permissions == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "session", "snapshot service and permission backend are required", nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = (*metrics.Collector)(nil)
	}
	logger := cfg.Logger.With().Str("component", "session_manager").Logger()
	if cfg.Dispatcher == nil {
		rec := cfg.Metrics
		cfg.Dispatcher = privilege.NewDispatcher(cfg.Settings.Privileges.GrantTimeout.Std(), cfg.Logger,
			privilege.WithErrorHook(func(op string, _ error) { rec.BackendFailure(op) }))
	}

	m := &Manager{
		clock:      cfg.Clock,
		logger:     logger,
		snapshots:  cfg.Snapshots,
		clearer:    cfg.Clearer,
		describer:  cfg.Describer,
		backend:    cfg.Permissions,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		commands:   cfg.Commands,
		names:      cfg.Names,
		gateway:    cfg.Gateway,
		metrics:    cfg.Metrics,
		batcher: activity.NewBatcher(cfg.Clock,
			cfg.Settings.Logging.BatchInterval.Std(), cfg.Settings.Logging.BatchSize),
		locks:     newKeyedMutex(),
		active:    make(map[uuid.UUID]*entry),
		cooldowns: make(map[uuid.UUID]time.Time),
		pending:   make(map[uuid.UUID]*Session),
	}
	m.settings.Store(cfg.Settings)
	return m, nil
}

// Settings returns the configuration currently in force.
func (m *Manager) Settings() *config.Config { return m.settings.Load() }

// UpdateConfig swaps in a new configuration for subsequent operations.
// Active sessions keep the base duration and permissions they started with.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.settings.Store(cfg)
	m.logger.Info().Msg("Configuration reloaded")
	return nil
}

func (m *Manager) displayName(ctx context.Context, id uuid.UUID) string {
	if m.names != nil {
		if n := m.names.DisplayName(ctx, id); n != "" {
			return n
		}
	}
	return id.String()
}

// CheckStart explains whether s may start a session in mode. It changes no
// session state.
func (m *Manager) CheckStart(s Sender, mode Mode) Rejection {
	r := m.checkStart(s, mode)
	if r != RejectNone {
		m.metrics.StartRejected(r.String())
	}
	return r
}

func (m *Manager) checkStart(s Sender, mode Mode) Rejection {
	id, ok := s.Identity()
	if !ok {
		return RejectNoIdentity
	}
	if m.HasActive(id) {
		return RejectAlreadyActive
	}
	if m.hasPending(id) {
		return RejectPendingRestore
	}
	if m.RemainingCooldown(id) > 0 {
		return RejectOnCooldown
	}
	caps := m.Settings().Capabilities
	if !s.HasCapability(caps.Use) {
		return RejectMissingCapability
	}
	if mode == ModeElevated && !s.HasCapability(caps.Turbo) {
		return RejectMissingElevatedCapability
	}
	return RejectNone
}

func (m *Manager) CanStart(s Sender, mode Mode) bool {
	return m.CheckStart(s, mode) == RejectNone
}

// Start begins a session. Callers check CanStart first; Start itself only
// refuses to register a second session for the same identity.
func (m *Manager) Start(ctx context.Context, id uuid.UUID, mode Mode) (sess *Session, err error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	defer m.recoverInto(&err, "start", id)

	if m.HasActive(id) {
		return nil, errors.New(errors.CodeDoubleOperation, "session", "session already active", nil).
			With("identity", id.String())
	}
	if m.hasPending(id) {
		return nil, errors.New(errors.CodeDoubleOperation, "session", "parked session awaiting restore", nil).
			With("identity", id.String())
	}

	cfg := m.Settings()
	log := m.logger.With().Str("identity", id.String()).Str("operation", "start").Str("mode", mode.String()).Logger()

	snap, err := m.snapshots.Capture(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot capture failed, session not started")
		m.metrics.BackendFailure("capture")
		return nil, errors.New(errors.CodeBackendUnavailable, "session", "capture profile snapshot", err).
			With("identity", id.String())
	}

	name := m.displayName(ctx, id)
	base := cfg.MaxDuration.Std()
	tx := privilege.NewTransaction(m.backend, cfg.TemporaryPermissions, m.logger)

	if mode == ModeElevated {
		if err := m.grant(ctx, cfg, tx, id, base); err != nil {
			return nil, err
		}
		if cfg.ClearInventoryOnElevated && m.clearer != nil {
			if err := m.clearer.ClearWorkingState(ctx, id); err != nil {
				log.Warn().Err(err).Msg("Failed to clear working state")
				m.metrics.BackendFailure("clear")
			}
		}
		m.runEntryCommands(cfg, id, name)
	}

	now := m.clock.Now()
	sess = newSession(id, name, mode, snap, now, base)
	sess.log.Append(activity.New(now, activity.TypeSessionStart, mode.DisplayName(), ""))
	m.attach(sess, tx)

	m.metrics.SessionStarted(mode.String())
	m.notifier.Notify(notify.Event{
		Kind: notify.KindSessionStarted, At: now, Identity: id, Name: name, Mode: mode.String(),
		Total: base, Message: fmt.Sprintf("%s started for %s", mode.DisplayName(), notify.FormatDuration(base)),
	})
	if mode == ModeElevated {
		m.notifier.Notify(notify.Event{Kind: notify.KindTurboActivated, At: now, Identity: id, Name: name, Mode: mode.String()})
	}
	log.Info().Str("name", name).Dur("base", base).Msg("Session started")
	return sess, nil
}

// grant applies the temporary permissions. By default it is queued and a
// failure only gets logged; with block_start_on_grant_failure it runs inline
// and a failure aborts the start after compensating.
func (m *Manager) grant(ctx context.Context, cfg *config.Config, tx *privilege.Transaction, id uuid.UUID, expiry time.Duration) error {
	if len(tx.Permissions()) == 0 {
		return nil
	}
	if !cfg.Privileges.BlockStartOnGrantFailure {
		m.dispatcher.Submit(id, "grant", func(ctx context.Context) error {
			return tx.Grant(ctx, id, expiry)
		})
		return nil
	}

	gctx, cancel := context.WithTimeout(ctx, cfg.Privileges.GrantTimeout.Std())
	defer cancel()
	if err := tx.GrantAll(gctx, id, expiry); err != nil {
		m.metrics.BackendFailure("grant")
		m.logger.Error().Err(err).Str("identity", id.String()).Str("operation", "start").Msg("Grant failed, session not started")
		return err
	}
	return nil
}

func (m *Manager) runEntryCommands(cfg *config.Config, id uuid.UUID, name string) {
	if m.commands == nil {
		return
	}
	for _, c := range cfg.EntryCommands {
		cmd := strings.ReplaceAll(c, "{player}", name)
		m.dispatcher.Submit(id, "entry_command", func(ctx context.Context) error {
			return m.commands.RunCommand(ctx, cmd)
		})
	}
}

// attach registers sess as active and starts its expiration ticks.
func (m *Manager) attach(sess *Session, tx *privilege.Transaction) {
	interval := m.Settings().TickInterval.Std()

	m.mu.Lock()
	defer m.mu.Unlock()
	e := &entry{session: sess, tx: tx}
	m.active[sess.identity] = e
	e.token = schedule.Every(m.clock, interval, func() { m.tick(sess) })
}

// End finishes the active session of id. It reports whether a session was
// ended; ending an identity without a session is a no-op.
func (m *Manager) End(ctx context.Context, id uuid.UUID) bool {
	return m.end(ctx, id, nil, ReasonManual)
}

// EndAll ends every active session.
func (m *Manager) EndAll(ctx context.Context) int {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range ids {
		if m.end(ctx, id, nil, ReasonShutdown) {
			n++
		}
	}
	return n
}

// end removes the session of id, or only expected when it is non-nil.
func (m *Manager) end(ctx context.Context, id uuid.UUID, expected *Session, reason EndReason) (ended bool) {
	unlock := m.locks.Lock(id)
	defer unlock()
	var err error
	defer func() {
		if err != nil {
			m.logger.Error().Err(err).Str("identity", id.String()).Str("operation", "end").Msg("End failed")
		}
	}()
	defer m.recoverInto(&err, "end", id)

	return m.endLocked(ctx, id, expected, reason)
}

func (m *Manager) endLocked(ctx context.Context, id uuid.UUID, expected *Session, reason EndReason) bool {
	now := m.clock.Now()
	cfg := m.Settings()

	m.mu.Lock()
	e, ok := m.active[id]
	if !ok || (expected != nil && e.session != expected) {
		m.mu.Unlock()
		return false
	}
	delete(m.active, id)
	e.session.markEnded(now)
	m.cooldowns[id] = now.Add(cfg.Cooldown.Std())
	e.token.Cancel()
	m.mu.Unlock()

	sess := e.session
	log := m.logger.With().Str("identity", id.String()).Str("operation", "end").Str("reason", string(reason)).Logger()

	for _, a := range m.batcher.Flush(id) {
		sess.log.Append(a)
	}
	sess.log.Append(activity.New(now, activity.TypeSessionEnd, string(reason), ""))

	snap := sess.takeSnapshot()
	if err := m.restore(ctx, snap, id); err != nil {
		log.Error().Err(errors.New(errors.CodeSnapshotRestoreFailed, "session", "restore profile snapshot", err)).
			Msg("Profile restore failed, session removed anyway")
		m.metrics.BackendFailure("restore")
	}

	if sess.mode == ModeElevated {
		tx := e.tx
		m.dispatcher.Submit(id, "revoke", func(ctx context.Context) error {
			return tx.Revoke(ctx, id)
		})
	}

	m.notifier.Notify(notify.Event{Kind: notify.KindProgressClear, At: now, Identity: id})
	m.notifier.Notify(notify.Event{
		Kind: notify.KindSessionEnded, At: now, Identity: id, Name: sess.name, Mode: sess.mode.String(),
		Message: fmt.Sprintf("Double life ended (%s)", reason),
	})
	m.notifier.Notify(notify.Event{
		Kind: notify.KindSessionLog, At: now, Identity: id, Name: sess.name, Mode: sess.mode.String(),
		Log: m.sessionLog(sess, snap, now),
	})

	elapsed := sess.Elapsed(now)
	m.metrics.SessionEnded(sess.mode.String(), string(reason), elapsed.Seconds())
	log.Info().Dur("elapsed", elapsed).Int("activities", sess.log.Len()).Msg("Session ended")
	return true
}

func (m *Manager) restore(ctx context.Context, snap snapshot.Snapshot, id uuid.UUID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot service panic: %v", r)
		}
	}()
	return m.snapshots.Restore(ctx, snap, id)
}

func (m *Manager) sessionLog(sess *Session, snap snapshot.Snapshot, end time.Time) *notify.SessionLog {
	var saved []string
	if m.describer != nil && snap != nil {
		saved = m.describer.Describe(snap)
	}
	return &notify.SessionLog{
		Identity:    sess.identity,
		Name:        sess.name,
		Mode:        sess.mode.String(),
		ModeDisplay: sess.mode.DisplayName(),
		Start:       sess.startTime,
		End:         end,
		SavedState:  saved,
		Activities:  sess.log.Seal(),
	}
}

// Prolong adds minutes to the active session of id.
func (m *Manager) Prolong(id uuid.UUID, minutes int) bool {
	return m.CheckProlong(id, minutes) == RejectNone
}

// CheckProlong applies an extension and explains a refusal. A refused
// extension changes nothing.
func (m *Manager) CheckProlong(id uuid.UUID, minutes int) Rejection {
	unlock := m.locks.Lock(id)
	defer unlock()

	sess, ok := m.Get(id)
	if !ok {
		return RejectNoSession
	}
	if minutes < minProlongMinutes || minutes > maxProlongMinutes {
		return RejectInvalidMinutes
	}
	if sess.TotalAllowed()+time.Duration(minutes)*time.Minute > 2*sess.baseDuration {
		return RejectExceedsLimit
	}

	sess.extend(minutes)
	now := m.clock.Now()
	remaining := sess.Remaining(now)

	if sess.mode == ModeElevated {
		m.mu.RLock()
		tx := m.active[id].tx
		m.mu.RUnlock()
		m.dispatcher.Submit(id, "regrant", func(ctx context.Context) error {
			return tx.Grant(ctx, id, remaining)
		})
	}

	m.metrics.Prolonged()
	m.notifier.Notify(notify.Event{
		Kind: notify.KindMessage, At: now, Identity: id,
		Message: fmt.Sprintf("Session extended by %d minutes", minutes),
	})
	m.logger.Info().Str("identity", id.String()).Str("operation", "prolong").
		Int("minutes", minutes).Int("extension_minutes", sess.ExtensionMinutes()).Msg("Session extended")
	return RejectNone
}

func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.active[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (m *Manager) HasActive(id uuid.UUID) bool {
	_, ok := m.Get(id)
	return ok
}

func (m *Manager) hasPending(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[id]
	return ok
}

// Status is the current view of the active session of id.
func (m *Manager) Status(id uuid.UUID) (Status, bool) {
	sess, ok := m.Get(id)
	if !ok {
		return Status{}, false
	}
	return sess.Status(m.clock.Now()), true
}

// List returns the active sessions ordered by start time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.active))
	for _, e := range m.active {
		out = append(out, e.session)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].startTime.Before(out[j].startTime) })
	return out
}

// RemainingCooldown is zero when id may start again.
func (m *Manager) RemainingCooldown(id uuid.UUID) time.Duration {
	m.mu.RLock()
	expiry, ok := m.cooldowns[id]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	if r := expiry.Sub(m.clock.Now()); r > 0 {
		return r
	}
	return 0
}

// Close drains queued privilege operations.
func (m *Manager) Close(ctx context.Context) error {
	return m.dispatcher.Close(ctx)
}

func (m *Manager) recoverInto(err *error, op string, id uuid.UUID) {
	if r := recover(); r != nil {
		m.logger.Error().Interface("panic", r).Str("identity", id.String()).Str("operation", op).Msg("Recovered from collaborator panic")
		*err = errors.New(errors.CodeBackendUnavailable, "session", op+" panicked", fmt.Errorf("%v", r)).
			With("identity", id.String())
	}
}
