package command

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
	"github.com/doublelife/doublelife-kit/pkg/session"
	"github.com/doublelife/doublelife-kit/pkg/snapshot"
)

type chatSender struct {
	mu   sync.Mutex
	id   uuid.UUID
	caps map[string]bool
	msgs []string
}

func (c *chatSender) SendMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *chatSender) HasCapability(name string) bool { return c.caps[name] }

func (c *chatSender) Identity() (uuid.UUID, bool) { return c.id, c.id != uuid.Nil }

func (c *chatSender) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return ""
	}
	return c.msgs[len(c.msgs)-1]
}

type fixture struct {
	clock   *clocktesting.FakeClock
	backend *privilege.GormBackend
	manager *session.Manager
	handler *Handler
	next    *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local))

	backend, err := privilege.OpenSQLite(filepath.Join(dir, "permissions.db"), clk, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	profiles, err := snapshot.NewProfileStore(filepath.Join(dir, "profiles"), zerolog.Nop())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.TemporaryPermissions = []string{"essentials.fly"}
	mgr, err := session.NewManager(session.ManagerConfig{
		Settings:    cfg,
		Clock:       clk,
		Snapshots:   profiles,
		Clearer:     profiles,
		Describer:   profiles,
		Permissions: backend,
		Names:       backend,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close(context.Background()) })

	f := &fixture{clock: clk, backend: backend, manager: mgr, next: config.Default()}
	f.handler = New(mgr, func(context.Context) (*config.Config, error) { return f.next, nil }, zerolog.Nop())
	return f
}

func (f *fixture) player(t *testing.T, name string, caps ...string) *chatSender {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.backend.Register(context.Background(), id, name))
	m := map[string]bool{}
	for _, c := range caps {
		m[c] = true
	}
	return &chatSender{id: id, caps: m}
}

func TestExecute_StartEndCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "Steve", "doublelife.use")

	require.NoError(t, f.handler.Execute(ctx, p, "start"))
	sess, ok := f.manager.Get(p.id)
	require.True(t, ok)
	assert.Equal(t, "Steve", sess.Name())

	err := f.handler.Execute(ctx, p, "start")
	assert.True(t, errors.IsCode(err, errors.CodePolicyRejected))
	assert.Equal(t, "A session is already active.", p.last())

	require.NoError(t, f.handler.Execute(ctx, p, "stop"))
	assert.False(t, f.manager.HasActive(p.id))

	err = f.handler.Execute(ctx, p, "start")
	assert.True(t, errors.IsCode(err, errors.CodePolicyRejected))
	assert.Equal(t, "Double life is on cooldown for another 5 minutes, 0 seconds.", p.last())

	err = f.handler.Execute(ctx, p, "end")
	assert.Equal(t, "You have no active double life session.", p.last())
	assert.Error(t, err)
}

func TestExecute_TurboRequiresCapability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "Alex", "doublelife.use")

	err := f.handler.Execute(ctx, p, "turbo")
	assert.True(t, errors.IsCode(err, errors.CodePolicyRejected))
	assert.Equal(t, "You do not have permission to use turbo mode.", p.last())

	p.caps["doublelife.turbo"] = true
	require.NoError(t, f.handler.Execute(ctx, p, "turbo"))
	require.NoError(t, f.manager.Close(ctx))

	grants, err := f.backend.Grants(ctx, p.id)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "essentials.fly", grants[0].Permission)
}

func TestExecute_Prolong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "Steve", "doublelife.use")

	require.NoError(t, f.handler.Execute(ctx, p, "start"))
	err := f.handler.Execute(ctx, p, "prolong 5")
	assert.True(t, errors.IsCode(err, errors.CodePolicyRejected))

	p.caps["doublelife.prolong"] = true
	assert.Error(t, f.handler.Execute(ctx, p, "prolong five"))
	assert.Error(t, f.handler.Execute(ctx, p, "extend 0"))
	require.NoError(t, f.handler.Execute(ctx, p, "extend 10"))
	assert.Error(t, f.handler.Execute(ctx, p, "prolong 1"))
	assert.Equal(t, "Cannot extend session - would exceed safety limits.", p.last())

	sess, _ := f.manager.Get(p.id)
	assert.Equal(t, 10, sess.ExtensionMinutes())
}

func TestExecute_Status(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "Steve", "doublelife.use", "doublelife.status")
	console := &chatSender{caps: map[string]bool{"doublelife.status": true}}

	assert.Error(t, f.handler.Execute(ctx, console, "status"))
	assert.Equal(t, "Please specify a player!", console.last())

	require.NoError(t, f.handler.Execute(ctx, p, "start"))
	f.clock.Step(3 * time.Minute)
	require.NoError(t, f.handler.Execute(ctx, console, "status "+p.id.String()))

	joined := strings.Join(console.msgs, "\n")
	assert.Contains(t, joined, "Player: Steve")
	assert.Contains(t, joined, "Mode: Default Mode")
	assert.Contains(t, joined, "Session duration: 3 minutes")
	assert.Contains(t, joined, "Remaining time: 7 minutes")
	assert.Contains(t, joined, "Activities logged: 1")
}

func TestExecute_ReloadAndHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.player(t, "Steve", "doublelife.use")

	assert.True(t, errors.IsCode(f.handler.Execute(ctx, p, "reload"), errors.CodePolicyRejected))

	admin := f.player(t, "Op", "doublelife.admin", "doublelife.use")
	f.next.MaxDuration = config.Duration(20 * time.Minute)
	require.NoError(t, f.handler.Execute(ctx, admin, "reload"))
	assert.Equal(t, 20*time.Minute, f.manager.Settings().MaxDuration.Std())

	f.next = config.Default()
	f.next.TickInterval = 0
	assert.True(t, errors.IsCode(f.handler.Execute(ctx, admin, "reload"), errors.CodeInvalidConfig))

	p.msgs = nil
	require.NoError(t, f.handler.Execute(ctx, p, "help"))
	assert.NotContains(t, strings.Join(p.msgs, "\n"), "reload")
	require.NoError(t, f.handler.Execute(ctx, admin, ""))
	assert.Equal(t, "/doublelife reload - Reload the configuration", admin.last())

	assert.True(t, errors.IsCode(f.handler.Execute(ctx, p, "fly"), errors.CodeNotFound))
}
