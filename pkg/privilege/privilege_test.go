package privilege

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	stderrors "errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Grant(ctx context.Context, id uuid.UUID, permission string, expiry time.Duration) error {
	return m.Called(id, permission, expiry).Error(0)
}

func (m *mockBackend) Revoke(ctx context.Context, id uuid.UUID, permission string) error {
	return m.Called(id, permission).Error(0)
}

func (m *mockBackend) HasCapability(ctx context.Context, id uuid.UUID, name string) bool {
	return m.Called(id, name).Bool(0)
}

var perms = []string{"minecraft.command.gamemode", "minecraft.command.give", "essentials.fly"}

func TestTransaction_GrantAndRevokeOrder(t *testing.T) {
	b := &mockBackend{}
	id := uuid.New()
	var order []string
	record := func(args mock.Arguments) { order = append(order, args.String(1)) }
	b.On("Grant", id, mock.Anything, 10*time.Minute).Return(nil).Run(record)
	b.On("Revoke", id, mock.Anything).Return(nil).Run(record)

	tx := NewTransaction(b, perms, zerolog.Nop())
	require.NoError(t, tx.Grant(context.Background(), id, 10*time.Minute))
	require.NoError(t, tx.Revoke(context.Background(), id))

	assert.Equal(t, []string{
		"minecraft.command.gamemode", "minecraft.command.give", "essentials.fly",
		"essentials.fly", "minecraft.command.give", "minecraft.command.gamemode",
	}, order)
}

func TestTransaction_GrantAggregatesFailures(t *testing.T) {
	b := &mockBackend{}
	id := uuid.New()
	boom := stderrors.New("backend down")
	b.On("Grant", id, "minecraft.command.gamemode", mock.Anything).Return(boom)
	b.On("Grant", id, "minecraft.command.give", mock.Anything).Return(nil)
	b.On("Grant", id, "essentials.fly", mock.Anything).Return(boom)

	err := NewTransaction(b, perms, zerolog.Nop()).Grant(context.Background(), id, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeBackendUnavailable))
	assert.ErrorIs(t, err, boom)
	b.AssertNumberOfCalls(t, "Grant", 3)
}

func TestTransaction_GrantAllCompensates(t *testing.T) {
	b := &mockBackend{}
	id := uuid.New()
	b.On("Grant", id, "minecraft.command.gamemode", mock.Anything).Return(nil)
	b.On("Grant", id, "minecraft.command.give", mock.Anything).Return(nil)
	b.On("Grant", id, "essentials.fly", mock.Anything).Return(stderrors.New("nope"))
	var revoked []string
	b.On("Revoke", id, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		revoked = append(revoked, args.String(1))
	})

	err := NewTransaction(b, perms, zerolog.Nop()).GrantAll(context.Background(), id, time.Minute)
	require.Error(t, err)
	assert.Equal(t, []string{"minecraft.command.give", "minecraft.command.gamemode"}, revoked)
}

func TestTransaction_UnknownIdentityIsNoop(t *testing.T) {
	b := &mockBackend{}
	id := uuid.New()
	b.On("Grant", id, mock.Anything, mock.Anything).Return(ErrUnknownIdentity)
	b.On("Revoke", id, mock.Anything).Return(ErrUnknownIdentity)

	tx := NewTransaction(b, perms, zerolog.Nop())
	assert.NoError(t, tx.Grant(context.Background(), id, time.Minute))
	assert.NoError(t, tx.GrantAll(context.Background(), id, time.Minute))
	assert.NoError(t, tx.Revoke(context.Background(), id))
	b.AssertNumberOfCalls(t, "Grant", 2)
	b.AssertNumberOfCalls(t, "Revoke", 1)
}

func TestTransaction_RecoversBackendPanic(t *testing.T) {
	b := &mockBackend{}
	id := uuid.New()
	b.On("Grant", id, mock.Anything, mock.Anything).Panic("driver exploded")

	err := NewTransaction(b, perms[:1], zerolog.Nop()).Grant(context.Background(), id, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver exploded")
}

func TestDispatcher_SerializesPerIdentity(t *testing.T) {
	d := NewDispatcher(time.Second, zerolog.Nop())
	id := uuid.New()

	var mu sync.Mutex
	var seen []int
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, d.Submit(id, "grant", func(ctx context.Context) error {
			mu.Lock()
			seen = append(seen, i)
			mu.Unlock()
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	require.Len(t, seen, 50)
	for i := range seen {
		assert.Equal(t, i, seen[i])
	}
}

func TestDispatcher_ErrorHookAndClose(t *testing.T) {
	var mu sync.Mutex
	var failed []string
	d := NewDispatcher(time.Second, zerolog.Nop(), WithErrorHook(func(op string, err error) {
		mu.Lock()
		failed = append(failed, op)
		mu.Unlock()
	}))

	d.Submit(uuid.New(), "revoke", func(ctx context.Context) error { return stderrors.New("x") })
	d.Submit(uuid.New(), "grant", func(ctx context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.ElementsMatch(t, []string{"revoke", "grant"}, failed)
	assert.False(t, d.Submit(uuid.New(), "grant", func(ctx context.Context) error { return nil }))
}

func TestDispatcher_WaitHonoursContext(t *testing.T) {
	d := NewDispatcher(time.Second, zerolog.Nop())
	release := make(chan struct{})
	d.Submit(uuid.New(), "grant", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, d.Wait(context.Background()))
}

func newGormBackend(t *testing.T) (*GormBackend, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "permissions.db"), clk, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, clk
}

func TestGormBackend_GrantExpiresAndRevokes(t *testing.T) {
	ctx := context.Background()
	b, clk := newGormBackend(t)
	id := uuid.New()
	require.NoError(t, b.Register(ctx, id, "Steve"))

	require.NoError(t, b.Grant(ctx, id, "essentials.fly", 10*time.Minute))
	require.NoError(t, b.Grant(ctx, id, "essentials.fly", 10*time.Minute), "grant is idempotent")
	assert.True(t, b.HasCapability(ctx, id, "essentials.fly"))

	grants, err := b.Grants(ctx, id)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	clk.Step(11 * time.Minute)
	assert.False(t, b.HasCapability(ctx, id, "essentials.fly"))
	n, err := b.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, b.Grant(ctx, id, "essentials.fly", time.Minute))
	require.NoError(t, b.Revoke(ctx, id, "essentials.fly"))
	require.NoError(t, b.Revoke(ctx, id, "essentials.fly"), "revoke is idempotent")
	assert.False(t, b.HasCapability(ctx, id, "essentials.fly"))
}

func TestGormBackend_UnknownIdentity(t *testing.T) {
	ctx := context.Background()
	b, _ := newGormBackend(t)
	id := uuid.New()

	assert.ErrorIs(t, b.Grant(ctx, id, "x", time.Minute), ErrUnknownIdentity)
	assert.ErrorIs(t, b.Revoke(ctx, id, "x"), ErrUnknownIdentity)
	assert.False(t, b.HasCapability(ctx, id, "x"))
	assert.Equal(t, id.String(), b.DisplayName(ctx, id))

	tx := NewTransaction(b, perms, zerolog.Nop())
	assert.NoError(t, tx.Grant(ctx, id, time.Minute))
}

func TestGormBackend_Capabilities(t *testing.T) {
	ctx := context.Background()
	b, _ := newGormBackend(t)
	id := uuid.New()
	require.NoError(t, b.Register(ctx, id, "Alex"))
	require.NoError(t, b.Register(ctx, id, "Alex2"))
	assert.Equal(t, "Alex2", b.DisplayName(ctx, id))

	require.NoError(t, b.AddCapability(ctx, id, "doublelife.use"))
	require.NoError(t, b.AddCapability(ctx, id, "doublelife.use"))
	assert.True(t, b.HasCapability(ctx, id, "doublelife.use"))
	assert.False(t, b.HasCapability(ctx, id, "doublelife.turbo"))

	require.NoError(t, b.RemoveCapability(ctx, id, "doublelife.use"))
	assert.False(t, b.HasCapability(ctx, id, "doublelife.use"))
}
