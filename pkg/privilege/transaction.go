package privilege

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

// Transaction pairs the grant of a fixed permission list with its exact
// reverse revoke.
type Transaction struct {
	backend     Backend
	permissions []string
	logger      zerolog.Logger
}

func NewTransaction(backend Backend, permissions []string, logger zerolog.Logger) *Transaction {
	perms := make([]string, len(permissions))
	copy(perms, permissions)
	return &Transaction{
		backend:     backend,
		permissions: perms,
		logger:      logger.With().Str("component", "privilege_tx").Logger(),
	}
}

func (t *Transaction) Permissions() []string {
	out := make([]string, len(t.permissions))
	copy(out, t.permissions)
	return out
}

// Grant applies every permission with the given expiry and keeps going on
// failure. All failures are returned together.
func (t *Transaction) Grant(ctx context.Context, id uuid.UUID, expiry time.Duration) error {
	var result *multierror.Error
	for _, perm := range t.permissions {
		err := t.call(func() error { return t.backend.Grant(ctx, id, perm, expiry) })
		if errors.Is(err, ErrUnknownIdentity) {
			t.logger.Warn().Str("identity", id.String()).Msg("Identity unknown to permission backend, nothing granted")
			return nil
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("grant %s: %w", perm, err))
		}
	}
	return t.wrap(result, id, "grant")
}

// GrantAll grants in order and stops at the first failure, revoking what was
// already granted in reverse order.
func (t *Transaction) GrantAll(ctx context.Context, id uuid.UUID, expiry time.Duration) error {
	for i, perm := range t.permissions {
		err := t.call(func() error { return t.backend.Grant(ctx, id, perm, expiry) })
		if errors.Is(err, ErrUnknownIdentity) {
			t.logger.Warn().Str("identity", id.String()).Msg("Identity unknown to permission backend, nothing granted")
			return nil
		}
		if err == nil {
			continue
		}

		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("grant %s: %w", perm, err))
		for j := i - 1; j >= 0; j-- {
			granted := t.permissions[j]
			if rerr := t.call(func() error { return t.backend.Revoke(ctx, id, granted) }); rerr != nil && !errors.Is(rerr, ErrUnknownIdentity) {
				result = multierror.Append(result, fmt.Errorf("compensate %s: %w", granted, rerr))
			}
		}
		return t.wrap(result, id, "grant")
	}
	return nil
}

// Revoke removes every permission in reverse grant order. Absent permissions
// and unknown identities are not errors.
func (t *Transaction) Revoke(ctx context.Context, id uuid.UUID) error {
	var result *multierror.Error
	for i := len(t.permissions) - 1; i >= 0; i-- {
		perm := t.permissions[i]
		err := t.call(func() error { return t.backend.Revoke(ctx, id, perm) })
		if errors.Is(err, ErrUnknownIdentity) {
			return nil
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("revoke %s: %w", perm, err))
		}
	}
	return t.wrap(result, id, "revoke")
}

func (t *Transaction) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("permission backend panic: %v", r)
		}
	}()
	return fn()
}

func (t *Transaction) wrap(result *multierror.Error, id uuid.UUID, op string) error {
	if err := result.ErrorOrNil(); err != nil {
		return errors.New(errors.CodeBackendUnavailable, "privilege", op+" failed", err).
			With("identity", id.String()).
			With("failures", result.Len())
	}
	return nil
}
