// Package privilege grants and revokes the temporary permissions attached to
// an elevated session.
package privilege

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownIdentity is returned by a Backend that has never seen the
// identity. Transactions treat it as "nothing to grant".
var ErrUnknownIdentity = stderrors.New("identity unknown to permission backend")

// Backend is the permission system. Grant and Revoke must be idempotent.
type Backend interface {
	Grant(ctx context.Context, id uuid.UUID, permission string, expiry time.Duration) error
	Revoke(ctx context.Context, id uuid.UUID, permission string) error
	HasCapability(ctx context.Context, id uuid.UUID, name string) bool
}
