package session

import "github.com/doublelife/doublelife-kit/pkg/errors"

// Rejection explains why a start or prolong was refused. Rejections are
// normal outcomes, not failures.
type Rejection int

const (
	RejectNone Rejection = iota
	RejectNoIdentity
	RejectAlreadyActive
	RejectOnCooldown
	RejectMissingCapability
	RejectMissingElevatedCapability
	RejectNoSession
	RejectInvalidMinutes
	RejectExceedsLimit
	RejectPendingRestore
)

var rejectionText = map[Rejection][2]string{
	RejectNone:                      {"none", "allowed"},
	RejectNoIdentity:                {"no_identity", "only players can use double life"},
	RejectAlreadyActive:             {"already_active", "a session is already active"},
	RejectOnCooldown:                {"on_cooldown", "double life is on cooldown"},
	RejectMissingCapability:         {"missing_capability", "you do not have permission to use double life"},
	RejectMissingElevatedCapability: {"missing_elevated_capability", "you do not have permission to use turbo mode"},
	RejectNoSession:                 {"no_session", "no active session"},
	RejectInvalidMinutes:            {"invalid_minutes", "minutes must be between 1 and 120"},
	RejectExceedsLimit:              {"exceeds_limit", "the session cannot be extended beyond twice its base duration"},
	RejectPendingRestore:            {"pending_restore", "your previous session is being restored"},
}

// String is the stable machine-readable key.
func (r Rejection) String() string { return rejectionText[r][0] }

// Message is a human readable explanation.
func (r Rejection) Message() string { return rejectionText[r][1] }

// Err wraps a rejection as a POLICY_REJECTED error, or nil for RejectNone.
func (r Rejection) Err() error {
	if r == RejectNone {
		return nil
	}
	return errors.New(errors.CodePolicyRejected, "session", r.Message(), nil).With("reason", r.String())
}
