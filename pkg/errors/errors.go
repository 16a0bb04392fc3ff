// Package errors provides the single rich error type used across the session lifecycle.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
)

type Code string

const (
	// CodePolicyRejected marks a start or prolong refused by a business rule.
	CodePolicyRejected Code = "POLICY_REJECTED"
	// CodeBackendUnavailable marks an unreachable permission or snapshot backend.
	CodeBackendUnavailable Code = "BACKEND_UNAVAILABLE"
	// CodeCorruptRecord marks a persisted record that could not be decoded.
	CodeCorruptRecord Code = "CORRUPT_RECORD"
	// CodeDoubleOperation marks a repeated start or end. Always a safe no-op.
	CodeDoubleOperation Code = "DOUBLE_OPERATION"
	// CodeSnapshotRestoreFailed is fatal for the affected session only.
	CodeSnapshotRestoreFailed Code = "SNAPSHOT_RESTORE_FAILED"
	CodeInvalidConfig         Code = "INVALID_CONFIG"
	CodeNotFound              Code = "NOT_FOUND"
)

// Severity represents how bad the error is from 0‥4.
type Severity uint8

const (
	SeverityUnknown Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var codeSeverity = map[Code]Severity{
	CodePolicyRejected:        SeverityLow,
	CodeDoubleOperation:       SeverityLow,
	CodeNotFound:              SeverityLow,
	CodeBackendUnavailable:    SeverityMedium,
	CodeCorruptRecord:         SeverityMedium,
	CodeInvalidConfig:         SeverityHigh,
	CodeSnapshotRestoreFailed: SeverityCritical,
}

// Rich wraps every error flowing out of a lifecycle operation.
type Rich struct {
	Code     Code           `json:"code"`
	Domain   string         `json:"domain,omitempty"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Location string         `json:"location"`
	Cause    error          `json:"-"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Error implements error.
func (r *Rich) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Message, r.Cause)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

func (r *Rich) Unwrap() error { return r.Cause }

// New builds a Rich error in one line.
//
//	errors.New(CodeBackendUnavailable, "privilege", "grant failed", err)
func New(code Code, domain, msg string, cause error) *Rich {
	_, file, line, _ := runtime.Caller(1)

	severity, ok := codeSeverity[code]
	if !ok {
		severity = SeverityMedium
	}

	return &Rich{
		Code:     code,
		Domain:   domain,
		Message:  msg,
		Cause:    cause,
		Severity: severity,
		Location: fmt.Sprintf("%s:%d", file, line),
	}
}

func (r *Rich) With(key string, val any) *Rich {
	if r.Fields == nil {
		r.Fields = make(map[string]any, 4)
	}
	r.Fields[key] = val
	return r
}

func (r *Rich) JSON() string {
	out, _ := json.Marshal(r)
	return string(out)
}

// CodeOf returns the code of the first Rich error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var r *Rich
	if stderrors.As(err, &r) {
		return r.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Is, As and Join re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
