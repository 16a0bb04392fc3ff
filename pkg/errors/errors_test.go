package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeverityFromCode(t *testing.T) {
	tests := []struct {
		code     Code
		severity Severity
	}{
		{CodePolicyRejected, SeverityLow},
		{CodeBackendUnavailable, SeverityMedium},
		{CodeSnapshotRestoreFailed, SeverityCritical},
		{Code("SOMETHING_ELSE"), SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "session", "boom", nil)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Contains(t, err.Location, "errors_test.go")
		})
	}
}

func TestRich_UnwrapAndCodeOf(t *testing.T) {
	cause := stderrors.New("connection refused")
	rich := New(CodeBackendUnavailable, "privilege", "grant failed", cause).
		With("identity", "abc")

	wrapped := fmt.Errorf("start: %w", rich)

	assert.True(t, Is(wrapped, cause))
	assert.Equal(t, CodeBackendUnavailable, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeBackendUnavailable))
	assert.False(t, IsCode(nil, CodeBackendUnavailable))
	assert.Equal(t, "abc", rich.Fields["identity"])
	assert.Contains(t, rich.Error(), "connection refused")
}

func TestRich_JSON(t *testing.T) {
	rich := New(CodeCorruptRecord, "persistence", "bad record", nil).With("key", "k1")
	out := rich.JSON()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"code":"CORRUPT_RECORD"`)
	assert.Contains(t, out, `"key":"k1"`)
}
