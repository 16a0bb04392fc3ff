package hostcmd

import (
	"bytes"
	"context"
	"os/exec"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PicksRunner(t *testing.T) {
	r, err := New(nil, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, LogRunner{}, r)

	r, err = New([]string{"echo"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &ExecRunner{}, r)

	_, err = New([]string{" "}, zerolog.Nop())
	assert.Error(t, err)
}

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	ok, err := NewExecRunner([]string{"sh", "-c", `test "$0" = "say hi"`}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, ok.RunCommand(context.Background(), "say hi"))
	assert.Error(t, ok.RunCommand(context.Background(), "say bye"))
}

func TestLogRunner(t *testing.T) {
	var buf bytes.Buffer
	r := LogRunner{Logger: zerolog.New(&buf)}
	require.NoError(t, r.RunCommand(context.Background(), "give Steve diamond"))
	assert.Contains(t, buf.String(), `"command":"give Steve diamond"`)
}

func TestFakeRunner(t *testing.T) {
	f := &FakeRunner{}
	require.NoError(t, f.RunCommand(context.Background(), "a"))
	f.ErrStr = "boom"
	assert.EqualError(t, f.RunCommand(context.Background(), "b"), "boom")
	assert.Equal(t, []string{"a", "b"}, f.Commands())
}
