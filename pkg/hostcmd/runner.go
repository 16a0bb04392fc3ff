// Package hostcmd runs console commands on the host the sessions live on,
// such as the entry commands of an elevated session.
package hostcmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Runner runs one console command line on the host.
type Runner interface {
	RunCommand(ctx context.Context, command string) error
}

// ExecRunner hands each command line to an external program, e.g. an RCON
// client: argv is the program and its fixed arguments, the command line is
// appended as the last argument.
type ExecRunner struct {
	argv   []string
	logger zerolog.Logger
}

var _ Runner = &ExecRunner{}

func NewExecRunner(argv []string, logger zerolog.Logger) (*ExecRunner, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("host command is empty")
	}
	return &ExecRunner{
		argv:   append([]string(nil), argv...),
		logger: logger.With().Str("component", "host_command").Logger(),
	}, nil
}

func (r *ExecRunner) RunCommand(ctx context.Context, command string) error {
	args := append(append([]string(nil), r.argv[1:]...), command)
	r.logger.Debug().Str("program", r.argv[0]).Str("command", command).Msg("Running host command")

	out, err := exec.CommandContext(ctx, r.argv[0], args...).CombinedOutput()
	r.logger.Debug().Str("output", strings.TrimSpace(string(out))).Msg("Host command output")
	if err != nil {
		return fmt.Errorf("host command %q: %w: %s", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// LogRunner only logs the command lines, for hosts that tail the process
// output.
type LogRunner struct {
	Logger zerolog.Logger
}

var _ Runner = LogRunner{}

func (r LogRunner) RunCommand(_ context.Context, command string) error {
	r.Logger.Info().Str("command", command).Msg("Dispatching host command")
	return nil
}

// FakeRunner records command lines and fails with ErrStr when it is set.
type FakeRunner struct {
	ErrStr string

	mu       sync.Mutex
	commands []string
}

var _ Runner = &FakeRunner{}

func (f *FakeRunner) RunCommand(_ context.Context, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.ErrStr != "" {
		return errors.New(f.ErrStr)
	}
	return nil
}

func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// New picks the ExecRunner when argv is set and the LogRunner otherwise.
func New(argv []string, logger zerolog.Logger) (Runner, error) {
	if len(argv) == 0 {
		return LogRunner{Logger: logger.With().Str("component", "host_command").Logger()}, nil
	}
	return NewExecRunner(argv, logger)
}
