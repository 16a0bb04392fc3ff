package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog"
)

const fileLayout = "2006-01-02_15-04-05"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileSink writes each session log to <dir>/<name>-<yyyy-MM-dd_HH-mm-ss>.log.
type FileSink struct {
	dir    string
	logger zerolog.Logger
}

func NewFileSink(dir string, logger zerolog.Logger) *FileSink {
	return &FileSink{dir: dir, logger: logger.With().Str("component", "log_file_sink").Logger()}
}

func (s *FileSink) Name() string { return "file" }

// FileName is the log file name for l.
func FileName(l SessionLog) string {
	name := l.Name
	if name == "" {
		name = l.Identity.String()
	}
	return unsafeName.ReplaceAllString(name, "_") + "-" + l.End.Format(fileLayout) + ".log"
}

func (s *FileSink) Deliver(_ context.Context, ev Event) error {
	if ev.Kind != KindSessionLog || ev.Log == nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, FileName(*ev.Log))
	if err := os.WriteFile(path, []byte(Render(*ev.Log)), 0o640); err != nil {
		return fmt.Errorf("failed to write session log: %w", err)
	}
	s.logger.Info().Str("identity", ev.Identity.String()).Str("path", path).Msg("Session log written")
	return nil
}
