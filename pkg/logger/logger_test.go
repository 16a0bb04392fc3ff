package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_SplitsLevelsAcrossWriters(t *testing.T) {
	var out, errOut bytes.Buffer
	log := New(Options{Level: "debug", Out: &out, ErrOut: &errOut, NoColor: true})

	log.Info().Msg("session started")
	log.Error().Msg("restore failed")

	assert.Contains(t, out.String(), "session started")
	assert.NotContains(t, out.String(), "restore failed")
	assert.Contains(t, errOut.String(), "restore failed")
	assert.NotContains(t, errOut.String(), "session started")
}

func TestNew_LevelFiltering(t *testing.T) {
	var out bytes.Buffer
	log := New(Options{Level: "warn", Out: &out, ErrOut: &out, NoColor: true})

	log.Debug().Msg("tick")
	log.Warn().Msg("grant failed")

	assert.NotContains(t, out.String(), "tick")
	assert.Contains(t, out.String(), "grant failed")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var out bytes.Buffer
	log := New(Options{Level: "loud", Out: &out, ErrOut: &out, NoColor: true})

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}
