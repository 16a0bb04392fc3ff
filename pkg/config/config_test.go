package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doublelife/doublelife-kit/pkg/activity"
	"github.com/doublelife/doublelife-kit/pkg/errors"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "10m", want: 10 * time.Minute},
		{in: "1h", want: time.Hour},
		{in: " 2H ", want: 2 * time.Hour},
		{in: "15", want: 15 * time.Minute},
		{in: "90s", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "", wantErr: true},
		{in: "ten minutes", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Minute, cfg.MaxDuration.Std())
	assert.Equal(t, 5*time.Minute, cfg.Cooldown.Std())
	assert.Equal(t, "doublelife.turbo", cfg.Capabilities.Turbo)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doublelife.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_duration: 20m
cooldown: 1h
temporary_permissions:
  - minecraft.command.gamemode
  - essentials.fly
entry_commands:
  - "gamemode creative {player}"
logging:
  block_placements: false
persistence:
  backend: dir
  path: `+dir+`/pending
webhook:
  discord:
    enabled: true
    url: https://discord.example/webhook
`), 0o600))

	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("DOUBLELIFE_COOLDOWN=30\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DOUBLELIFE_COOLDOWN") })
	t.Setenv("DOUBLELIFE_RESTRICTED_COMMANDS", "gamemode, give ,")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, cfg.MaxDuration.Std())
	assert.Equal(t, 30*time.Minute, cfg.Cooldown.Std())
	assert.Equal(t, []string{"minecraft.command.gamemode", "essentials.fly"}, cfg.TemporaryPermissions)
	assert.Equal(t, []string{"gamemode", "give"}, cfg.RestrictedCommands)
	assert.False(t, cfg.Logging.Enabled(activity.TypeBlockPlace))
	assert.True(t, cfg.Logging.Enabled(activity.TypeCommand))
	assert.True(t, cfg.Logging.Enabled(activity.TypeTeleport))
	assert.Equal(t, BackendDir, cfg.Persistence.Backend)
	assert.Equal(t, "markdown", cfg.Webhook.Discord.Format)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_duration: 0\npersistence:\n  backend: floppy\n"), 0o600))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
	assert.Contains(t, err.Error(), "max_duration")
	assert.Contains(t, err.Error(), "floppy")
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("DOUBLELIFE_MAX_DURATION", "forever")
	_, err := Load("", "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}
