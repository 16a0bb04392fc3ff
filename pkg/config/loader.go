package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOUBLELIFE_"

// Load builds a Config from defaults, the YAML file at path (optional), an
// .env file (optional) and DOUBLELIFE_* variables, then validates it.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	if err := applyEnvMappings(cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidConfig, "config", "environment override", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(errors.CodeInvalidConfig, "config", "read config file", err).With("path", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.New(errors.CodeInvalidConfig, "config", "parse config file", err).With("path", path)
	}
	return nil
}

func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	return nil
}

type envMapping struct {
	EnvKey string
	Setter func(*Config, string) error
}

func durationSetter(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = Duration(d)
		return nil
	}
}

func stringSetter(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolSetter(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func listSetter(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*field(c) = out
		return nil
	}
}

func buildEnvMappings() []envMapping {
	return []envMapping{
		{EnvPrefix + "MAX_DURATION", durationSetter(func(c *Config) *Duration { return &c.MaxDuration })},
		{EnvPrefix + "COOLDOWN", durationSetter(func(c *Config) *Duration { return &c.Cooldown })},
		{EnvPrefix + "TICK_INTERVAL", durationSetter(func(c *Config) *Duration { return &c.TickInterval })},
		{EnvPrefix + "RESTORE_DELAY", durationSetter(func(c *Config) *Duration { return &c.RestoreDelay })},
		{EnvPrefix + "TEMPORARY_PERMISSIONS", listSetter(func(c *Config) *[]string { return &c.TemporaryPermissions })},
		{EnvPrefix + "ENTRY_COMMANDS", listSetter(func(c *Config) *[]string { return &c.EntryCommands })},
		{EnvPrefix + "HOST_COMMAND", listSetter(func(c *Config) *[]string { return &c.HostCommand })},
		{EnvPrefix + "RESTRICTED_COMMANDS", listSetter(func(c *Config) *[]string { return &c.RestrictedCommands })},
		{EnvPrefix + "BLOCK_START_ON_GRANT_FAILURE", boolSetter(func(c *Config) *bool { return &c.Privileges.BlockStartOnGrantFailure })},
		{EnvPrefix + "PERSISTENCE_BACKEND", stringSetter(func(c *Config) *string { return &c.Persistence.Backend })},
		{EnvPrefix + "PERSISTENCE_PATH", stringSetter(func(c *Config) *string { return &c.Persistence.Path })},
		{EnvPrefix + "REDIS_ADDR", stringSetter(func(c *Config) *string { return &c.Persistence.RedisAddr })},
		{EnvPrefix + "REDIS_PASSWORD", stringSetter(func(c *Config) *string { return &c.Persistence.RedisPassword })},
		{EnvPrefix + "PERMISSIONS_DSN", stringSetter(func(c *Config) *string { return &c.Permissions.DSN })},
		{EnvPrefix + "DISCORD_WEBHOOK_URL", stringSetter(func(c *Config) *string { return &c.Webhook.Discord.URL })},
		{EnvPrefix + "DISCORD_WEBHOOK_ENABLED", boolSetter(func(c *Config) *bool { return &c.Webhook.Discord.Enabled })},
		{EnvPrefix + "CALLBACK_URL", stringSetter(func(c *Config) *string { return &c.Webhook.Callback.URL })},
		{EnvPrefix + "CALLBACK_ENABLED", boolSetter(func(c *Config) *bool { return &c.Webhook.Callback.Enabled })},
		{EnvPrefix + "CALLBACK_AUTHORIZATION", stringSetter(func(c *Config) *string { return &c.Webhook.Callback.Authorization })},
		{EnvPrefix + "LOG_DIR", stringSetter(func(c *Config) *string { return &c.LogDir })},
		{EnvPrefix + "HTTP_ADDR", stringSetter(func(c *Config) *string { return &c.HTTPAddr })},
		{EnvPrefix + "METRICS_ENABLED", boolSetter(func(c *Config) *bool { return &c.MetricsEnabled })},
		{EnvPrefix + "LOG_LEVEL", stringSetter(func(c *Config) *string { return &c.LogLevel })},
	}
}

func applyEnvMappings(cfg *Config) error {
	for _, mapping := range buildEnvMappings() {
		if val := os.Getenv(mapping.EnvKey); val != "" {
			if err := mapping.Setter(cfg, val); err != nil {
				return fmt.Errorf("failed to set %s: %w", mapping.EnvKey, err)
			}
		}
	}
	return nil
}
