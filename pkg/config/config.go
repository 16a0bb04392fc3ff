// Package config holds the typed configuration of the session lifecycle.
// It is loaded once at startup and passed by reference; a reload builds a
// new value that the host swaps in.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doublelife/doublelife-kit/pkg/activity"
	"github.com/doublelife/doublelife-kit/pkg/errors"
)

// Duration accepts "10m", "1h", Go durations such as "90s", and bare
// integers which are read as minutes.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration parses the formats accepted by Duration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

type PrivilegesConfig struct {
	// BlockStartOnGrantFailure makes the grant synchronous and aborts the
	// start, revoking partial grants, when any permission fails.
	BlockStartOnGrantFailure bool     `yaml:"block_start_on_grant_failure"`
	GrantTimeout             Duration `yaml:"grant_timeout"`
}

type CapabilitiesConfig struct {
	Use     string `yaml:"use"`
	Turbo   string `yaml:"turbo"`
	Prolong string `yaml:"prolong"`
	Status  string `yaml:"status"`
	Admin   string `yaml:"admin"`
}

type LoggingConfig struct {
	Commands        bool     `yaml:"commands"`
	GamemodeChanges bool     `yaml:"gamemode_changes"`
	ItemGive        bool     `yaml:"item_give"`
	ContainerAccess bool     `yaml:"container_access"`
	BlockPlacements bool     `yaml:"block_placements"`
	ItemDrops       bool     `yaml:"item_drops"`
	BatchInterval   Duration `yaml:"batch_interval"`
	BatchSize       int      `yaml:"batch_size"`
}

// Enabled reports whether activities of type t are recorded.
func (l LoggingConfig) Enabled(t activity.Type) bool {
	switch t {
	case activity.TypeCommand:
		return l.Commands
	case activity.TypeGameModeChange:
		return l.GamemodeChanges
	case activity.TypeItemGive:
		return l.ItemGive
	case activity.TypeContainerAccess, activity.TypeContainerTransfer:
		return l.ContainerAccess
	case activity.TypeBlockPlace, activity.TypeBlockBreak:
		return l.BlockPlacements
	case activity.TypeItemDrop, activity.TypeItemPickup:
		return l.ItemDrops
	default:
		return true
	}
}

const (
	BackendBolt   = "bolt"
	BackendDir    = "dir"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type PersistenceConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

type PermissionsConfig struct {
	DSN string `yaml:"dsn"`
}

type ProfilesConfig struct {
	Dir string `yaml:"dir"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	// Format is "markdown" (embed) or "file" (attachment).
	Format       string `yaml:"format"`
	TurboMention string `yaml:"turbo_mention"`
}

type CallbackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Method        string `yaml:"method"`
	Authorization string `yaml:"authorization"`
}

type WebhookConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Callback CallbackConfig `yaml:"callback"`
	Timeout  Duration       `yaml:"timeout"`
}

// Config is the complete configuration.
type Config struct {
	MaxDuration  Duration `yaml:"max_duration"`
	Cooldown     Duration `yaml:"cooldown"`
	TickInterval Duration `yaml:"tick_interval"`
	GraceWindow  Duration `yaml:"grace_window"`
	RestoreDelay Duration `yaml:"restore_delay"`

	TemporaryPermissions     []string `yaml:"temporary_permissions"`
	EntryCommands            []string `yaml:"entry_commands"`
	ClearInventoryOnElevated bool     `yaml:"clear_inventory_on_elevated"`
	RestrictedCommands       []string `yaml:"restricted_commands"`

	// HostCommand is the argv prefix used to run entry commands on the host,
	// e.g. [rcon-cli]. Empty means entry commands are only logged.
	HostCommand []string `yaml:"host_command"`

	// GroupCommands restricts commands only for holders of the key capability,
	// e.g. "group.moderator": [gamemode, give].
	GroupCommands map[string][]string `yaml:"group_commands"`

	Privileges   PrivilegesConfig   `yaml:"privileges"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Logging      LoggingConfig      `yaml:"logging"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Permissions  PermissionsConfig  `yaml:"permissions"`
	Profiles     ProfilesConfig     `yaml:"profiles"`
	Webhook      WebhookConfig      `yaml:"webhook"`

	LogDir         string `yaml:"log_dir"`
	HTTPAddr       string `yaml:"http_addr"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the configuration used when no file overrides a key.
func Default() *Config {
	return &Config{
		MaxDuration:              Duration(10 * time.Minute),
		Cooldown:                 Duration(5 * time.Minute),
		TickInterval:             Duration(time.Second),
		GraceWindow:              Duration(5 * time.Second),
		RestoreDelay:             Duration(time.Second),
		ClearInventoryOnElevated: true,
		Privileges: PrivilegesConfig{
			GrantTimeout: Duration(5 * time.Second),
		},
		Capabilities: CapabilitiesConfig{
			Use:     "doublelife.use",
			Turbo:   "doublelife.turbo",
			Prolong: "doublelife.prolong",
			Status:  "doublelife.status",
			Admin:   "doublelife.admin",
		},
		Logging: LoggingConfig{
			Commands:        true,
			GamemodeChanges: true,
			ItemGive:        true,
			ContainerAccess: true,
			BlockPlacements: true,
			ItemDrops:       true,
			BatchInterval:   Duration(activity.DefaultBatchInterval),
			BatchSize:       activity.DefaultBatchSize,
		},
		Persistence: PersistenceConfig{
			Backend:     BackendBolt,
			Path:        "data/sessions.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "doublelife:session:",
		},
		Permissions: PermissionsConfig{DSN: "data/permissions.db"},
		Profiles:    ProfilesConfig{Dir: "data/profiles"},
		Webhook: WebhookConfig{
			Discord:  DiscordConfig{Format: "markdown"},
			Callback: CallbackConfig{Method: "POST"},
			Timeout:  Duration(10 * time.Second),
		},
		LogDir:         "logs",
		HTTPAddr:       ":8089",
		MetricsEnabled: true,
		LogLevel:       "info",
	}
}

// Validate rejects configurations the lifecycle cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxDuration <= 0 {
		problems = append(problems, "max_duration must be positive")
	}
	if c.Cooldown < 0 {
		problems = append(problems, "cooldown must not be negative")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if c.GraceWindow < 0 {
		problems = append(problems, "grace_window must not be negative")
	}
	if c.Logging.BatchSize <= 0 {
		problems = append(problems, "logging.batch_size must be positive")
	}
	switch c.Persistence.Backend {
	case BackendBolt, BackendDir:
		if c.Persistence.Path == "" {
			problems = append(problems, "persistence.path is required for backend "+c.Persistence.Backend)
		}
	case BackendRedis:
		if c.Persistence.RedisAddr == "" {
			problems = append(problems, "persistence.redis_addr is required for backend redis")
		}
	case BackendMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown persistence.backend %q", c.Persistence.Backend))
	}
	if c.Webhook.Discord.Enabled && c.Webhook.Discord.URL == "" {
		problems = append(problems, "webhook.discord.url is required when discord is enabled")
	}
	if f := c.Webhook.Discord.Format; f != "markdown" && f != "file" {
		problems = append(problems, fmt.Sprintf("webhook.discord.format must be markdown or file, got %q", f))
	}
	if c.Webhook.Callback.Enabled && c.Webhook.Callback.URL == "" {
		problems = append(problems, "webhook.callback.url is required when callback is enabled")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.CodeInvalidConfig, "config", strings.Join(problems, "; "), nil)
}
