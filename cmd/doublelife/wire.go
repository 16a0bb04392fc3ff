package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/errors"
	"github.com/doublelife/doublelife-kit/pkg/hostcmd"
	"github.com/doublelife/doublelife-kit/pkg/metrics"
	"github.com/doublelife/doublelife-kit/pkg/notify"
	"github.com/doublelife/doublelife-kit/pkg/persistence"
	"github.com/doublelife/doublelife-kit/pkg/privilege"
	"github.com/doublelife/doublelife-kit/pkg/session"
	"github.com/doublelife/doublelife-kit/pkg/snapshot"
)

// openGateway opens the configured record store with its codec.
func openGateway(ctx context.Context, cfg config.PersistenceConfig, log zerolog.Logger) (*persistence.Gateway, error) {
	var (
		store persistence.RecordStore
		codec = persistence.JSON
		err   error
	)
	switch cfg.Backend {
	case config.BackendBolt:
		store, err = persistence.NewBoltStore(cfg.Path)
	case config.BackendDir:
		store, err = persistence.NewDirStore(cfg.Path)
		codec = persistence.YAML
	case config.BackendRedis:
		store, err = persistence.NewRedisStore(ctx, persistence.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case config.BackendMemory:
		store = persistence.NewMemoryStore()
	default:
		return nil, errors.New(errors.CodeInvalidConfig, "persistence", "unknown backend", nil).With("backend", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s record store: %w", cfg.Backend, err)
	}
	return persistence.NewGateway(store, codec, log), nil
}

func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o750)
}

// buildSinks returns the notification sinks enabled by cfg. The inbox is
// always present since the HTTP API reads from it.
func buildSinks(cfg *config.Config, inbox *notify.Inbox, log zerolog.Logger) []notify.Sink {
	sinks := []notify.Sink{inbox}
	if cfg.LogDir != "" {
		sinks = append(sinks, notify.NewFileSink(cfg.LogDir, log))
	}
	client := notify.NewHTTPClient(cfg.Webhook.Timeout.Std())
	if d := cfg.Webhook.Discord; d.Enabled {
		sinks = append(sinks, notify.NewDiscordSink(notify.DiscordConfig{
			URL: d.URL, Format: d.Format, Mention: d.TurboMention, Client: client, Logger: log,
		}))
	}
	if c := cfg.Webhook.Callback; c.Enabled {
		sinks = append(sinks, notify.NewCallbackSink(notify.CallbackConfig{
			URL: c.URL, Method: c.Method, Authorization: c.Authorization, Client: client, Logger: log,
		}))
	}
	return sinks
}

// app is everything serve needs, with the order to close it in.
type app struct {
	cfg       *config.Config
	clock     clock.WithTicker
	backend   *privilege.GormBackend
	gateway   *persistence.Gateway
	inbox     *notify.Inbox
	notifier  *notify.Dispatcher
	collector *metrics.Collector
	manager   *session.Manager
}

func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, clock: clock.RealClock{}, inbox: notify.NewInbox()}
	if cfg.MetricsEnabled {
		a.collector = metrics.New()
	}

	if err := ensureParent(cfg.Permissions.DSN); err != nil {
		return nil, err
	}
	backend, err := privilege.OpenSQLite(cfg.Permissions.DSN, a.clock, log)
	if err != nil {
		return nil, fmt.Errorf("open permission backend: %w", err)
	}
	a.backend = backend

	profiles, err := snapshot.NewProfileStore(cfg.Profiles.Dir, log)
	if err != nil {
		a.close(ctx, log)
		return nil, err
	}

	a.gateway, err = openGateway(ctx, cfg.Persistence, log)
	if err != nil {
		a.close(ctx, log)
		return nil, err
	}

	runner, err := hostcmd.New(cfg.HostCommand, log)
	if err != nil {
		a.close(ctx, log)
		return nil, errors.New(errors.CodeInvalidConfig, "config", "host_command", err)
	}

	collector := a.collector
	a.notifier = notify.NewDispatcher(notify.DispatcherConfig{
		Timeout: cfg.Webhook.Timeout.Std(),
		Logger:  log,
		OnDrop:  collector.NotificationDropped,
	}, buildSinks(cfg, a.inbox, log)...)

	a.manager, err = session.NewManager(session.ManagerConfig{
		Settings:    cfg,
		Clock:       a.clock,
		Snapshots:   profiles,
		Clearer:     profiles,
		Describer:   profiles,
		Permissions: backend,
		Notifier:    a.notifier,
		Commands:    runner,
		Names:       backend,
		Gateway:     a.gateway,
		Metrics:     collector,
		Logger:      log,
	})
	if err != nil {
		a.close(ctx, log)
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context, log zerolog.Logger) {
	if a.notifier != nil {
		if err := a.notifier.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("Notification queue not drained")
		}
	}
	if a.gateway != nil {
		if err := a.gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close record store")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close permission backend")
		}
	}
}
