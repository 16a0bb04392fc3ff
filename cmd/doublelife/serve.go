package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/doublelife/doublelife-kit/pkg/api"
	"github.com/doublelife/doublelife-kit/pkg/command"
	"github.com/doublelife/doublelife-kit/pkg/config"
	"github.com/doublelife/doublelife-kit/pkg/schedule"
)

const (
	shutdownTimeout = 30 * time.Second
	purgeInterval   = time.Minute
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session lifecycle service and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				log.Error().Err(err).Msg("Failed to load configuration")
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			return serve(cmd.Context(), flags, cfg, log)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address; overrides the config")
	return cmd
}

func serve(ctx context.Context, flags *globalFlags, cfg *config.Config, log zerolog.Logger) error {
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return err
	}

	if n, err := a.manager.LoadPending(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to load pending sessions")
	} else if n > 0 {
		log.Info().Int("pending", n).Msg("Sessions waiting for their identities to reconnect")
	}

	purge := schedule.Every(a.clock, purgeInterval, func() {
		n, err := a.backend.PurgeExpired(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired grants")
			return
		}
		if n > 0 {
			log.Debug().Int64("purged", n).Msg("Purged expired grants")
		}
	})
	defer purge.Cancel()

	reload := func(context.Context) (*config.Config, error) {
		return config.Load(flags.configFile, flags.envFile)
	}
	deps := api.Deps{
		Manager:  a.manager,
		Commands: command.New(a.manager, reload, log),
		Backend:  a.backend,
		Inbox:    a.inbox,
		Logger:   log,
	}
	if a.collector != nil {
		deps.Metrics = a.collector.Handler()
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
		runErr = err
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during HTTP shutdown")
	}
	if err := a.manager.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Some sessions could not be persisted")
	}
	a.close(shutdownCtx, log)
	if runErr != nil {
		return fmt.Errorf("serve: %w", runErr)
	}
	return nil
}
