package persistence

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/doublelife/doublelife-kit/pkg/errors"
)

// Gateway writes active sessions at shutdown and consumes them at startup.
type Gateway struct {
	store  RecordStore
	codec  Codec
	logger zerolog.Logger
}

func NewGateway(store RecordStore, codec Codec, logger zerolog.Logger) *Gateway {
	if codec == nil {
		codec = JSON
	}
	return &Gateway{
		store:  store,
		codec:  codec,
		logger: logger.With().Str("component", "persistence").Logger(),
	}
}

// Save writes one record, replacing any previous record of the identity.
func (g *Gateway) Save(ctx context.Context, r Record) error {
	data, err := g.codec.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.Key(), err)
	}
	if err := g.store.Put(ctx, r.Key(), data); err != nil {
		return errors.New(errors.CodeBackendUnavailable, "persistence", "write record", err).
			With("identity", r.Key())
	}
	return nil
}

// SaveAll writes every record and keeps going past failures.
func (g *Gateway) SaveAll(ctx context.Context, records []Record) (int, error) {
	var result *multierror.Error
	saved := 0
	for _, r := range records {
		if err := g.Save(ctx, r); err != nil {
			g.logger.Warn().Err(err).Str("identity", r.Key()).Msg("Failed to persist session")
			result = multierror.Append(result, err)
			continue
		}
		saved++
	}
	g.logger.Info().Int("saved", saved).Int("total", len(records)).Msg("Persisted active sessions")
	return saved, result.ErrorOrNil()
}

// LoadPending reads every record and deletes each one right after reading
// it, so a crash mid-load never applies a record twice. Corrupt records are
// dropped with a warning.
func (g *Gateway) LoadPending(ctx context.Context) ([]Record, error) {
	keys, err := g.store.Keys(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "persistence", "list records", err)
	}

	var out []Record
	for _, key := range keys {
		data, err := g.store.Get(ctx, key)
		if errors.IsCode(err, errors.CodeNotFound) {
			continue
		}
		if err != nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("Failed to read pending session, leaving it for the next start")
			continue
		}
		if err := g.store.Delete(ctx, key); err != nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete pending session after reading")
		}

		r, err := g.codec.Unmarshal(data)
		if err != nil {
			g.logger.Warn().
				Err(errors.New(errors.CodeCorruptRecord, "persistence", "decode record", err)).
				Str("key", key).
				Msg("Discarding corrupt pending session")
			continue
		}
		out = append(out, r)
	}

	if len(out) > 0 {
		g.logger.Info().Int("loaded", len(out)).Msg("Loaded pending sessions")
	}
	return out, nil
}

// List decodes every record without consuming it. Corrupt records are skipped.
func (g *Gateway) List(ctx context.Context) ([]Record, error) {
	keys, err := g.store.Keys(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeBackendUnavailable, "persistence", "list records", err)
	}
	var out []Record
	for _, key := range keys {
		data, err := g.store.Get(ctx, key)
		if err != nil {
			continue
		}
		if r, err := g.codec.Unmarshal(data); err == nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *Gateway) Close() error { return g.store.Close() }
