package app

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/config"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/persistence/badger"
	"github.com/brianhks/asterion/internal/persistence/dynamodb"
	"github.com/brianhks/asterion/internal/persistence/memory"
)

// BackendFactory opens a raw session for the configured store.
type BackendFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Session, error)

// Backends maps store.backend values to their factories.
var Backends = map[string]BackendFactory{
	"dynamodb": openDynamoDB,
	"badger":   openBadger,
	"memory":   openMemory,
}

func openDynamoDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Session, error) {
	return dynamodb.Connect(ctx, cfg.Keyspace, dynamodb.Options{
		Region:      cfg.Store.Region,
		Endpoint:    cfg.Store.Endpoint,
		TablePrefix: cfg.Store.TablePrefix,
		TableWait:   cfg.Store.TableWait,
		Logger:      logger,
	})
}

func openBadger(_ context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Session, error) {
	return badger.Open(cfg.Keyspace, badger.Options{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
}

func openMemory(_ context.Context, cfg *config.Config, _ *zap.Logger) (persistence.Session, error) {
	return memory.New(cfg.Keyspace), nil
}

// OpenSession opens the configured backend and wraps it: every backend
// attempt is reported to recorder, and the resilient decorator adds
// timeouts, retries and the circuit breaker on top. recorder may be nil.
func OpenSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, recorder persistence.Recorder) (persistence.Session, error) {
	factory, ok := Backends[cfg.Store.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (known: %v)", cfg.Store.Backend, knownNames(Backends))
	}
	raw, err := factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Store.Backend, err)
	}

	var session persistence.Session = raw
	if recorder != nil {
		session = persistence.NewInstrumented(session, recorder)
	}
	return persistence.NewResilient(session, cfg.Store.Resilience(), logger), nil
}

func knownNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
