// Package app wires the configured backend, the graph store and the
// background services into one process, and tears them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/codec"
	"github.com/brianhks/asterion/internal/config"
	"github.com/brianhks/asterion/internal/graph"
	"github.com/brianhks/asterion/internal/observability"
	"github.com/brianhks/asterion/internal/persistence"
	"github.com/brianhks/asterion/internal/schema"
	"github.com/brianhks/asterion/pkg/logging"
)

// App holds the process-wide components.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *logging.Logger
	Metrics    *observability.Collector
	Tracing    *observability.TracerProvider
	Session    persistence.Session
	Schema     *schema.Manager
	Store      *graph.Store

	services []Service

	mu           sync.Mutex
	started      []Service
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures New.
type Option func(*App)

// WithConfigPath records the file the configuration was loaded from.
func WithConfigPath(path string) Option {
	return func(a *App) {
		a.ConfigPath = path
	}
}

// WithSession uses session instead of opening the configured backend.
func WithSession(session persistence.Session) Option {
	return func(a *App) {
		a.Session = session
	}
}

// New wires the application. Unknown backend or service names fail here,
// before anything is started.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	a.Metrics = observability.NewCollector(cfg.Metrics.Namespace)

	for _, name := range cfg.Services {
		if _, ok := Services[name]; !ok {
			return nil, fmt.Errorf("unknown service %q (known: %v)", name, knownNames(Services))
		}
	}

	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracing(ctx, observability.TracingConfig{
			ServiceName: "asterion",
			Environment: cfg.Environment,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			return nil, err
		}
		a.Tracing = tp
	}

	if a.Session == nil {
		session, err := OpenSession(ctx, cfg, logger.Logger, a.Metrics)
		if err != nil {
			a.shutdownTracing(ctx)
			return nil, err
		}
		a.Session = session
	}

	read, write, err := cfg.Graph.Consistency()
	if err != nil {
		a.closeEarly(ctx)
		return nil, err
	}

	a.Schema = schema.NewManager(a.Session,
		schema.WithReplication(cfg.Replication.Strategy, cfg.Replication.Factor),
		schema.WithLogger(logger.Logger),
	)

	storeOpts := []graph.Option{
		graph.WithLogger(logger.Logger),
		graph.WithConsistency(read, write),
		graph.WithLimit(cfg.Graph.FanOutLimit),
		graph.WithCodec(codec.Options{IDLength: cfg.Graph.IDLength}),
	}
	if a.Tracing != nil {
		storeOpts = append(storeOpts, graph.WithTracer(a.Tracing.Tracer()))
	}
	a.Store = graph.NewStore(a.Session, storeOpts...)

	for _, name := range cfg.Services {
		svc, err := Services[name](a)
		if err != nil {
			a.closeEarly(ctx)
			return nil, fmt.Errorf("failed to create service %s: %w", name, err)
		}
		a.services = append(a.services, svc)
	}
	return a, nil
}

// EnsureSchema creates the keyspace and tables if they are missing.
func (a *App) EnsureSchema(ctx context.Context) error {
	return a.Schema.EnsureSchema(ctx, a.Config.Keyspace)
}

// Start starts the services in configuration order. When one fails, those
// already started are stopped again in reverse order.
func (a *App) Start(ctx context.Context) error {
	for _, svc := range a.services {
		if err := svc.Start(ctx); err != nil {
			stopErr := a.stopServices(ctx)
			return errors.Join(fmt.Errorf("failed to start %s: %w", svc.Name(), err), stopErr)
		}
		a.mu.Lock()
		a.started = append(a.started, svc)
		a.mu.Unlock()
		a.Logger.Info("service started", zap.String("service", svc.Name()))
	}
	return nil
}

// Shutdown stops the started services in reverse start order, flushes
// tracing and then closes the session. Only the first call does anything;
// later calls return its result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		errs := []error{a.stopServices(ctx)}
		if a.Tracing != nil {
			if err := a.Tracing.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
			}
		}
		if err := a.Session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close session: %w", err))
		}
		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr != nil {
			a.Logger.Error("shutdown completed with errors", zap.Error(a.shutdownErr))
		} else {
			a.Logger.Info("shutdown completed")
		}
	})
	return a.shutdownErr
}

// Health reports the state of the wired components.
func (a *App) Health() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	health := map[string]string{
		"status":   "ok",
		"backend":  a.Config.Store.Backend,
		"keyspace": a.Session.Keyspace(),
	}
	for _, svc := range a.started {
		health["service."+svc.Name()] = "running"
	}
	return health
}

func (a *App) stopServices(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = nil
	a.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if err := svc.Stop(ctx); err != nil {
			a.Logger.Error("failed to stop service", zap.String("service", svc.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", svc.Name(), err))
			continue
		}
		a.Logger.Info("service stopped", zap.String("service", svc.Name()))
	}
	return errors.Join(errs...)
}

func (a *App) closeEarly(ctx context.Context) {
	_ = a.Session.Close()
	a.shutdownTracing(ctx)
}

func (a *App) shutdownTracing(ctx context.Context) {
	if a.Tracing != nil {
		_ = a.Tracing.Shutdown(ctx)
	}
}
