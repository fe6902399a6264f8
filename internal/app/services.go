package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/config"
)

// Service is a background component started by "run".
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ServiceFactory builds a service for a, which is fully wired except for
// its services.
type ServiceFactory func(a *App) (Service, error)

// Services maps the names accepted in the services setting to their
// factories.
var Services = map[string]ServiceFactory{
	"metrics":        newMetricsService,
	"config-watcher": newConfigWatcherService,
}

// metricsService serves /metrics and /health.
type metricsService struct {
	app      *App
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
}

func newMetricsService(a *App) (Service, error) {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, a.Config.Metrics.Path, a.Metrics.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Health())
	})

	return &metricsService{
		app: a,
		server: &http.Server{
			Addr:              a.Config.Metrics.Address,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: a.Logger.Named("metrics"),
	}, nil
}

func (s *metricsService) Name() string { return "metrics" }

func (s *metricsService) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("metrics server listening", zap.String("address", ln.Addr().String()))
	return nil
}

func (s *metricsService) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (s *metricsService) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// configWatcherService reloads the configuration file and applies the
// settings that can change at runtime. Today that is the log level.
type configWatcherService struct {
	app     *App
	watcher *config.Watcher
}

func newConfigWatcherService(a *App) (Service, error) {
	if a.ConfigPath == "" {
		return nil, errors.New("config-watcher needs a configuration file (-p)")
	}
	return &configWatcherService{app: a}, nil
}

func (s *configWatcherService) Name() string { return "config-watcher" }

func (s *configWatcherService) Start(context.Context) error {
	w, err := config.NewWatcher(s.app.ConfigPath, s.app.Logger.Logger)
	if err != nil {
		return err
	}
	w.OnChange(func(old, updated *config.Config) {
		if old.Log.Level == updated.Log.Level {
			return
		}
		if err := s.app.Logger.SetLevel(updated.Log.Level); err != nil {
			s.app.Logger.Warn("log level not changed", zap.Error(err))
			return
		}
		s.app.Logger.Info("log level changed",
			zap.String("from", old.Log.Level),
			zap.String("to", updated.Log.Level),
		)
	})
	w.Start()
	s.watcher = w
	return nil
}

func (s *configWatcherService) Stop(context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	return nil
}
