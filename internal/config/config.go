package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/brianhks/asterion/internal/persistence"
)

// Config holds all application configuration.
type Config struct {
	Environment string      `yaml:"environment" validate:"required,oneof=development test staging production"`
	Keyspace    string      `yaml:"keyspace" validate:"required,excludes=/"`
	Replication Replication `yaml:"replication"`
	Store       Store       `yaml:"store"`
	Graph       Graph       `yaml:"graph"`
	Log         Log         `yaml:"log"`
	Metrics     Metrics     `yaml:"metrics"`
	Tracing     Tracing     `yaml:"tracing"`
	Export      Export      `yaml:"export"`

	// Services lists the background services "run" starts, in order.
	Services []string `yaml:"services" validate:"dive,required"`

	// Sources records where the configuration was loaded from, lowest
	// precedence first.
	Sources []string `yaml:"-"`
}

// Replication is the keyspace replication policy.
type Replication struct {
	Strategy string `yaml:"strategy" validate:"required"`
	Factor   int    `yaml:"factor" validate:"min=1"`
}

// Store selects and tunes the backing store.
type Store struct {
	Backend string `yaml:"backend" validate:"required,oneof=dynamodb badger memory"`

	// dynamodb
	Region      string        `yaml:"region" validate:"required_if=Backend dynamodb"`
	Endpoint    string        `yaml:"endpoint" validate:"omitempty,url"`
	TablePrefix string        `yaml:"table_prefix"`
	TableWait   time.Duration `yaml:"table_wait" validate:"min=0"`

	// badger
	Path       string `yaml:"path" validate:"required_if=Backend badger InMemory false"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`

	// Per-call policies of the resilient decorator.
	Timeout        time.Duration `yaml:"timeout" validate:"min=0"`
	MaxRetries     int           `yaml:"max_retries" validate:"min=0,max=10"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"min=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" validate:"gtefield=RetryBaseDelay"`
	Breaker        Breaker       `yaml:"breaker"`
}

// Breaker configures the circuit breaker in front of the backend.
type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"min=0"`
}

// Graph tunes the graph store.
type Graph struct {
	ReadConsistency  string `yaml:"read_consistency" validate:"consistency"`
	WriteConsistency string `yaml:"write_consistency" validate:"consistency"`
	// FanOutLimit bounds the concurrent sub-writes of one operation.
	FanOutLimit int `yaml:"fanout_limit" validate:"min=1"`
	// IDLength fixes the vertex identifier length in bytes. Zero accepts
	// any length.
	IDLength int `yaml:"id_length" validate:"min=0"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
	// File receives the log when the process runs detached.
	File string `yaml:"file"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address" validate:"omitempty,hostname_port"`
	Path      string `yaml:"path" validate:"omitempty,startswith=/"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

// Export holds defaults for the export command.
type Export struct {
	RecoveryFile string `yaml:"recovery_file"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Keyspace:    "asterion",
		Replication: Replication{Strategy: "SimpleStrategy", Factor: 1},
		Store: Store{
			Backend:        "badger",
			Region:         "us-east-1",
			TablePrefix:    "",
			TableWait:      2 * time.Minute,
			Path:           "data",
			Timeout:        5 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 100 * time.Millisecond,
			RetryMaxDelay:  5 * time.Second,
			Breaker: Breaker{
				Enabled:          true,
				FailureThreshold: 0.8,
				MinRequests:      5,
				OpenTimeout:      60 * time.Second,
			},
		},
		Graph: Graph{
			ReadConsistency:  "QUORUM",
			WriteConsistency: "QUORUM",
			FanOutLimit:      16,
		},
		Log: Log{Level: "info", Format: "json"},
		Metrics: Metrics{
			Address:   ":9090",
			Path:      "/metrics",
			Namespace: "asterion",
		},
		Tracing: Tracing{Endpoint: "localhost:4317"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("consistency", func(fl validator.FieldLevel) bool {
		_, err := persistence.ParseConsistency(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Consistency returns the parsed read and write consistency levels.
func (g Graph) Consistency() (read, write persistence.Consistency, err error) {
	if read, err = persistence.ParseConsistency(g.ReadConsistency); err != nil {
		return
	}
	write, err = persistence.ParseConsistency(g.WriteConsistency)
	return
}

// Resilience converts the store settings into the decorator policy.
func (s Store) Resilience() persistence.ResilienceConfig {
	rc := persistence.DefaultResilienceConfig()
	rc.Timeout = s.Timeout
	rc.Retry.MaxRetries = s.MaxRetries
	rc.Retry.InitialDelay = s.RetryBaseDelay
	rc.Retry.MaxDelay = s.RetryMaxDelay
	rc.Breaker.Enabled = s.Breaker.Enabled
	rc.Breaker.FailureThreshold = s.Breaker.FailureThreshold
	rc.Breaker.MinRequests = s.Breaker.MinRequests
	rc.Breaker.Timeout = s.Breaker.OpenTimeout
	return rc
}

// HasService reports whether name is listed in Services.
func (c *Config) HasService(name string) bool {
	for _, s := range c.Services {
		if s == name {
			return true
		}
	}
	return false
}
