// Package config loads the service configuration from layered sources.
//
// The loading order, lowest to highest priority:
//  1. Default values (in code)
//  2. Every other *.yaml file in the directory of the user file, in name
//     order. Plugins drop their settings there.
//  3. The user file given with -p
//  4. Environment variables
//
// Later sources only override the keys they set.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ASTERION_"

// Load builds the configuration for the user file at path. An empty path
// loads defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Sources = []string{"defaults"}

	if path != "" {
		plugins, err := pluginFiles(path)
		if err != nil {
			return nil, err
		}
		for _, plugin := range plugins {
			if err := loadFile(plugin, cfg); err != nil {
				return nil, err
			}
		}
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadEnvironmentVariables(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// pluginFiles lists the yaml files next to path, excluding path itself.
func pluginFiles(path string) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(abs), "*.yaml"))
	if err != nil {
		return nil, err
	}
	plugins := matches[:0]
	for _, m := range matches {
		if m != abs {
			plugins = append(plugins, m)
		}
	}
	sort.Strings(plugins)
	return plugins, nil
}

// loadFile overlays one yaml file on cfg. Unknown keys are rejected so a
// misspelt setting is not silently ignored.
func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Sources = append(cfg.Sources, path)
	return nil
}

type envBinding struct {
	names []string
	apply func(cfg *Config, value string) error
}

func stringVar(target func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		*target(cfg) = value
		return nil
	}
}

func boolVar(target func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*target(cfg) = b
		return nil
	}
}

func intVar(target func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*target(cfg) = n
		return nil
	}
}

func durationVar(target func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*target(cfg) = d
		return nil
	}
}

// envBindings maps environment variables to settings. When several names
// are listed the first one set wins.
var envBindings = []envBinding{
	{[]string{EnvPrefix + "ENVIRONMENT", "ENVIRONMENT"}, stringVar(func(c *Config) *string { return &c.Environment })},
	{[]string{EnvPrefix + "KEYSPACE"}, stringVar(func(c *Config) *string { return &c.Keyspace })},
	{[]string{EnvPrefix + "REPLICATION_FACTOR"}, intVar(func(c *Config) *int { return &c.Replication.Factor })},
	{[]string{EnvPrefix + "STORE_BACKEND"}, stringVar(func(c *Config) *string { return &c.Store.Backend })},
	{[]string{EnvPrefix + "STORE_REGION", "AWS_REGION"}, stringVar(func(c *Config) *string { return &c.Store.Region })},
	{[]string{EnvPrefix + "STORE_ENDPOINT"}, stringVar(func(c *Config) *string { return &c.Store.Endpoint })},
	{[]string{EnvPrefix + "STORE_TABLE_PREFIX", "TABLE_PREFIX"}, stringVar(func(c *Config) *string { return &c.Store.TablePrefix })},
	{[]string{EnvPrefix + "STORE_PATH"}, stringVar(func(c *Config) *string { return &c.Store.Path })},
	{[]string{EnvPrefix + "STORE_TIMEOUT"}, durationVar(func(c *Config) *time.Duration { return &c.Store.Timeout })},
	{[]string{EnvPrefix + "STORE_MAX_RETRIES"}, intVar(func(c *Config) *int { return &c.Store.MaxRetries })},
	{[]string{EnvPrefix + "GRAPH_READ_CONSISTENCY"}, stringVar(func(c *Config) *string { return &c.Graph.ReadConsistency })},
	{[]string{EnvPrefix + "GRAPH_WRITE_CONSISTENCY"}, stringVar(func(c *Config) *string { return &c.Graph.WriteConsistency })},
	{[]string{EnvPrefix + "LOG_LEVEL", "LOG_LEVEL"}, stringVar(func(c *Config) *string { return &c.Log.Level })},
	{[]string{EnvPrefix + "LOG_FORMAT"}, stringVar(func(c *Config) *string { return &c.Log.Format })},
	{[]string{EnvPrefix + "LOG_FILE"}, stringVar(func(c *Config) *string { return &c.Log.File })},
	{[]string{EnvPrefix + "METRICS_ENABLED", "ENABLE_METRICS"}, boolVar(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{[]string{EnvPrefix + "METRICS_ADDRESS"}, stringVar(func(c *Config) *string { return &c.Metrics.Address })},
	{[]string{EnvPrefix + "TRACING_ENABLED", "ENABLE_TRACING"}, boolVar(func(c *Config) *bool { return &c.Tracing.Enabled })},
	{[]string{EnvPrefix + "TRACING_ENDPOINT"}, stringVar(func(c *Config) *string { return &c.Tracing.Endpoint })},
	{[]string{EnvPrefix + "SERVICES"}, func(c *Config, value string) error {
		c.Services = nil
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Services = append(c.Services, s)
			}
		}
		return nil
	}},
}

// loadEnvironmentVariables overlays environment variables on cfg.
func loadEnvironmentVariables(cfg *Config) error {
	applied := false
	for _, b := range envBindings {
		for _, name := range b.names {
			value, ok := os.LookupEnv(name)
			if !ok || value == "" {
				continue
			}
			if err := b.apply(cfg, value); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			applied = true
			break
		}
	}
	if applied {
		cfg.Sources = append(cfg.Sources, "environment")
	}
	return nil
}
