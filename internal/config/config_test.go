package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brianhks/asterion/internal/config"
	"github.com/brianhks/asterion/internal/persistence"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "defaults", cfg.Sources[0])

	read, write, err := cfg.Graph.Consistency()
	require.NoError(t, err)
	assert.Equal(t, persistence.ConsistencyQuorum, read)
	assert.Equal(t, persistence.ConsistencyQuorum, write)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "asterion.yaml")

	// Plugin files apply in name order, the user file after them.
	writeFile(t, filepath.Join(dir, "10-plugin.yaml"), "keyspace: plugin_a\nlog:\n  level: debug\n")
	writeFile(t, filepath.Join(dir, "20-plugin.yaml"), "keyspace: plugin_b\nstore:\n  backend: memory\n")
	writeFile(t, user, "keyspace: user\nstore:\n  timeout: 2s\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not: yaml: at: all")

	t.Setenv("ASTERION_LOG_LEVEL", "warn")

	cfg, err := config.Load(user)
	require.NoError(t, err)

	assert.Equal(t, "user", cfg.Keyspace)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Sources, 5)
	assert.Equal(t, "defaults", cfg.Sources[0])
	assert.Equal(t, user, cfg.Sources[3])
	assert.Equal(t, "environment", cfg.Sources[4])
}

func TestLoadEnvironmentAliases(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("TABLE_PREFIX", "prod_")
	t.Setenv("ASTERION_STORE_BACKEND", "dynamodb")
	t.Setenv("ASTERION_SERVICES", "metrics, config-watcher")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Store.Region)
	assert.Equal(t, "prod_", cfg.Store.TablePrefix)
	assert.Equal(t, []string{"metrics", "config-watcher"}, cfg.Services)
	assert.True(t, cfg.HasService("metrics"))
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		errMsg  string
	}{
		{name: "unknown key", content: "keyspce: typo\n", errMsg: "keyspce"},
		{name: "unknown backend", content: "store:\n  backend: cassandra\n", errMsg: "Store.Backend"},
		{name: "bad consistency", content: "graph:\n  read_consistency: SOME\n", errMsg: "ReadConsistency"},
		{name: "badger without path", content: "store:\n  backend: badger\n  path: \"\"\n", errMsg: "Store.Path"},
		{name: "retry delays inverted", content: "store:\n  retry_base_delay: 2s\n  retry_max_delay: 1s\n", errMsg: "RetryMaxDelay"},
		{name: "bad env value", env: map[string]string{"ASTERION_STORE_TIMEOUT": "soon"}, errMsg: "ASTERION_STORE_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "asterion.yaml")
			writeFile(t, path, tt.content)

			_, err := config.Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestEmptyFileIsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asterion.yaml")
	writeFile(t, path, "")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "asterion", cfg.Keyspace)
}

func TestResilience(t *testing.T) {
	cfg := config.Default()
	cfg.Store.MaxRetries = 7
	cfg.Store.Breaker.Enabled = false

	rc := cfg.Store.Resilience()
	assert.Equal(t, 7, rc.Retry.MaxRetries)
	assert.Equal(t, cfg.Store.Timeout, rc.Timeout)
	assert.False(t, rc.Breaker.Enabled)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asterion.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	w, err := config.NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	changes := make(chan string, 4)
	w.OnChange(func(old, updated *config.Config) {
		select {
		case changes <- old.Log.Level + "->" + updated.Log.Level:
		default:
		}
	})
	w.Start()

	// An invalid file is ignored and the current configuration kept.
	writeFile(t, path, "log:\n  level: loud\n")
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "info", w.Current().Log.Level)

	writeFile(t, path, "log:\n  level: debug\n")
	select {
	case change := <-changes:
		assert.Equal(t, "info->debug", change)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, "debug", w.Current().Log.Level)
}
