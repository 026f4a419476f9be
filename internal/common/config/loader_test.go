package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: memory
feed:
  url: https://example.com/export.csv
sync:
  enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 30000, cfg.Sync.Interval)
	assert.Equal(t, 30000, cfg.Sync.BackoffStart)
	assert.Equal(t, 300000, cfg.Sync.BackoffMax)
	assert.Equal(t, 15000, cfg.Feed.Timeout)
	assert.Equal(t, 2, cfg.Transition.DefaultTotalInstallments)
	assert.Equal(t, 10000, cfg.Transition.NotifyTimeout)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Sync.StateBackend)
	assert.Equal(t, "applications", cfg.Store.ApplicationsTable)
	assert.Equal(t, "admin_logs", cfg.Store.AdminLogsTable)
	assert.Equal(t, 50, cfg.Analytics.CourseCapacity)
	assert.Equal(t, "Asia/Kolkata", cfg.Analytics.Timezone)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_FEED_URL", "https://sheets.example.com/pub?output=csv")
	path := writeConfig(t, `
store:
  driver: memory
feed:
  url: ${TEST_FEED_URL}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sheets.example.com/pub?output=csv", cfg.Feed.URL)
}

func TestLoadFromFile_DefaultDriverNeedsPostgres(t *testing.T) {
	path := writeConfig(t, `
app:
  name: test
`)

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.postgres.host")
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Store: StoreConfig{Driver: "memory"}}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "interval below range",
			mutate:  func(c *Config) { c.Sync.Interval = 5000 },
			wantErr: "sync.interval",
		},
		{
			name:    "interval above range",
			mutate:  func(c *Config) { c.Sync.Interval = 60000 },
			wantErr: "sync.interval",
		},
		{
			name:    "sync enabled without feed",
			mutate:  func(c *Config) { c.Sync.Enabled = true },
			wantErr: "feed.url",
		},
		{
			name:    "redis backend without address",
			mutate:  func(c *Config) { c.Sync.StateBackend = "redis" },
			wantErr: "database.redis.address",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Store.Driver = "sqlite" },
			wantErr: "store.driver",
		},
		{
			name:    "search without elasticsearch",
			mutate:  func(c *Config) { c.Search.Enabled = true },
			wantErr: "elasticsearch",
		},
		{
			name:    "camunda without broker",
			mutate:  func(c *Config) { c.Camunda.Enabled = true },
			wantErr: "camunda.broker_address",
		},
		{
			name: "backoff max below start",
			mutate: func(c *Config) {
				c.Sync.BackoffStart = 60000
				c.Sync.BackoffMax = 30000
			},
			wantErr: "backoff_max",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, GetDuration(30000))
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"sync-feed": {Enabled: false, MaxJobsActive: 1},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "sync-feed"))
	assert.True(t, IsWorkerEnabled(cfg, "approve-application"))
	assert.Equal(t, 5, GetWorkerConfig(cfg, "approve-application").MaxJobsActive)
	assert.Equal(t, 1, GetWorkerConfig(cfg, "sync-feed").MaxJobsActive)
}
