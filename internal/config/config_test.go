// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, "chainpulse-worker", cfg.App.Name)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 25, cfg.Storage.MaxConnections)

	assert.Equal(t, 10, cfg.Provider.SampleWindow)
	assert.Equal(t, int64(200), cfg.Provider.LatencyFloorMs)
	assert.Equal(t, 30.0, cfg.Provider.LatencyPenaltyMax)
	assert.Equal(t, 75.0, cfg.Provider.FailurePenaltyMax)
	assert.Equal(t, 80, cfg.Provider.HealthyThreshold)
	assert.Equal(t, 50, cfg.Provider.DegradedThreshold)

	assert.Equal(t, 10, cfg.Scanner.BatchSize)
	assert.Equal(t, 64, cfg.Scanner.MaxReorgDepth)
	assert.True(t, cfg.Scanner.TraceFailedOnly)

	assert.Equal(t, 5, cfg.Rollup.TopErrorCount)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.DefaultCooldown)

	assert.Equal(t, 30*time.Second, cfg.Pipelines.Probe.Interval)
	assert.Equal(t, 2*time.Second, cfg.Pipelines.Scanner.Interval)
	assert.Equal(t, 60*time.Second, cfg.Pipelines.Rollup.Interval)
	assert.Equal(t, 30*time.Second, cfg.Pipelines.Alerts.Interval)
	assert.True(t, cfg.Pipelines.Scanner.Enabled)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestEndpointEnvOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("CHAIN_RPC_ENDPOINTS", "http://a:4444, http://b:4444 ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:4444", "http://b:4444"}, cfg.Chain.Endpoints)
}

func TestDatabaseURLOverride(t *testing.T) {
	viper.Reset()
	t.Setenv("DATABASE_URL", "postgres://worker:secret@db:5432/chainpulse")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://worker:secret@db:5432/chainpulse", cfg.Storage.ConnectionString)
}

func TestValidateRequiresEndpoints(t *testing.T) {
	cfg := loadDefaults(t)
	require.Error(t, cfg.Validate())

	cfg.Chain.Endpoints = []string{"http://node:4444"}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Chain.Endpoints = []string{"http://node:4444"}

	cfg.Scanner.BatchSize = 0
	assert.Error(t, cfg.Validate())
	cfg.Scanner.BatchSize = 10

	cfg.Scanner.MaxReorgDepth = -1
	assert.Error(t, cfg.Validate())
	cfg.Scanner.MaxReorgDepth = 64

	cfg.Provider.HealthyThreshold = 40
	assert.Error(t, cfg.Validate())
	cfg.Provider.HealthyThreshold = 80

	cfg.Pipelines.Probe.Interval = 0
	assert.Error(t, cfg.Validate())
	cfg.Pipelines.Probe.Enabled = false
	assert.NoError(t, cfg.Validate())
}
