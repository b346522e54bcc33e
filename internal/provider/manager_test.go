// File: internal/provider/manager_test.go
package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

func newTestManager(t *testing.T, endpoints ...string) *Manager {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	cfg := &config.Config{
		Chain: config.ChainConfig{
			Endpoints:      endpoints,
			RequestTimeout: time.Second,
			TraceTimeout:   time.Second,
		},
		Provider: *defaultProviderConfig(),
	}

	m, err := NewManager(cfg, nil, metrics.NewManager())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestSelectRequiresUsableProvider(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1")

	// Everything starts down before the first probe
	_, err := m.Select(models.CapabilityNone)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeNoProviderAvailable))
}

func TestRankedOrdersByScoreLatencyAndID(t *testing.T) {
	m := newTestManager(t, "http://a", "http://b", "http://c")

	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://a", Score: 90, Status: models.ProviderHealthy, LastLatencyMs: 100,
	})
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://b", Score: 90, Status: models.ProviderHealthy, LastLatencyMs: 50,
	})
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://c", Score: 95, Status: models.ProviderHealthy, LastLatencyMs: 200,
	})

	ranked := m.Ranked(models.CapabilityNone)
	require.Len(t, ranked, 3)
	assert.Equal(t, "http://c", ranked[0].URL())
	assert.Equal(t, "http://b", ranked[1].URL())
	assert.Equal(t, "http://a", ranked[2].URL())

	// Equal score and latency falls back to configuration order
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://c", Score: 90, Status: models.ProviderHealthy, LastLatencyMs: 50,
	})
	ranked = m.Ranked(models.CapabilityNone)
	require.Len(t, ranked, 3)
	assert.Equal(t, "http://b", ranked[0].URL())
	assert.Equal(t, "http://c", ranked[1].URL())
}

func TestRankedExcludesDownAndLowScore(t *testing.T) {
	m := newTestManager(t, "http://a", "http://b", "http://c")

	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://a", Score: 95, Status: models.ProviderHealthy,
	})
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://b", Score: 20, Status: models.ProviderDown,
	})
	// Degraded but above the floor stays selectable
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://c", Score: 29, Status: models.ProviderDegraded,
	})

	ranked := m.Ranked(models.CapabilityNone)
	require.Len(t, ranked, 1)
	assert.Equal(t, "http://a", ranked[0].URL())
}

func TestRankedFiltersByCapability(t *testing.T) {
	m := newTestManager(t, "http://a", "http://b")

	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://a", Score: 95, Status: models.ProviderHealthy, SupportsTrace: false,
	})
	m.Pool().UpdateHealth(models.RpcProvider{
		URL: "http://b", Score: 70, Status: models.ProviderDegraded, SupportsTrace: true,
	})

	ranked := m.Ranked(models.CapabilityTrace)
	require.Len(t, ranked, 1)
	assert.Equal(t, "http://b", ranked[0].URL())

	best, err := m.Select(models.CapabilityNone)
	require.NoError(t, err)
	assert.Equal(t, "http://a", best.URL())
}

func TestManagerRequiresEndpoints(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")
	cfg := &config.Config{Provider: *defaultProviderConfig()}

	_, err := NewManager(cfg, nil, metrics.NewManager())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.ErrCodeConfiguration))
}
