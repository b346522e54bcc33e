// File: internal/provider/pool_test.go
package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/models"
)

func TestPoolSeedsProvidersInOrder(t *testing.T) {
	pool := NewPool([]string{"http://a", "http://b"}, 10)

	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, 1, snapshot[0].ID)
	assert.Equal(t, "http://a", snapshot[0].URL)
	assert.Equal(t, 2, snapshot[1].ID)
	assert.Equal(t, models.ProviderDown, snapshot[0].Status)
}

func TestPoolTrimsSampleWindow(t *testing.T) {
	pool := NewPool([]string{"http://a"}, 3)

	for i := int64(1); i <= 5; i++ {
		latency := i
		pool.RecordSample(&models.RpcHealthSample{
			ProviderURL: "http://a",
			SampledAt:   time.Unix(1700000000+i, 0).UTC(),
			LatencyMs:   &latency,
			Success:     true,
		})
	}

	samples := pool.Samples("http://a")
	require.Len(t, samples, 3)
	// Newest first
	assert.Equal(t, int64(5), *samples[0].LatencyMs)
	assert.Equal(t, int64(3), *samples[2].LatencyMs)
}

func TestPoolIgnoresUnknownProvider(t *testing.T) {
	pool := NewPool([]string{"http://a"}, 3)

	pool.RecordSample(&models.RpcHealthSample{ProviderURL: "http://stranger"})
	assert.Nil(t, pool.Samples("http://stranger"))

	pool.UpdateHealth(models.RpcProvider{URL: "http://stranger", Score: 99})
	_, ok := pool.Get("http://stranger")
	assert.False(t, ok)
}

func TestPoolUpdateHealthKeepsID(t *testing.T) {
	pool := NewPool([]string{"http://a", "http://b"}, 3)

	pool.UpdateHealth(models.RpcProvider{
		URL:    "http://b",
		Score:  90,
		Status: models.ProviderHealthy,
	})

	p, ok := pool.Get("http://b")
	require.True(t, ok)
	assert.Equal(t, 2, p.ID)
	assert.Equal(t, 90, p.Score)
}

func TestPoolMaxHeight(t *testing.T) {
	pool := NewPool([]string{"http://a", "http://b"}, 3)
	assert.Zero(t, pool.MaxHeight())

	pool.UpdateHealth(models.RpcProvider{URL: "http://a", ChainHeight: 500})
	pool.UpdateHealth(models.RpcProvider{URL: "http://b", ChainHeight: 503})
	assert.Equal(t, uint64(503), pool.MaxHeight())
}
