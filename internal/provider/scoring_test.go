// File: internal/provider/scoring_test.go
package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/models"
)

func defaultProviderConfig() *config.ProviderConfig {
	return &config.ProviderConfig{
		SampleWindow:       10,
		LatencyFloorMs:     200,
		LatencyPenaltyMax:  30,
		LatencyPenaltyStep: 50,
		FailurePenaltyMax:  75,
		LagPenaltyPerBlock: 10,
		HealthyThreshold:   80,
		DegradedThreshold:  50,
		MinSelectScore:     30,
		ProbeTimeout:       5 * time.Second,
	}
}

func sampleWith(latencyMs int64, success bool, height uint64) *models.RpcHealthSample {
	s := &models.RpcHealthSample{
		SampledAt: time.Now().UTC(),
		Success:   success,
	}
	if success {
		s.LatencyMs = &latencyMs
		s.ChainHeight = &height
	}
	return s
}

func TestScorePerfectProvider(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	var samples []*models.RpcHealthSample
	for i := 0; i < 10; i++ {
		samples = append(samples, sampleWith(100, true, 500))
	}

	assert.Equal(t, 100, scorer.Score(samples, 500))
	assert.Equal(t, models.ProviderHealthy, scorer.StatusFor(100))
}

func TestScoreNoSamples(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())
	assert.Equal(t, 0, scorer.Score(nil, 500))
	assert.Equal(t, models.ProviderDown, scorer.StatusFor(0))
}

func TestScoreLatencyPenalty(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	// 700ms average: (700-200)/50 = 10 points
	samples := []*models.RpcHealthSample{sampleWith(700, true, 500)}
	assert.Equal(t, 90, scorer.Score(samples, 500))

	// Penalty is capped at 30
	samples = []*models.RpcHealthSample{sampleWith(10000, true, 500)}
	assert.Equal(t, 70, scorer.Score(samples, 500))

	// Latency under the floor is free
	samples = []*models.RpcHealthSample{sampleWith(150, true, 500)}
	assert.Equal(t, 100, scorer.Score(samples, 500))
}

func TestScoreFailurePenalty(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	// 5 of 10 failed: 0.5 * 75 = 37.5 points
	var samples []*models.RpcHealthSample
	for i := 0; i < 5; i++ {
		samples = append(samples, sampleWith(100, true, 500))
	}
	for i := 0; i < 5; i++ {
		samples = append(samples, sampleWith(0, false, 0))
	}
	assert.Equal(t, 62, scorer.Score(samples, 500))

	// All failed hits the cap
	samples = nil
	for i := 0; i < 10; i++ {
		samples = append(samples, sampleWith(0, false, 0))
	}
	assert.Equal(t, 25, scorer.Score(samples, 500))
}

func TestScoreLagPenalty(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	// 3 blocks behind: 30 points
	samples := []*models.RpcHealthSample{sampleWith(100, true, 497)}
	assert.Equal(t, 70, scorer.Score(samples, 500))

	// Ahead of the reference is free
	samples = []*models.RpcHealthSample{sampleWith(100, true, 505)}
	assert.Equal(t, 100, scorer.Score(samples, 500))
}

func TestScoreClampedToZero(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	// Failures plus deep lag would go negative
	samples := []*models.RpcHealthSample{sampleWith(100, true, 400)}
	for i := 0; i < 9; i++ {
		samples = append(samples, sampleWith(0, false, 0))
	}
	assert.Equal(t, 0, scorer.Score(samples, 500))
}

func TestScoreUsesOnlyTheWindow(t *testing.T) {
	cfg := defaultProviderConfig()
	cfg.SampleWindow = 3
	scorer := NewScorer(cfg)

	// Newest three are clean, the old failures must not count
	samples := []*models.RpcHealthSample{
		sampleWith(100, true, 500),
		sampleWith(100, true, 500),
		sampleWith(100, true, 500),
		sampleWith(0, false, 0),
		sampleWith(0, false, 0),
	}
	assert.Equal(t, 100, scorer.Score(samples, 500))
}

func TestStatusThresholds(t *testing.T) {
	scorer := NewScorer(defaultProviderConfig())

	assert.Equal(t, models.ProviderHealthy, scorer.StatusFor(81))
	assert.Equal(t, models.ProviderDegraded, scorer.StatusFor(80))
	assert.Equal(t, models.ProviderDegraded, scorer.StatusFor(51))
	assert.Equal(t, models.ProviderDown, scorer.StatusFor(50))
	assert.Equal(t, models.ProviderDown, scorer.StatusFor(0))
}
