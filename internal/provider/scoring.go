// File: internal/provider/scoring.go
package provider

import (
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/models"
)

// Scorer computes provider health scores from recent probe samples.
// Scores start at 100 and lose points for latency, failures and block lag,
// clamped to [0, 100]. All weights are configurable.
type Scorer struct {
	cfg *config.ProviderConfig
}

// NewScorer creates a scorer with the given weights
func NewScorer(cfg *config.ProviderConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the health score for one provider from its sample window.
// maxHeight is the highest chain height any provider reported this round,
// used as the lag reference.
func (s *Scorer) Score(samples []*models.RpcHealthSample, maxHeight uint64) int {
	if len(samples) == 0 {
		return 0
	}

	window := samples
	if len(window) > s.cfg.SampleWindow {
		window = window[:s.cfg.SampleWindow]
	}

	score := 100.0
	score -= s.latencyPenalty(window)
	score -= s.failurePenalty(window)
	score -= s.lagPenalty(window, maxHeight)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// latencyPenalty charges for average successful latency above the floor
func (s *Scorer) latencyPenalty(window []*models.RpcHealthSample) float64 {
	var total int64
	var count int64
	for _, sample := range window {
		if sample.Success && sample.LatencyMs != nil {
			total += *sample.LatencyMs
			count++
		}
	}
	if count == 0 {
		return 0
	}

	avg := total / count
	if avg <= s.cfg.LatencyFloorMs {
		return 0
	}

	penalty := float64(avg-s.cfg.LatencyFloorMs) / s.cfg.LatencyPenaltyStep
	if penalty > s.cfg.LatencyPenaltyMax {
		return s.cfg.LatencyPenaltyMax
	}
	return penalty
}

// failurePenalty charges proportionally to the failure ratio in the window
func (s *Scorer) failurePenalty(window []*models.RpcHealthSample) float64 {
	failures := 0
	for _, sample := range window {
		if !sample.Success {
			failures++
		}
	}
	if failures == 0 {
		return 0
	}
	return float64(failures) / float64(len(window)) * s.cfg.FailurePenaltyMax
}

// lagPenalty charges per block the provider trails the best-known height
func (s *Scorer) lagPenalty(window []*models.RpcHealthSample, maxHeight uint64) float64 {
	// Newest sample with a height wins
	for _, sample := range window {
		if sample.ChainHeight == nil {
			continue
		}
		if *sample.ChainHeight >= maxHeight {
			return 0
		}
		return float64(maxHeight-*sample.ChainHeight) * s.cfg.LagPenaltyPerBlock
	}
	return 0
}

// StatusFor derives the provider status from a score
func (s *Scorer) StatusFor(score int) models.ProviderStatus {
	switch {
	case score > s.cfg.HealthyThreshold:
		return models.ProviderHealthy
	case score > s.cfg.DegradedThreshold:
		return models.ProviderDegraded
	default:
		return models.ProviderDown
	}
}
