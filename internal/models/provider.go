package models

import "time"

// ProviderStatus is derived from the health score, never stored independently
type ProviderStatus string

const (
	ProviderHealthy  ProviderStatus = "healthy"
	ProviderDegraded ProviderStatus = "degraded"
	ProviderDown     ProviderStatus = "down"
)

// Capability filters provider selection
type Capability string

const (
	CapabilityNone  Capability = ""
	CapabilityTrace Capability = "trace"
)

// RpcProvider represents one configured RPC endpoint and its live health state
type RpcProvider struct {
	ID            int            `json:"id" db:"id"` // configuration order, used as the final tie-break
	URL           string         `json:"url" db:"url"`
	Score         int            `json:"score" db:"score"`
	Status        ProviderStatus `json:"status" db:"status"`
	SupportsTrace bool           `json:"supports_trace" db:"supports_trace"`
	LastLatencyMs int64          `json:"last_latency_ms" db:"last_latency_ms"`
	ChainHeight   uint64         `json:"chain_height" db:"chain_height"`
	LastProbedAt  time.Time      `json:"last_probed_at" db:"last_probed_at"`
}

// RpcHealthSample is one probe result, append-only once written
type RpcHealthSample struct {
	ID          string    `json:"id" db:"id"`
	ProviderURL string    `json:"provider_url" db:"provider_url"`
	SampledAt   time.Time `json:"sampled_at" db:"sampled_at"`
	LatencyMs   *int64    `json:"latency_ms,omitempty" db:"latency_ms"`
	Success     bool      `json:"success" db:"success"`
	ErrorCode   *string   `json:"error_code,omitempty" db:"error_code"`
	ChainHeight *uint64   `json:"chain_height,omitempty" db:"chain_height"`
}
