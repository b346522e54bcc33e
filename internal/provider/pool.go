// File: internal/provider/pool.go
package provider

import (
	"sync"

	"github.com/chainpulse/chainpulse/internal/models"
)

// Pool is the in-memory registry of configured providers and their rolling
// probe sample windows. All access is lock-guarded; the probe pipeline writes
// and every other pipeline reads.
type Pool struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*poolEntry
	window  int
}

type poolEntry struct {
	provider models.RpcProvider
	samples  []*models.RpcHealthSample // newest first
}

// NewPool seeds a pool from the configured endpoint list. Providers start
// down with score zero until the first probe round completes; IDs follow
// configuration order and act as the final selection tie-break.
func NewPool(endpoints []string, sampleWindow int) *Pool {
	p := &Pool{
		entries: make(map[string]*poolEntry, len(endpoints)),
		window:  sampleWindow,
	}
	for i, url := range endpoints {
		p.order = append(p.order, url)
		p.entries[url] = &poolEntry{
			provider: models.RpcProvider{
				ID:     i + 1,
				URL:    url,
				Status: models.ProviderDown,
			},
		}
	}
	return p
}

// RecordSample prepends a probe result to the provider's rolling window
func (p *Pool) RecordSample(sample *models.RpcHealthSample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[sample.ProviderURL]
	if !ok {
		return
	}
	entry.samples = append([]*models.RpcHealthSample{sample}, entry.samples...)
	if len(entry.samples) > p.window {
		entry.samples = entry.samples[:p.window]
	}
}

// Samples returns a copy of the provider's sample window, newest first
func (p *Pool) Samples(url string) []*models.RpcHealthSample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[url]
	if !ok {
		return nil
	}
	out := make([]*models.RpcHealthSample, len(entry.samples))
	copy(out, entry.samples)
	return out
}

// UpdateHealth overwrites the provider's derived health state
func (p *Pool) UpdateHealth(provider models.RpcProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[provider.URL]
	if !ok {
		return
	}
	provider.ID = entry.provider.ID
	entry.provider = provider
}

// Get returns a copy of one provider's state
func (p *Pool) Get(url string) (models.RpcProvider, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[url]
	if !ok {
		return models.RpcProvider{}, false
	}
	return entry.provider, true
}

// Snapshot returns copies of all providers in configuration order
func (p *Pool) Snapshot() []*models.RpcProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.RpcProvider, 0, len(p.order))
	for _, url := range p.order {
		provider := p.entries[url].provider
		out = append(out, &provider)
	}
	return out
}

// MaxHeight returns the highest chain height any provider reported
func (p *Pool) MaxHeight() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var max uint64
	for _, entry := range p.entries {
		if entry.provider.ChainHeight > max {
			max = entry.provider.ChainHeight
		}
	}
	return max
}
