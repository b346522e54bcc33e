// File: internal/provider/manager.go
package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Manager owns the provider pool: it probes endpoints, scores them and hands
// out ranked clients for the other pipelines to use.
type Manager struct {
	cfg     *config.Config
	pool    *Pool
	scorer  *Scorer
	storage storage.Storage
	metrics *metrics.Manager
	logger  *logrus.Entry
	clients map[string]*Client
}

// NewManager creates a manager with one client per configured endpoint
func NewManager(cfg *config.Config, store storage.Storage, metricsManager *metrics.Manager) (*Manager, error) {
	if len(cfg.Chain.Endpoints) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"No RPC endpoints configured", "")
	}

	clients := make(map[string]*Client, len(cfg.Chain.Endpoints))
	for _, url := range cfg.Chain.Endpoints {
		client, err := NewClient(url, cfg.Chain.RequestTimeout, cfg.Chain.TraceTimeout)
		if err != nil {
			return nil, err
		}
		clients[url] = client
	}

	return &Manager{
		cfg:     cfg,
		pool:    NewPool(cfg.Chain.Endpoints, cfg.Provider.SampleWindow),
		scorer:  NewScorer(&cfg.Provider),
		storage: store,
		metrics: metricsManager,
		logger:  utils.ComponentLogger("provider"),
		clients: clients,
	}, nil
}

// Pool exposes the live provider registry
func (m *Manager) Pool() *Pool {
	return m.pool
}

// Close releases all clients
func (m *Manager) Close() {
	for _, client := range m.clients {
		client.Close()
	}
}

// ProbeAll probes every endpoint concurrently, rescores the pool and
// persists the new health state
func (m *Manager) ProbeAll(ctx context.Context) error {
	var wg sync.WaitGroup
	for url, client := range m.clients {
		wg.Add(1)
		go func(url string, client *Client) {
			defer wg.Done()
			m.probeOne(ctx, url, client)
		}(url, client)
	}
	wg.Wait()

	return m.rescore(ctx)
}

// probeOne runs a single height probe and records the sample
func (m *Manager) probeOne(ctx context.Context, url string, client *Client) {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Provider.ProbeTimeout)
	defer cancel()

	start := time.Now()
	height, err := client.BlockNumber(probeCtx)
	latency := time.Since(start)

	sample := &models.RpcHealthSample{
		ID:          uuid.NewString(),
		ProviderURL: url,
		SampledAt:   time.Now().UTC(),
	}

	if err != nil {
		code := utils.ErrCodeProviderError
		if utils.IsCode(err, utils.ErrCodeProviderTimeout) {
			code = utils.ErrCodeProviderTimeout
		}
		sample.Success = false
		sample.ErrorCode = &code
		m.metrics.ProviderUp.WithLabelValues(url).Set(0)
		m.logger.WithFields(logrus.Fields{
			"provider": url,
			"error":    err.Error(),
		}).Warn("Provider probe failed")
	} else {
		latencyMs := latency.Milliseconds()
		sample.Success = true
		sample.LatencyMs = &latencyMs
		sample.ChainHeight = &height
		m.metrics.ProviderUp.WithLabelValues(url).Set(1)
		m.metrics.ProbeLatency.WithLabelValues(url).Observe(latency.Seconds())
	}

	m.pool.RecordSample(sample)

	if err := m.storage.SaveHealthSample(ctx, sample); err != nil {
		m.logger.WithError(err).Warn("Failed to persist health sample")
	}
}

// rescore recomputes every provider's score against the round's best height
func (m *Manager) rescore(ctx context.Context) error {
	// Best height this round, from the newest samples
	var maxHeight uint64
	for _, url := range m.cfg.Chain.Endpoints {
		for _, sample := range m.pool.Samples(url) {
			if sample.ChainHeight != nil && *sample.ChainHeight > maxHeight {
				maxHeight = *sample.ChainHeight
			}
			break
		}
	}

	for _, url := range m.cfg.Chain.Endpoints {
		samples := m.pool.Samples(url)
		score := m.scorer.Score(samples, maxHeight)
		status := m.scorer.StatusFor(score)

		current, _ := m.pool.Get(url)
		provider := models.RpcProvider{
			ID:            current.ID,
			URL:           url,
			Score:         score,
			Status:        status,
			SupportsTrace: current.SupportsTrace,
			LastProbedAt:  time.Now().UTC(),
		}
		if len(samples) > 0 {
			newest := samples[0]
			if newest.LatencyMs != nil {
				provider.LastLatencyMs = *newest.LatencyMs
			}
			if newest.ChainHeight != nil {
				provider.ChainHeight = *newest.ChainHeight
			}
		}

		// Trace support is detected once the endpoint first answers
		if !current.SupportsTrace && status != models.ProviderDown {
			provider.SupportsTrace = m.clients[url].SupportsTrace(ctx)
		}

		m.pool.UpdateHealth(provider)
		m.metrics.ProviderScore.WithLabelValues(url).Set(float64(score))

		if err := m.storage.UpsertProvider(ctx, &provider); err != nil {
			return err
		}

		m.logger.WithFields(logrus.Fields{
			"provider": url,
			"score":    score,
			"status":   status,
		}).Debug("Provider rescored")
	}
	return nil
}

// Ranked returns usable clients ordered best first: highest score, then
// lowest latency, then configuration order. Providers below the minimum
// selection score, marked down, or missing the capability are excluded.
func (m *Manager) Ranked(capability models.Capability) []*Client {
	snapshot := m.pool.Snapshot()

	var eligible []*models.RpcProvider
	for _, p := range snapshot {
		if p.Status == models.ProviderDown {
			continue
		}
		if p.Score < m.cfg.Provider.MinSelectScore {
			continue
		}
		if capability == models.CapabilityTrace && !p.SupportsTrace {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Score != eligible[j].Score {
			return eligible[i].Score > eligible[j].Score
		}
		if eligible[i].LastLatencyMs != eligible[j].LastLatencyMs {
			return eligible[i].LastLatencyMs < eligible[j].LastLatencyMs
		}
		return eligible[i].ID < eligible[j].ID
	})

	clients := make([]*Client, 0, len(eligible))
	for _, p := range eligible {
		clients = append(clients, m.clients[p.URL])
	}
	return clients
}

// Select returns the single best usable client for the capability
func (m *Manager) Select(capability models.Capability) (*Client, error) {
	ranked := m.Ranked(capability)
	if len(ranked) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeNoProviderAvailable,
			"No usable provider", string(capability))
	}
	return ranked[0], nil
}
