// File: internal/alert/evaluator_test.go
package alert

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/provider"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		Chain: config.ChainConfig{
			Endpoints:      []string{"http://127.0.0.1:18545"},
			RequestTimeout: time.Second,
			TraceTimeout:   time.Second,
		},
		Provider: config.ProviderConfig{
			SampleWindow:      10,
			HealthyThreshold:  80,
			DegradedThreshold: 50,
			MinSelectScore:    30,
			ProbeTimeout:      time.Second,
		},
		Alerts: config.AlertsConfig{
			DefaultCooldown: 5 * time.Minute,
		},
	}
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEvaluator(t *testing.T, store storage.Storage) (*Evaluator, *time.Time) {
	t.Helper()
	cfg := testConfig()

	providers, err := provider.NewManager(cfg, store, metrics.NewManager())
	require.NoError(t, err)
	t.Cleanup(providers.Close)

	e := NewEvaluator(cfg, store, providers, metrics.NewManager())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	return e, &now
}

// fillWindow writes minute buckets covering [now-minutes, now) with the
// given counts per bucket
func fillWindow(t *testing.T, store storage.Storage, now time.Time, minutes int, txCount, failCount int64) {
	t.Helper()
	base := models.MinuteBucket(now)
	for i := 1; i <= minutes; i++ {
		bucket := base.Add(-time.Duration(i) * time.Minute)
		rate := decimal.Zero
		if txCount > 0 {
			rate = decimal.NewFromInt(failCount).Div(decimal.NewFromInt(txCount))
		}
		require.NoError(t, store.ReplaceMetricMinute(context.Background(), &models.MetricMinute{
			BucketStart: bucket,
			TxCount:     txCount,
			FailCount:   failCount,
			FailureRate: rate,
			GasPriceAvg: 100,
			TopErrors:   []models.ErrorCount{},
			ComputedAt:  now,
		}))
	}
}

func failureRateRule(t *testing.T, store storage.Storage) *models.AlertRule {
	t.Helper()
	rule := &models.AlertRule{
		Name:          "high failure rate",
		Metric:        models.AlertMetricFailureRate,
		Operator:      models.OpGreaterThan,
		Threshold:     decimal.RequireFromString("0.25"),
		WindowMinutes: 5,
		Cooldown:      5 * time.Minute,
		Severity:      "critical",
		Enabled:       true,
	}
	require.NoError(t, store.SaveAlertRule(context.Background(), rule))
	return rule
}

func TestBreachOpensSingleEvent(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := failureRateRule(t, store)
	fillWindow(t, store, *now, 5, 10, 3)

	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "critical", open.Severity)
	assert.True(t, open.ObservedValue.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, now.Add(5*time.Minute), open.CooldownUntil)

	// A breached tick inside the cooldown is suppressed without a write
	firstID := open.ID
	firstCooldown := open.CooldownUntil
	firstUpdated := open.UpdatedAt
	*now = now.Add(time.Minute)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	open, err = store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, firstID, open.ID)
	assert.Equal(t, firstCooldown, open.CooldownUntil)
	assert.Equal(t, firstUpdated, open.UpdatedAt)

	// Past the cooldown the sustained breach extends the same event once
	*now = now.Add(5 * time.Minute)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	open, err = store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, firstID, open.ID)
	assert.Equal(t, now.Add(5*time.Minute), open.CooldownUntil)
}

func TestRecoveryResolvesImmediately(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := failureRateRule(t, store)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	// Recovery resolves the event even though the cooldown has not expired
	*now = now.Add(2 * time.Minute)
	fillWindow(t, store, *now, 5, 10, 0)
	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, open)

	last, err := store.GetLastAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.NotNil(t, last.ResolvedAt)
	assert.Equal(t, *now, *last.ResolvedAt)
}

func TestRebreachAfterResolutionOpensNewEvent(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := failureRateRule(t, store)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	*now = now.Add(2 * time.Minute)
	fillWindow(t, store, *now, 5, 10, 0)
	require.NoError(t, e.Run(ctx))

	resolved, err := store.GetLastAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.False(t, resolved.Open())

	// A fresh breach after resolution opens a new event right away
	*now = now.Add(time.Minute)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.NotEqual(t, resolved.ID, open.ID)
	assert.Equal(t, *now, open.TriggeredAt)
}

func TestNoObservationLeavesEventUntouched(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := failureRateRule(t, store)
	fillWindow(t, store, *now, 5, 10, 3)
	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	before := open.UpdatedAt

	// An empty window long after the cooldown yields no observation, so
	// the event is neither extended nor resolved
	*now = now.Add(time.Hour)
	require.NoError(t, e.Run(ctx))

	open, err = store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, before, open.UpdatedAt)
}

func TestProviderDownRule(t *testing.T) {
	store := newTestStorage(t)
	e, _ := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := &models.AlertRule{
		Name:          "providers down",
		Metric:        models.AlertMetricProviderDown,
		Operator:      models.OpGreaterEqual,
		Threshold:     decimal.NewFromInt(1),
		WindowMinutes: 1,
		Cooldown:      time.Minute,
		Severity:      "warning",
		Enabled:       true,
	}
	require.NoError(t, store.SaveAlertRule(ctx, rule))

	// The pool starts with every provider down before the first probe
	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.ObservedValue.Equal(decimal.NewFromInt(1)))
}

func TestGasSpikeRule(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := &models.AlertRule{
		Name:          "gas spike",
		Metric:        models.AlertMetricGasSpike,
		Operator:      models.OpGreaterThan,
		Threshold:     decimal.NewFromInt(2),
		WindowMinutes: 5,
		Cooldown:      time.Minute,
		Severity:      "warning",
		Enabled:       true,
	}
	require.NoError(t, store.SaveAlertRule(ctx, rule))

	// Baseline hour at 100, current window at 300: ratio 3
	base := models.MinuteBucket(*now)
	for i := 6; i <= 65; i++ {
		require.NoError(t, store.ReplaceMetricMinute(ctx, &models.MetricMinute{
			BucketStart: base.Add(-time.Duration(i) * time.Minute),
			TxCount:     10,
			FailureRate: decimal.Zero,
			GasPriceAvg: 100,
			TopErrors:   []models.ErrorCount{},
			ComputedAt:  *now,
		}))
	}
	for i := 1; i <= 5; i++ {
		require.NoError(t, store.ReplaceMetricMinute(ctx, &models.MetricMinute{
			BucketStart: base.Add(-time.Duration(i) * time.Minute),
			TxCount:     10,
			FailureRate: decimal.Zero,
			GasPriceAvg: 300,
			TopErrors:   []models.ErrorCount{},
			ComputedAt:  *now,
		}))
	}

	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.True(t, open.ObservedValue.Equal(decimal.NewFromInt(3)),
		"observed %s", open.ObservedValue)
}

func TestDisabledRuleNotEvaluated(t *testing.T) {
	store := newTestStorage(t)
	e, now := newTestEvaluator(t, store)
	ctx := context.Background()

	rule := failureRateRule(t, store)
	rule.Enabled = false
	require.NoError(t, store.SaveAlertRule(ctx, rule))

	fillWindow(t, store, *now, 5, 10, 5)
	require.NoError(t, e.Run(ctx))

	open, err := store.GetOpenAlertEvent(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}
