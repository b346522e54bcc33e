// File: internal/alert/evaluator.go
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/provider"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Evaluator checks every enabled alert rule against the rolled-up metrics
// and the live provider pool. A rule has at most one open event: a breach
// opens one, a sustained breach inside the cooldown is suppressed without a
// write, a breach past the cooldown extends the event once, and recovery
// resolves it.
type Evaluator struct {
	cfg       *config.Config
	storage   storage.Storage
	providers *provider.Manager
	metrics   *metrics.Manager
	logger    *logrus.Entry

	now func() time.Time
}

// NewEvaluator creates the alert evaluation pipeline
func NewEvaluator(cfg *config.Config, store storage.Storage, providers *provider.Manager, metricsManager *metrics.Manager) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		storage:   store,
		providers: providers,
		metrics:   metricsManager,
		logger:    utils.ComponentLogger("alerts"),
		now:       time.Now,
	}
}

// Name returns the pipeline name
func (e *Evaluator) Name() string {
	return "alerts"
}

// Run executes one evaluation tick
func (e *Evaluator) Run(ctx context.Context) error {
	rules, err := e.storage.GetEnabledAlertRules(ctx)
	if err != nil {
		return err
	}

	openCount := 0
	for _, rule := range rules {
		open, err := e.evaluateRule(ctx, rule)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"rule":  rule.Name,
				"error": err.Error(),
			}).Warn("Rule evaluation failed")
			continue
		}
		if open {
			openCount++
		}
	}

	e.metrics.AlertsOpen.Set(float64(openCount))
	return nil
}

// evaluateRule observes the rule's metric and applies the event transition.
// It reports whether the rule ends the tick with an open event.
func (e *Evaluator) evaluateRule(ctx context.Context, rule *models.AlertRule) (bool, error) {
	observed, ok, err := e.observe(ctx, rule)
	if err != nil {
		return false, err
	}

	open, err := e.storage.GetOpenAlertEvent(ctx, rule.ID)
	if err != nil {
		return false, err
	}

	if !ok {
		// No observation this tick, leave any open event untouched
		return open != nil, nil
	}

	now := e.now().UTC()
	breached := rule.Compare(observed)
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = e.cfg.Alerts.DefaultCooldown
	}

	switch {
	case breached && open != nil:
		if now.Before(open.CooldownUntil) {
			// Still inside the cooldown, suppress without a write
			return true, nil
		}
		open.ObservedValue = observed
		open.CooldownUntil = now.Add(cooldown)
		open.UpdatedAt = now
		return true, e.storage.UpdateAlertEvent(ctx, open)

	case breached:
		event := &models.AlertEvent{
			ID:            uuid.NewString(),
			RuleID:        rule.ID,
			Severity:      rule.Severity,
			TriggeredAt:   now,
			ObservedValue: observed,
			Threshold:     rule.Threshold,
			CooldownUntil: now.Add(cooldown),
			UpdatedAt:     now,
		}
		if err := e.storage.InsertAlertEvent(ctx, event); err != nil {
			return false, err
		}
		e.metrics.AlertEventsOpened.Inc()
		e.logger.WithFields(logrus.Fields{
			"rule":     rule.Name,
			"severity": rule.Severity,
			"observed": observed.String(),
		}).Warn("Alert triggered")
		return true, nil

	case open != nil:
		resolvedAt := now
		open.ResolvedAt = &resolvedAt
		open.ObservedValue = observed
		open.UpdatedAt = now
		if err := e.storage.UpdateAlertEvent(ctx, open); err != nil {
			return true, err
		}
		e.logger.WithField("rule", rule.Name).Info("Alert resolved")
		return false, nil
	}

	return false, nil
}

// observe computes the rule's current metric value. The second return is
// false when there is no data to observe.
func (e *Evaluator) observe(ctx context.Context, rule *models.AlertRule) (decimal.Decimal, bool, error) {
	switch rule.Metric {
	case models.AlertMetricProviderDown:
		return e.observeProviderDown()
	case models.AlertMetricGasSpike:
		return e.observeGasSpike(ctx, rule)
	default:
		return e.observeWindow(ctx, rule)
	}
}

// observeWindow evaluates metrics derivable from the rolled-up window
func (e *Evaluator) observeWindow(ctx context.Context, rule *models.AlertRule) (decimal.Decimal, bool, error) {
	buckets, err := e.windowBuckets(ctx, rule.WindowMinutes)
	if err != nil || len(buckets) == 0 {
		return decimal.Zero, false, err
	}

	switch rule.Metric {
	case models.AlertMetricFailureRate:
		var txs, fails int64
		for _, b := range buckets {
			txs += b.TxCount
			fails += b.FailCount
		}
		if txs == 0 {
			return decimal.Zero, false, nil
		}
		return decimal.NewFromInt(fails).Div(decimal.NewFromInt(txs)), true, nil

	case models.AlertMetricTxCount:
		var txs int64
		for _, b := range buckets {
			txs += b.TxCount
		}
		return decimal.NewFromInt(txs), true, nil

	case models.AlertMetricGasP95:
		var max uint64
		for _, b := range buckets {
			if b.GasP95 > max {
				max = b.GasP95
			}
		}
		return decimal.NewFromUint64(max), true, nil

	default:
		return decimal.Zero, false, utils.NewAppError(utils.ErrCodeValidation,
			"Unknown alert metric", rule.Metric)
	}
}

// observeGasSpike compares the window's average gas price against the hour
// preceding it. The observed value is the ratio of current to baseline.
func (e *Evaluator) observeGasSpike(ctx context.Context, rule *models.AlertRule) (decimal.Decimal, bool, error) {
	now := models.MinuteBucket(e.now())
	windowStart := now.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	baselineStart := windowStart.Add(-time.Hour)

	current, err := e.storage.GetMetricRange(ctx, windowStart, now)
	if err != nil {
		return decimal.Zero, false, err
	}
	baseline, err := e.storage.GetMetricRange(ctx, baselineStart, windowStart)
	if err != nil {
		return decimal.Zero, false, err
	}

	currentAvg := weightedGasPrice(current)
	baselineAvg := weightedGasPrice(baseline)
	if currentAvg.IsZero() || baselineAvg.IsZero() {
		return decimal.Zero, false, nil
	}
	return currentAvg.Div(baselineAvg), true, nil
}

// observeProviderDown counts providers currently marked down
func (e *Evaluator) observeProviderDown() (decimal.Decimal, bool, error) {
	down := 0
	for _, p := range e.providers.Pool().Snapshot() {
		if p.Status == models.ProviderDown {
			down++
		}
	}
	return decimal.NewFromInt(int64(down)), true, nil
}

// windowBuckets returns the rule's window of completed minute buckets
func (e *Evaluator) windowBuckets(ctx context.Context, windowMinutes int) ([]*models.MetricMinute, error) {
	now := models.MinuteBucket(e.now())
	from := now.Add(-time.Duration(windowMinutes) * time.Minute)
	return e.storage.GetMetricRange(ctx, from, now)
}

// weightedGasPrice averages bucket gas prices weighted by transaction count
func weightedGasPrice(buckets []*models.MetricMinute) decimal.Decimal {
	var total decimal.Decimal
	var txs int64
	for _, b := range buckets {
		total = total.Add(decimal.NewFromUint64(b.GasPriceAvg).Mul(decimal.NewFromInt(b.TxCount)))
		txs += b.TxCount
	}
	if txs == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(txs))
}
