package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Alert rule metrics
const (
	AlertMetricFailureRate  = "failure_rate"
	AlertMetricTxCount      = "tx_count"
	AlertMetricGasP95       = "gas_p95"
	AlertMetricGasSpike     = "gas_spike"
	AlertMetricProviderDown = "provider_down"
)

// Comparison operators
const (
	OpGreaterThan  = "gt"
	OpGreaterEqual = "gte"
	OpLessThan     = "lt"
	OpLessEqual    = "lte"
	OpEqual        = "eq"
)

// AlertRule is a user-defined threshold, immutable during evaluation
type AlertRule struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Metric        string          `json:"metric" db:"metric"`
	Operator      string          `json:"operator" db:"operator"`
	Threshold     decimal.Decimal `json:"threshold" db:"threshold"`
	WindowMinutes int             `json:"window_minutes" db:"window_minutes"`
	Cooldown      time.Duration   `json:"cooldown" db:"cooldown_seconds"`
	Severity      string          `json:"severity" db:"severity"`
	Enabled       bool            `json:"enabled" db:"enabled"`
}

// Compare applies the rule's operator to an observed value
func (r *AlertRule) Compare(observed decimal.Decimal) bool {
	switch r.Operator {
	case OpGreaterThan:
		return observed.GreaterThan(r.Threshold)
	case OpGreaterEqual:
		return observed.GreaterThanOrEqual(r.Threshold)
	case OpLessThan:
		return observed.LessThan(r.Threshold)
	case OpLessEqual:
		return observed.LessThanOrEqual(r.Threshold)
	case OpEqual:
		return observed.Equal(r.Threshold)
	default:
		return false
	}
}

// AlertEvent is one triggered (and possibly resolved) alert.
// A rule has at most one open event at a time.
type AlertEvent struct {
	ID            string          `json:"id" db:"id"`
	RuleID        int64           `json:"rule_id" db:"rule_id"`
	Severity      string          `json:"severity" db:"severity"`
	TriggeredAt   time.Time       `json:"triggered_at" db:"triggered_at"`
	ObservedValue decimal.Decimal `json:"observed_value" db:"observed_value"`
	Threshold     decimal.Decimal `json:"threshold" db:"threshold"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CooldownUntil time.Time       `json:"cooldown_until" db:"cooldown_until"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Open reports whether the event has not been resolved yet
func (e *AlertEvent) Open() bool {
	return e.ResolvedAt == nil
}
