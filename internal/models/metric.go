package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ErrorCount is one entry of a bucket's top-N decoded error codes
type ErrorCount struct {
	Signature string `json:"signature"`
	Name      string `json:"name"`
	Count     int64  `json:"count"`
}

// MetricMinute is the aggregate for one UTC minute, derived entirely from
// the Transaction rows in that bucket. Recomputation replaces the row.
type MetricMinute struct {
	BucketStart   time.Time       `json:"bucket_start" db:"bucket_start"`
	TxCount       int64           `json:"tx_count" db:"tx_count"`
	FailCount     int64           `json:"fail_count" db:"fail_count"`
	FailureRate   decimal.Decimal `json:"failure_rate" db:"failure_rate"`
	GasP50        uint64          `json:"gas_p50" db:"gas_p50"`
	GasP95        uint64          `json:"gas_p95" db:"gas_p95"`
	GasUsedTotal  uint64          `json:"gas_used_total" db:"gas_used_total"`
	GasPriceAvg   uint64          `json:"gas_price_avg" db:"gas_price_avg"`
	BlockCount    int64           `json:"block_count" db:"block_count"`
	UniqueSenders int64           `json:"unique_senders" db:"unique_senders"`
	TopErrors     []ErrorCount    `json:"top_errors" db:"top_errors"`
	ComputedAt    time.Time       `json:"computed_at" db:"computed_at"`
}

// MinuteBucket truncates t to its UTC minute
func MinuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
