// File: internal/storage/storage.go
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chainpulse/chainpulse/internal/models"
)

// Storage is the single durable source of truth shared by all pipelines.
// Writer discipline: the scanner owns blocks/txs/tx_traces/chain_cursors and
// marks dirty buckets, the rollup owns metrics_minute and clears dirty
// buckets, the probe owns rpc_providers/rpc_health_samples, and the alert
// evaluator owns alert_events.
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Provider health (probe pipeline)
	UpsertProvider(ctx context.Context, provider *models.RpcProvider) error
	GetProviders(ctx context.Context) ([]*models.RpcProvider, error)
	SaveHealthSample(ctx context.Context, sample *models.RpcHealthSample) error
	GetRecentHealthSamples(ctx context.Context, providerURL string, limit int) ([]*models.RpcHealthSample, error)

	// Cursor and worker state
	GetCursor(ctx context.Context, pipeline string) (*models.ChainCursor, error)
	SetCursor(ctx context.Context, cursor *models.ChainCursor) error
	GetState(ctx context.Context, key string) (json.RawMessage, error)
	SetState(ctx context.Context, key string, value json.RawMessage) error

	// Block ingestion (scanner pipeline)
	GetBlock(ctx context.Context, number uint64) (*models.Block, error)
	GetBlockTimesAbove(ctx context.Context, blockNumber uint64) ([]time.Time, error)
	GetEarliestBlockTime(ctx context.Context) (*time.Time, error)
	GetTransaction(ctx context.Context, hash string) (*models.Transaction, error)
	GetTransactionsInRange(ctx context.Context, from, to time.Time) ([]*models.Transaction, error)
	CountTransactionsAbove(ctx context.Context, blockNumber uint64) (int64, error)
	// IngestBlock durably writes the block, its transactions and traces, and
	// advances the scanner cursor in one storage transaction. Transaction rows
	// are upserted by hash and only overwritten when the incoming block hash
	// matches the block being ingested.
	IngestBlock(ctx context.Context, block *models.Block, txs []*models.Transaction, traces []*models.TxTrace, cursor *models.ChainCursor) error
	// RewindAbove deletes all blocks, transactions and traces above the common
	// ancestor, rewinds the cursor to it and marks the given minute buckets
	// for recomputation, all in one storage transaction.
	RewindAbove(ctx context.Context, ancestor uint64, cursor *models.ChainCursor, dirtyBuckets []time.Time) error

	// Metric rollups (rollup pipeline)
	ReplaceMetricMinute(ctx context.Context, metric *models.MetricMinute) error
	GetMetricMinute(ctx context.Context, bucket time.Time) (*models.MetricMinute, error)
	GetMetricRange(ctx context.Context, from, to time.Time) ([]*models.MetricMinute, error)
	GetDirtyBuckets(ctx context.Context, limit int) ([]time.Time, error)
	ClearDirtyBucket(ctx context.Context, bucket time.Time) error

	// Alert rules and events (rules are mutated by the external CRUD surface)
	SaveAlertRule(ctx context.Context, rule *models.AlertRule) error
	GetEnabledAlertRules(ctx context.Context) ([]*models.AlertRule, error)
	GetOpenAlertEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error)
	GetLastAlertEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error)
	InsertAlertEvent(ctx context.Context, event *models.AlertEvent) error
	UpdateAlertEvent(ctx context.Context, event *models.AlertEvent) error

	// Watched contracts (read-only context for ingestion)
	SaveWatchedContract(ctx context.Context, contract *models.WatchedContract) error
	GetWatchedContracts(ctx context.Context) ([]*models.WatchedContract, error)
}

// Pipeline names used as cursor keys
const (
	CursorScanner = "block_scanner"
	StateRollup   = "metrics_rollup_watermark"
)

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
