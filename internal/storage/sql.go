// File: internal/storage/sql.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// sqlStorage is the shared database/sql implementation behind the SQLite and
// PostgreSQL backends. Queries are written with ? placeholders and rebound to
// $N for drivers that require it.
type sqlStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
	driver     string
	bindDollar bool
}

// q rebinds ? placeholders to $N when the driver requires it
func (s *sqlStorage) q(query string) string {
	if !s.bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Connect establishes the database connection
func (s *sqlStorage) Connect() error {
	db, err := sql.Open(s.driver, s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to open database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to ping database", err.Error())
	}

	s.db = db
	s.logger.WithField("driver", s.driver).Info("Database connected")
	return nil
}

// Close closes the database connection
func (s *sqlStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs all schema migrations
func (s *sqlStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// --- Provider health ---

// UpsertProvider writes the current health state of one provider
func (s *sqlStorage) UpsertProvider(ctx context.Context, provider *models.RpcProvider) error {
	query := s.q(`
		INSERT INTO rpc_providers
			(id, url, score, status, supports_trace, last_latency_ms, chain_height, last_probed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			score = EXCLUDED.score,
			status = EXCLUDED.status,
			supports_trace = EXCLUDED.supports_trace,
			last_latency_ms = EXCLUDED.last_latency_ms,
			chain_height = EXCLUDED.chain_height,
			last_probed_at = EXCLUDED.last_probed_at
	`)

	_, err := s.db.ExecContext(ctx, query,
		provider.ID, provider.URL, provider.Score, string(provider.Status),
		provider.SupportsTrace, provider.LastLatencyMs, provider.ChainHeight,
		provider.LastProbedAt.UTC().Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to upsert provider", err.Error())
	}
	return nil
}

// GetProviders returns all persisted providers in configuration order
func (s *sqlStorage) GetProviders(ctx context.Context) ([]*models.RpcProvider, error) {
	query := s.q(`
		SELECT id, url, score, status, supports_trace, last_latency_ms, chain_height, last_probed_at
		FROM rpc_providers ORDER BY id
	`)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query providers", err.Error())
	}
	defer rows.Close()

	var providers []*models.RpcProvider
	for rows.Next() {
		var p models.RpcProvider
		var status string
		var probedAt int64
		if err := rows.Scan(&p.ID, &p.URL, &p.Score, &status, &p.SupportsTrace,
			&p.LastLatencyMs, &p.ChainHeight, &probedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan provider", err.Error())
		}
		p.Status = models.ProviderStatus(status)
		p.LastProbedAt = time.Unix(probedAt, 0).UTC()
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

// SaveHealthSample appends one probe result
func (s *sqlStorage) SaveHealthSample(ctx context.Context, sample *models.RpcHealthSample) error {
	query := s.q(`
		INSERT INTO rpc_health_samples
			(id, provider_url, sampled_at, latency_ms, success, error_code, chain_height)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)

	var latency sql.NullInt64
	if sample.LatencyMs != nil {
		latency = sql.NullInt64{Int64: *sample.LatencyMs, Valid: true}
	}
	var errorCode sql.NullString
	if sample.ErrorCode != nil {
		errorCode = sql.NullString{String: *sample.ErrorCode, Valid: true}
	}
	var height sql.NullInt64
	if sample.ChainHeight != nil {
		height = sql.NullInt64{Int64: int64(*sample.ChainHeight), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		sample.ID, sample.ProviderURL, sample.SampledAt.UTC().Unix(),
		latency, sample.Success, errorCode, height)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to save health sample", err.Error())
	}
	return nil
}

// GetRecentHealthSamples returns the newest samples for one provider
func (s *sqlStorage) GetRecentHealthSamples(ctx context.Context, providerURL string, limit int) ([]*models.RpcHealthSample, error) {
	query := s.q(`
		SELECT id, provider_url, sampled_at, latency_ms, success, error_code, chain_height
		FROM rpc_health_samples
		WHERE provider_url = ?
		ORDER BY sampled_at DESC
		LIMIT ?
	`)

	rows, err := s.db.QueryContext(ctx, query, providerURL, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query health samples", err.Error())
	}
	defer rows.Close()

	var samples []*models.RpcHealthSample
	for rows.Next() {
		var sm models.RpcHealthSample
		var sampledAt int64
		var latency, height sql.NullInt64
		var errorCode sql.NullString
		if err := rows.Scan(&sm.ID, &sm.ProviderURL, &sampledAt, &latency,
			&sm.Success, &errorCode, &height); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan health sample", err.Error())
		}
		sm.SampledAt = time.Unix(sampledAt, 0).UTC()
		if latency.Valid {
			sm.LatencyMs = &latency.Int64
		}
		if errorCode.Valid {
			sm.ErrorCode = &errorCode.String
		}
		if height.Valid {
			h := uint64(height.Int64)
			sm.ChainHeight = &h
		}
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

// --- Cursor and worker state ---

// GetCursor returns the persisted cursor for a pipeline, nil when unset
func (s *sqlStorage) GetCursor(ctx context.Context, pipeline string) (*models.ChainCursor, error) {
	query := s.q(`
		SELECT pipeline, block_number, block_hash, updated_at
		FROM chain_cursors WHERE pipeline = ?
	`)

	var c models.ChainCursor
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, pipeline).
		Scan(&c.Pipeline, &c.BlockNumber, &c.BlockHash, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query cursor", err.Error())
	}
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &c, nil
}

// SetCursor upserts a pipeline cursor
func (s *sqlStorage) SetCursor(ctx context.Context, cursor *models.ChainCursor) error {
	_, err := s.db.ExecContext(ctx, s.upsertCursorQuery(),
		cursor.Pipeline, cursor.BlockNumber, cursor.BlockHash, cursor.UpdatedAt.UTC().Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to set cursor", err.Error())
	}
	return nil
}

func (s *sqlStorage) upsertCursorQuery() string {
	return s.q(`
		INSERT INTO chain_cursors (pipeline, block_number, block_hash, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (pipeline) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash,
			updated_at = EXCLUDED.updated_at
	`)
}

// GetState returns a worker state value, nil when unset
func (s *sqlStorage) GetState(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM worker_state WHERE key = ?`), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query worker state", err.Error())
	}
	return json.RawMessage(value), nil
}

// SetState upserts a worker state value
func (s *sqlStorage) SetState(ctx context.Context, key string, value json.RawMessage) error {
	query := s.q(`
		INSERT INTO worker_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at
	`)
	_, err := s.db.ExecContext(ctx, query, key, string(value), time.Now().UTC().Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to set worker state", err.Error())
	}
	return nil
}

// --- Block ingestion ---

// GetBlock returns one stored block, nil when absent
func (s *sqlStorage) GetBlock(ctx context.Context, number uint64) (*models.Block, error) {
	query := s.q(`SELECT number, hash, parent_hash, timestamp, tx_count FROM blocks WHERE number = ?`)

	var b models.Block
	var ts int64
	err := s.db.QueryRowContext(ctx, query, number).
		Scan(&b.Number, &b.Hash, &b.ParentHash, &ts, &b.TxCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query block", err.Error())
	}
	b.Timestamp = time.Unix(ts, 0).UTC()
	return &b, nil
}

// GetBlockTimesAbove returns the timestamps of all blocks above blockNumber
func (s *sqlStorage) GetBlockTimesAbove(ctx context.Context, blockNumber uint64) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT timestamp FROM blocks WHERE number > ? ORDER BY number`), blockNumber)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query block times", err.Error())
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan block time", err.Error())
		}
		times = append(times, time.Unix(ts, 0).UTC())
	}
	return times, rows.Err()
}

// GetEarliestBlockTime returns the timestamp of the oldest stored block,
// nil when no blocks are stored
func (s *sqlStorage) GetEarliestBlockTime(ctx context.Context) (*time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT MIN(timestamp) FROM blocks`)).Scan(&ts)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query earliest block", err.Error())
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(ts.Int64, 0).UTC()
	return &t, nil
}

// GetTransaction returns one stored transaction, nil when absent
func (s *sqlStorage) GetTransaction(ctx context.Context, hash string) (*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, s.q(txSelectColumns+` FROM txs WHERE hash = ?`), hash)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query transaction", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTransaction(rows)
}

// GetTransactionsInRange returns transactions with block_time in [from, to)
func (s *sqlStorage) GetTransactionsInRange(ctx context.Context, from, to time.Time) ([]*models.Transaction, error) {
	query := s.q(txSelectColumns + `
		FROM txs
		WHERE block_time >= ? AND block_time < ?
		ORDER BY block_number, hash
	`)

	rows, err := s.db.QueryContext(ctx, query, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query transactions", err.Error())
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// CountTransactionsAbove counts transactions with block_number > blockNumber
func (s *sqlStorage) CountTransactionsAbove(ctx context.Context, blockNumber uint64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM txs WHERE block_number > ?`), blockNumber).Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to count transactions", err.Error())
	}
	return count, nil
}

const txSelectColumns = `
	SELECT hash, block_number, block_hash, block_time, from_address, to_address,
	       contract_id, value_wei, gas_used, gas_price, status,
	       error_raw, error_signature, error_decoded, method_id, has_trace, ingested_at`

func scanTransaction(rows *sql.Rows) (*models.Transaction, error) {
	var tx models.Transaction
	var blockTime, ingestedAt int64
	var to, errorRaw, errorSig, errorDecoded, methodID sql.NullString
	var contractID sql.NullInt64

	if err := rows.Scan(&tx.Hash, &tx.BlockNumber, &tx.BlockHash, &blockTime,
		&tx.From, &to, &contractID, &tx.ValueWei, &tx.GasUsed, &tx.GasPrice,
		&tx.Status, &errorRaw, &errorSig, &errorDecoded, &methodID,
		&tx.HasTrace, &ingestedAt); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan transaction", err.Error())
	}

	tx.BlockTime = time.Unix(blockTime, 0).UTC()
	tx.IngestedAt = time.Unix(ingestedAt, 0).UTC()
	if to.Valid {
		tx.To = &to.String
	}
	if contractID.Valid {
		tx.ContractID = &contractID.Int64
	}
	if errorRaw.Valid {
		tx.ErrorRaw = &errorRaw.String
	}
	if errorSig.Valid {
		tx.ErrorSignature = &errorSig.String
	}
	if errorDecoded.Valid {
		tx.ErrorDecoded = &errorDecoded.String
	}
	if methodID.Valid {
		tx.MethodID = &methodID.String
	}
	return &tx, nil
}

// IngestBlock writes a block, its transactions and traces, and advances the
// scanner cursor in a single transaction. Re-running the same (number, hash)
// block produces identical stored state: transactions upsert by hash, and a
// row is only overwritten when the incoming block hash matches the block
// being ingested.
func (s *sqlStorage) IngestBlock(ctx context.Context, block *models.Block, txs []*models.Transaction, traces []*models.TxTrace, cursor *models.ChainCursor) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer dbTx.Rollback()

	blockQuery := s.q(`
		INSERT INTO blocks (number, hash, parent_hash, timestamp, tx_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (number) DO UPDATE SET
			hash = EXCLUDED.hash,
			parent_hash = EXCLUDED.parent_hash,
			timestamp = EXCLUDED.timestamp,
			tx_count = EXCLUDED.tx_count
	`)
	if _, err := dbTx.ExecContext(ctx, blockQuery,
		block.Number, block.Hash, block.ParentHash,
		block.Timestamp.UTC().Unix(), block.TxCount); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to upsert block", err.Error())
	}

	txQuery := s.q(`
		INSERT INTO txs
			(hash, block_number, block_hash, block_time, from_address, to_address,
			 contract_id, value_wei, gas_used, gas_price, status,
			 error_raw, error_signature, error_decoded, method_id, has_trace, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = EXCLUDED.block_hash,
			block_time = EXCLUDED.block_time,
			from_address = EXCLUDED.from_address,
			to_address = EXCLUDED.to_address,
			contract_id = EXCLUDED.contract_id,
			value_wei = EXCLUDED.value_wei,
			gas_used = EXCLUDED.gas_used,
			gas_price = EXCLUDED.gas_price,
			status = EXCLUDED.status,
			error_raw = EXCLUDED.error_raw,
			error_signature = EXCLUDED.error_signature,
			error_decoded = EXCLUDED.error_decoded,
			method_id = EXCLUDED.method_id,
			has_trace = EXCLUDED.has_trace,
			ingested_at = EXCLUDED.ingested_at
		WHERE EXCLUDED.block_hash = ?
	`)

	for _, tx := range txs {
		var to, errorRaw, errorSig, errorDecoded, methodID sql.NullString
		var contractID sql.NullInt64
		if tx.To != nil {
			to = sql.NullString{String: *tx.To, Valid: true}
		}
		if tx.ContractID != nil {
			contractID = sql.NullInt64{Int64: *tx.ContractID, Valid: true}
		}
		if tx.ErrorRaw != nil {
			errorRaw = sql.NullString{String: *tx.ErrorRaw, Valid: true}
		}
		if tx.ErrorSignature != nil {
			errorSig = sql.NullString{String: *tx.ErrorSignature, Valid: true}
		}
		if tx.ErrorDecoded != nil {
			errorDecoded = sql.NullString{String: *tx.ErrorDecoded, Valid: true}
		}
		if tx.MethodID != nil {
			methodID = sql.NullString{String: *tx.MethodID, Valid: true}
		}

		if _, err := dbTx.ExecContext(ctx, txQuery,
			tx.Hash, tx.BlockNumber, tx.BlockHash, tx.BlockTime.UTC().Unix(),
			tx.From, to, contractID, tx.ValueWei, tx.GasUsed, tx.GasPrice, tx.Status,
			errorRaw, errorSig, errorDecoded, methodID, tx.HasTrace,
			tx.IngestedAt.UTC().Unix(), block.Hash); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to upsert transaction", err.Error())
		}
	}

	traceQuery := s.q(`
		INSERT INTO tx_traces (tx_hash, payload, captured_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tx_hash) DO UPDATE SET
			payload = EXCLUDED.payload,
			captured_at = EXCLUDED.captured_at
	`)
	for _, trace := range traces {
		if _, err := dbTx.ExecContext(ctx, traceQuery,
			trace.TxHash, string(trace.Payload), trace.CapturedAt.UTC().Unix()); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to upsert trace", err.Error())
		}
	}

	if _, err := dbTx.ExecContext(ctx, s.upsertCursorQuery(),
		cursor.Pipeline, cursor.BlockNumber, cursor.BlockHash,
		cursor.UpdatedAt.UTC().Unix()); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to advance cursor", err.Error())
	}

	if err := dbTx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to commit block ingest", err.Error())
	}
	return nil
}

// RewindAbove removes all rows above the common ancestor, rewinds the cursor
// and marks the affected minute buckets for recomputation, atomically.
func (s *sqlStorage) RewindAbove(ctx context.Context, ancestor uint64, cursor *models.ChainCursor, dirtyBuckets []time.Time) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, s.q(`
		DELETE FROM tx_traces
		WHERE tx_hash IN (SELECT hash FROM txs WHERE block_number > ?)
	`), ancestor); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete orphaned traces", err.Error())
	}

	if _, err := dbTx.ExecContext(ctx,
		s.q(`DELETE FROM txs WHERE block_number > ?`), ancestor); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete orphaned transactions", err.Error())
	}

	if _, err := dbTx.ExecContext(ctx,
		s.q(`DELETE FROM blocks WHERE number > ?`), ancestor); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete orphaned blocks", err.Error())
	}

	if _, err := dbTx.ExecContext(ctx, s.upsertCursorQuery(),
		cursor.Pipeline, cursor.BlockNumber, cursor.BlockHash,
		cursor.UpdatedAt.UTC().Unix()); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to rewind cursor", err.Error())
	}

	dirtyQuery := s.q(`
		INSERT INTO metric_dirty (bucket_start, marked_at)
		VALUES (?, ?)
		ON CONFLICT (bucket_start) DO NOTHING
	`)
	now := time.Now().UTC().Unix()
	for _, bucket := range dirtyBuckets {
		if _, err := dbTx.ExecContext(ctx, dirtyQuery,
			models.MinuteBucket(bucket).Unix(), now); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to mark dirty bucket", err.Error())
		}
	}

	if err := dbTx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to commit rewind", err.Error())
	}
	return nil
}

// --- Metric rollups ---

// ReplaceMetricMinute fully replaces one bucket's aggregates
func (s *sqlStorage) ReplaceMetricMinute(ctx context.Context, metric *models.MetricMinute) error {
	topErrors, err := json.Marshal(metric.TopErrors)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to marshal top errors", err.Error())
	}

	query := s.q(`
		INSERT INTO metrics_minute
			(bucket_start, tx_count, fail_count, failure_rate, gas_p50, gas_p95,
			 gas_used_total, gas_price_avg, block_count, unique_senders, top_errors, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket_start) DO UPDATE SET
			tx_count = EXCLUDED.tx_count,
			fail_count = EXCLUDED.fail_count,
			failure_rate = EXCLUDED.failure_rate,
			gas_p50 = EXCLUDED.gas_p50,
			gas_p95 = EXCLUDED.gas_p95,
			gas_used_total = EXCLUDED.gas_used_total,
			gas_price_avg = EXCLUDED.gas_price_avg,
			block_count = EXCLUDED.block_count,
			unique_senders = EXCLUDED.unique_senders,
			top_errors = EXCLUDED.top_errors,
			computed_at = EXCLUDED.computed_at
	`)

	_, err = s.db.ExecContext(ctx, query,
		models.MinuteBucket(metric.BucketStart).Unix(),
		metric.TxCount, metric.FailCount, metric.FailureRate.String(),
		metric.GasP50, metric.GasP95, metric.GasUsedTotal, metric.GasPriceAvg,
		metric.BlockCount, metric.UniqueSenders, string(topErrors),
		metric.ComputedAt.UTC().Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to replace metric bucket", err.Error())
	}
	return nil
}

const metricSelectColumns = `
	SELECT bucket_start, tx_count, fail_count, failure_rate, gas_p50, gas_p95,
	       gas_used_total, gas_price_avg, block_count, unique_senders, top_errors, computed_at`

func scanMetricMinute(rows *sql.Rows) (*models.MetricMinute, error) {
	var m models.MetricMinute
	var bucket, computedAt int64
	var failureRate, topErrors string

	if err := rows.Scan(&bucket, &m.TxCount, &m.FailCount, &failureRate,
		&m.GasP50, &m.GasP95, &m.GasUsedTotal, &m.GasPriceAvg,
		&m.BlockCount, &m.UniqueSenders, &topErrors, &computedAt); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan metric bucket", err.Error())
	}

	rate, err := decimal.NewFromString(failureRate)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Malformed failure rate", err.Error())
	}
	m.FailureRate = rate
	m.BucketStart = time.Unix(bucket, 0).UTC()
	m.ComputedAt = time.Unix(computedAt, 0).UTC()
	if err := json.Unmarshal([]byte(topErrors), &m.TopErrors); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Malformed top errors", err.Error())
	}
	return &m, nil
}

// GetMetricMinute returns one bucket's aggregates, nil when absent
func (s *sqlStorage) GetMetricMinute(ctx context.Context, bucket time.Time) (*models.MetricMinute, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(metricSelectColumns+` FROM metrics_minute WHERE bucket_start = ?`),
		models.MinuteBucket(bucket).Unix())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query metric bucket", err.Error())
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMetricMinute(rows)
}

// GetMetricRange returns buckets with bucket_start in [from, to)
func (s *sqlStorage) GetMetricRange(ctx context.Context, from, to time.Time) ([]*models.MetricMinute, error) {
	query := s.q(metricSelectColumns + `
		FROM metrics_minute
		WHERE bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start
	`)

	rows, err := s.db.QueryContext(ctx, query, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query metric range", err.Error())
	}
	defer rows.Close()

	var metrics []*models.MetricMinute
	for rows.Next() {
		m, err := scanMetricMinute(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// GetDirtyBuckets returns buckets marked for recomputation, oldest first
func (s *sqlStorage) GetDirtyBuckets(ctx context.Context, limit int) ([]time.Time, error) {
	query := s.q(`SELECT bucket_start FROM metric_dirty ORDER BY bucket_start LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query dirty buckets", err.Error())
	}
	defer rows.Close()

	var buckets []time.Time
	for rows.Next() {
		var bucket int64
		if err := rows.Scan(&bucket); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan dirty bucket", err.Error())
		}
		buckets = append(buckets, time.Unix(bucket, 0).UTC())
	}
	return buckets, rows.Err()
}

// ClearDirtyBucket removes one recomputed bucket from the dirty set
func (s *sqlStorage) ClearDirtyBucket(ctx context.Context, bucket time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM metric_dirty WHERE bucket_start = ?`),
		models.MinuteBucket(bucket).Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to clear dirty bucket", err.Error())
	}
	return nil
}

// --- Alert rules and events ---

// SaveAlertRule inserts or updates a rule
func (s *sqlStorage) SaveAlertRule(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == 0 {
		query := s.q(`
			INSERT INTO alert_rules
				(name, metric, operator, threshold, window_minutes, cooldown_seconds, severity, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`)
		err := s.db.QueryRowContext(ctx, query,
			rule.Name, rule.Metric, rule.Operator, rule.Threshold.String(),
			rule.WindowMinutes, int64(rule.Cooldown.Seconds()), rule.Severity,
			rule.Enabled).Scan(&rule.ID)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to insert alert rule", err.Error())
		}
		return nil
	}

	query := s.q(`
		UPDATE alert_rules SET
			name = ?, metric = ?, operator = ?, threshold = ?,
			window_minutes = ?, cooldown_seconds = ?, severity = ?, enabled = ?
		WHERE id = ?
	`)
	_, err := s.db.ExecContext(ctx, query,
		rule.Name, rule.Metric, rule.Operator, rule.Threshold.String(),
		rule.WindowMinutes, int64(rule.Cooldown.Seconds()), rule.Severity,
		rule.Enabled, rule.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to update alert rule", err.Error())
	}
	return nil
}

// GetEnabledAlertRules returns all enabled rules
func (s *sqlStorage) GetEnabledAlertRules(ctx context.Context) ([]*models.AlertRule, error) {
	query := s.q(`
		SELECT id, name, metric, operator, threshold, window_minutes, cooldown_seconds, severity, enabled
		FROM alert_rules WHERE enabled = ? ORDER BY id
	`)

	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query alert rules", err.Error())
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		var r models.AlertRule
		var threshold string
		var cooldownSeconds int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Metric, &r.Operator, &threshold,
			&r.WindowMinutes, &cooldownSeconds, &r.Severity, &r.Enabled); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan alert rule", err.Error())
		}
		t, err := decimal.NewFromString(threshold)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Malformed rule threshold", err.Error())
		}
		r.Threshold = t
		r.Cooldown = time.Duration(cooldownSeconds) * time.Second
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// GetOpenAlertEvent returns the unresolved event for a rule, nil when none
func (s *sqlStorage) GetOpenAlertEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error) {
	return s.queryAlertEvent(ctx, s.q(`
		SELECT id, rule_id, severity, triggered_at, observed_value, threshold,
		       resolved_at, cooldown_until, updated_at
		FROM alert_events
		WHERE rule_id = ? AND resolved_at IS NULL
		ORDER BY triggered_at DESC
		LIMIT 1
	`), ruleID)
}

// GetLastAlertEvent returns the newest event for a rule regardless of
// resolution, nil when the rule has never fired
func (s *sqlStorage) GetLastAlertEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error) {
	return s.queryAlertEvent(ctx, s.q(`
		SELECT id, rule_id, severity, triggered_at, observed_value, threshold,
		       resolved_at, cooldown_until, updated_at
		FROM alert_events
		WHERE rule_id = ?
		ORDER BY triggered_at DESC
		LIMIT 1
	`), ruleID)
}

func (s *sqlStorage) queryAlertEvent(ctx context.Context, query string, args ...interface{}) (*models.AlertEvent, error) {
	var e models.AlertEvent
	var triggeredAt, cooldownUntil, updatedAt int64
	var resolvedAt sql.NullInt64
	var observed, threshold string

	err := s.db.QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.RuleID,
		&e.Severity, &triggeredAt, &observed, &threshold,
		&resolvedAt, &cooldownUntil, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query alert event", err.Error())
	}

	if e.ObservedValue, err = decimal.NewFromString(observed); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Malformed observed value", err.Error())
	}
	if e.Threshold, err = decimal.NewFromString(threshold); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Malformed event threshold", err.Error())
	}
	e.TriggeredAt = time.Unix(triggeredAt, 0).UTC()
	e.CooldownUntil = time.Unix(cooldownUntil, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0).UTC()
		e.ResolvedAt = &t
	}
	return &e, nil
}

// InsertAlertEvent appends a new alert event
func (s *sqlStorage) InsertAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	query := s.q(`
		INSERT INTO alert_events
			(id, rule_id, severity, triggered_at, observed_value, threshold,
			 resolved_at, cooldown_until, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var resolvedAt sql.NullInt64
	if event.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: event.ResolvedAt.UTC().Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.RuleID, event.Severity, event.TriggeredAt.UTC().Unix(),
		event.ObservedValue.String(), event.Threshold.String(),
		resolvedAt, event.CooldownUntil.UTC().Unix(), event.UpdatedAt.UTC().Unix())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to insert alert event", err.Error())
	}
	return nil
}

// UpdateAlertEvent updates an event's observed value, cooldown and resolution
func (s *sqlStorage) UpdateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	query := s.q(`
		UPDATE alert_events SET
			observed_value = ?, resolved_at = ?, cooldown_until = ?, updated_at = ?
		WHERE id = ?
	`)

	var resolvedAt sql.NullInt64
	if event.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: event.ResolvedAt.UTC().Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ObservedValue.String(), resolvedAt,
		event.CooldownUntil.UTC().Unix(), event.UpdatedAt.UTC().Unix(), event.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to update alert event", err.Error())
	}
	return nil
}

// --- Watched contracts ---

// SaveWatchedContract inserts or relabels a watched address
func (s *sqlStorage) SaveWatchedContract(ctx context.Context, contract *models.WatchedContract) error {
	if contract.ID == 0 {
		query := s.q(`
			INSERT INTO watched_contracts (address, label)
			VALUES (?, ?)
			ON CONFLICT (address) DO UPDATE SET label = EXCLUDED.label
			RETURNING id
		`)
		err := s.db.QueryRowContext(ctx, query,
			strings.ToLower(contract.Address), contract.Label).Scan(&contract.ID)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to save watched contract", err.Error())
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		s.q(`UPDATE watched_contracts SET address = ?, label = ? WHERE id = ?`),
		strings.ToLower(contract.Address), contract.Label, contract.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to update watched contract", err.Error())
	}
	return nil
}

// GetWatchedContracts returns all watched addresses
func (s *sqlStorage) GetWatchedContracts(ctx context.Context) ([]*models.WatchedContract, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, address, label FROM watched_contracts ORDER BY id`))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to query watched contracts", err.Error())
	}
	defer rows.Close()

	var contracts []*models.WatchedContract
	for rows.Next() {
		var c models.WatchedContract
		if err := rows.Scan(&c.ID, &c.Address, &c.Label); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan watched contract", err.Error())
		}
		contracts = append(contracts, &c)
	}
	return contracts, rows.Err()
}
