// File: internal/storage/migrations.go
package storage

// Migration represents a single schema migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns the SQLite schema
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "provider health tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rpc_providers (
					id INTEGER PRIMARY KEY,
					url TEXT NOT NULL UNIQUE,
					score INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'down',
					supports_trace BOOLEAN NOT NULL DEFAULT 0,
					last_latency_ms INTEGER NOT NULL DEFAULT 0,
					chain_height INTEGER NOT NULL DEFAULT 0,
					last_probed_at INTEGER NOT NULL DEFAULT 0
				);
				CREATE TABLE IF NOT EXISTS rpc_health_samples (
					id TEXT PRIMARY KEY,
					provider_url TEXT NOT NULL,
					sampled_at INTEGER NOT NULL,
					latency_ms INTEGER,
					success BOOLEAN NOT NULL,
					error_code TEXT,
					chain_height INTEGER
				);
				CREATE INDEX IF NOT EXISTS idx_health_samples_provider
					ON rpc_health_samples(provider_url, sampled_at DESC);
			`,
		},
		{
			Version:     "002",
			Description: "block ingestion tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS blocks (
					number INTEGER PRIMARY KEY,
					hash TEXT NOT NULL,
					parent_hash TEXT NOT NULL,
					timestamp INTEGER NOT NULL,
					tx_count INTEGER NOT NULL DEFAULT 0
				);
				CREATE TABLE IF NOT EXISTS txs (
					hash TEXT PRIMARY KEY,
					block_number INTEGER NOT NULL,
					block_hash TEXT NOT NULL,
					block_time INTEGER NOT NULL,
					from_address TEXT NOT NULL,
					to_address TEXT,
					contract_id INTEGER,
					value_wei TEXT NOT NULL DEFAULT '0',
					gas_used INTEGER NOT NULL DEFAULT 0,
					gas_price INTEGER NOT NULL DEFAULT 0,
					status INTEGER NOT NULL DEFAULT 1,
					error_raw TEXT,
					error_signature TEXT,
					error_decoded TEXT,
					method_id TEXT,
					has_trace BOOLEAN NOT NULL DEFAULT 0,
					ingested_at INTEGER NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_txs_block_number ON txs(block_number);
				CREATE INDEX IF NOT EXISTS idx_txs_block_time ON txs(block_time);
				CREATE TABLE IF NOT EXISTS tx_traces (
					tx_hash TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					captured_at INTEGER NOT NULL
				);
				CREATE TABLE IF NOT EXISTS chain_cursors (
					pipeline TEXT PRIMARY KEY,
					block_number INTEGER NOT NULL,
					block_hash TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				);
				CREATE TABLE IF NOT EXISTS worker_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "003",
			Description: "metric rollup tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS metrics_minute (
					bucket_start INTEGER PRIMARY KEY,
					tx_count INTEGER NOT NULL DEFAULT 0,
					fail_count INTEGER NOT NULL DEFAULT 0,
					failure_rate TEXT NOT NULL DEFAULT '0',
					gas_p50 INTEGER NOT NULL DEFAULT 0,
					gas_p95 INTEGER NOT NULL DEFAULT 0,
					gas_used_total INTEGER NOT NULL DEFAULT 0,
					gas_price_avg INTEGER NOT NULL DEFAULT 0,
					block_count INTEGER NOT NULL DEFAULT 0,
					unique_senders INTEGER NOT NULL DEFAULT 0,
					top_errors TEXT NOT NULL DEFAULT '[]',
					computed_at INTEGER NOT NULL
				);
				CREATE TABLE IF NOT EXISTS metric_dirty (
					bucket_start INTEGER PRIMARY KEY,
					marked_at INTEGER NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "alert and contract tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS alert_rules (
					id INTEGER PRIMARY KEY,
					name TEXT NOT NULL,
					metric TEXT NOT NULL,
					operator TEXT NOT NULL,
					threshold TEXT NOT NULL,
					window_minutes INTEGER NOT NULL DEFAULT 5,
					cooldown_seconds INTEGER NOT NULL DEFAULT 300,
					severity TEXT NOT NULL DEFAULT 'warning',
					enabled BOOLEAN NOT NULL DEFAULT 1
				);
				CREATE TABLE IF NOT EXISTS alert_events (
					id TEXT PRIMARY KEY,
					rule_id INTEGER NOT NULL,
					severity TEXT NOT NULL,
					triggered_at INTEGER NOT NULL,
					observed_value TEXT NOT NULL,
					threshold TEXT NOT NULL,
					resolved_at INTEGER,
					cooldown_until INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_alert_events_rule
					ON alert_events(rule_id, resolved_at);
				CREATE TABLE IF NOT EXISTS watched_contracts (
					id INTEGER PRIMARY KEY,
					address TEXT NOT NULL UNIQUE,
					label TEXT NOT NULL DEFAULT ''
				);
			`,
		},
	}
}

// GetPostgresMigrations returns the PostgreSQL schema
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "provider health tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rpc_providers (
					id BIGINT PRIMARY KEY,
					url TEXT NOT NULL UNIQUE,
					score INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'down',
					supports_trace BOOLEAN NOT NULL DEFAULT FALSE,
					last_latency_ms BIGINT NOT NULL DEFAULT 0,
					chain_height BIGINT NOT NULL DEFAULT 0,
					last_probed_at BIGINT NOT NULL DEFAULT 0
				);
				CREATE TABLE IF NOT EXISTS rpc_health_samples (
					id TEXT PRIMARY KEY,
					provider_url TEXT NOT NULL,
					sampled_at BIGINT NOT NULL,
					latency_ms BIGINT,
					success BOOLEAN NOT NULL,
					error_code TEXT,
					chain_height BIGINT
				);
				CREATE INDEX IF NOT EXISTS idx_health_samples_provider
					ON rpc_health_samples(provider_url, sampled_at DESC);
			`,
		},
		{
			Version:     "002",
			Description: "block ingestion tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS blocks (
					number BIGINT PRIMARY KEY,
					hash TEXT NOT NULL,
					parent_hash TEXT NOT NULL,
					timestamp BIGINT NOT NULL,
					tx_count INTEGER NOT NULL DEFAULT 0
				);
				CREATE TABLE IF NOT EXISTS txs (
					hash TEXT PRIMARY KEY,
					block_number BIGINT NOT NULL,
					block_hash TEXT NOT NULL,
					block_time BIGINT NOT NULL,
					from_address TEXT NOT NULL,
					to_address TEXT,
					contract_id BIGINT,
					value_wei TEXT NOT NULL DEFAULT '0',
					gas_used BIGINT NOT NULL DEFAULT 0,
					gas_price BIGINT NOT NULL DEFAULT 0,
					status INTEGER NOT NULL DEFAULT 1,
					error_raw TEXT,
					error_signature TEXT,
					error_decoded TEXT,
					method_id TEXT,
					has_trace BOOLEAN NOT NULL DEFAULT FALSE,
					ingested_at BIGINT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_txs_block_number ON txs(block_number);
				CREATE INDEX IF NOT EXISTS idx_txs_block_time ON txs(block_time);
				CREATE TABLE IF NOT EXISTS tx_traces (
					tx_hash TEXT PRIMARY KEY,
					payload TEXT NOT NULL,
					captured_at BIGINT NOT NULL
				);
				CREATE TABLE IF NOT EXISTS chain_cursors (
					pipeline TEXT PRIMARY KEY,
					block_number BIGINT NOT NULL,
					block_hash TEXT NOT NULL,
					updated_at BIGINT NOT NULL
				);
				CREATE TABLE IF NOT EXISTS worker_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at BIGINT NOT NULL
				);
			`,
		},
		{
			Version:     "003",
			Description: "metric rollup tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS metrics_minute (
					bucket_start BIGINT PRIMARY KEY,
					tx_count BIGINT NOT NULL DEFAULT 0,
					fail_count BIGINT NOT NULL DEFAULT 0,
					failure_rate TEXT NOT NULL DEFAULT '0',
					gas_p50 BIGINT NOT NULL DEFAULT 0,
					gas_p95 BIGINT NOT NULL DEFAULT 0,
					gas_used_total BIGINT NOT NULL DEFAULT 0,
					gas_price_avg BIGINT NOT NULL DEFAULT 0,
					block_count BIGINT NOT NULL DEFAULT 0,
					unique_senders BIGINT NOT NULL DEFAULT 0,
					top_errors TEXT NOT NULL DEFAULT '[]',
					computed_at BIGINT NOT NULL
				);
				CREATE TABLE IF NOT EXISTS metric_dirty (
					bucket_start BIGINT PRIMARY KEY,
					marked_at BIGINT NOT NULL
				);
			`,
		},
		{
			Version:     "004",
			Description: "alert and contract tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS alert_rules (
					id BIGSERIAL PRIMARY KEY,
					name TEXT NOT NULL,
					metric TEXT NOT NULL,
					operator TEXT NOT NULL,
					threshold TEXT NOT NULL,
					window_minutes INTEGER NOT NULL DEFAULT 5,
					cooldown_seconds BIGINT NOT NULL DEFAULT 300,
					severity TEXT NOT NULL DEFAULT 'warning',
					enabled BOOLEAN NOT NULL DEFAULT TRUE
				);
				CREATE TABLE IF NOT EXISTS alert_events (
					id TEXT PRIMARY KEY,
					rule_id BIGINT NOT NULL,
					severity TEXT NOT NULL,
					triggered_at BIGINT NOT NULL,
					observed_value TEXT NOT NULL,
					threshold TEXT NOT NULL,
					resolved_at BIGINT,
					cooldown_until BIGINT NOT NULL,
					updated_at BIGINT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_alert_events_rule
					ON alert_events(rule_id, resolved_at);
				CREATE TABLE IF NOT EXISTS watched_contracts (
					id BIGSERIAL PRIMARY KEY,
					address TEXT NOT NULL UNIQUE,
					label TEXT NOT NULL DEFAULT ''
				);
			`,
		},
	}
}
