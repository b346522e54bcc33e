package models

import (
	"encoding/json"
	"time"
)

// Transaction statuses as reported by the receipt
const (
	TxStatusFailed  = 0
	TxStatusSuccess = 1
)

// Transaction represents one ingested on-chain transaction.
// Upsert key is the hash; block_hash must match the block currently
// considered canonical for that number.
type Transaction struct {
	Hash           string    `json:"hash" db:"hash"`
	BlockNumber    uint64    `json:"block_number" db:"block_number"`
	BlockHash      string    `json:"block_hash" db:"block_hash"`
	BlockTime      time.Time `json:"block_time" db:"block_time"`
	From           string    `json:"from" db:"from_address"`
	To             *string   `json:"to,omitempty" db:"to_address"` // nil for contract creation
	ContractID     *int64    `json:"contract_id,omitempty" db:"contract_id"`
	ValueWei       string    `json:"value_wei" db:"value_wei"`
	GasUsed        uint64    `json:"gas_used" db:"gas_used"`
	GasPrice       uint64    `json:"gas_price" db:"gas_price"`
	Status         int       `json:"status" db:"status"`
	ErrorRaw       *string   `json:"error_raw,omitempty" db:"error_raw"`
	ErrorSignature *string   `json:"error_signature,omitempty" db:"error_signature"`
	ErrorDecoded   *string   `json:"error_decoded,omitempty" db:"error_decoded"`
	MethodID       *string   `json:"method_id,omitempty" db:"method_id"`
	HasTrace       bool      `json:"has_trace" db:"has_trace"`
	IngestedAt     time.Time `json:"ingested_at" db:"ingested_at"`
}

// TxTrace holds the execution trace of one transaction. Only persisted when
// the sourcing provider is trace-capable; absence is not an error.
type TxTrace struct {
	TxHash     string          `json:"tx_hash" db:"tx_hash"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	CapturedAt time.Time       `json:"captured_at" db:"captured_at"`
}
