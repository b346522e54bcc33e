package models

import "time"

// Block is the scanner's bookkeeping record for one ingested chain block.
// Stored hashes are what the reorg walk-back compares against, so blocks are
// persisted even when they carry no transactions.
type Block struct {
	Number     uint64    `json:"number" db:"number"`
	Hash       string    `json:"hash" db:"hash"`
	ParentHash string    `json:"parent_hash" db:"parent_hash"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	TxCount    int       `json:"tx_count" db:"tx_count"`
}

// ChainCursor is a pipeline's resume point: the last block fully ingested
type ChainCursor struct {
	Pipeline    string    `json:"pipeline" db:"pipeline"`
	BlockNumber uint64    `json:"block_number" db:"block_number"`
	BlockHash   string    `json:"block_hash" db:"block_hash"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
