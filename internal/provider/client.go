// File: internal/provider/client.go
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/chainpulse/chainpulse/pkg/utils"
)

// RawTransaction is one transaction as returned inside a block payload
type RawTransaction struct {
	Hash     common.Hash     `json:"hash"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Value    *hexutil.Big    `json:"value"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Input    hexutil.Bytes   `json:"input"`
}

// RawBlock is a block payload with full transaction objects
type RawBlock struct {
	Number       hexutil.Uint64   `json:"number"`
	Hash         common.Hash      `json:"hash"`
	ParentHash   common.Hash      `json:"parentHash"`
	Timestamp    hexutil.Uint64   `json:"timestamp"`
	Transactions []RawTransaction `json:"transactions"`
}

// RawReceipt is a transaction receipt payload
type RawReceipt struct {
	TxHash            common.Hash    `json:"transactionHash"`
	Status            hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
}

// Client wraps one upstream RPC endpoint. Payloads are decoded into typed
// structs and validated before being handed to callers, so a malformed
// upstream response surfaces as PROVIDER_ERROR instead of corrupting state.
type Client struct {
	url            string
	rpc            *rpc.Client
	requestTimeout time.Duration
	traceTimeout   time.Duration
}

// NewClient creates a client for one endpoint URL
func NewClient(url string, requestTimeout, traceTimeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.Dial(url)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Failed to create RPC client", err.Error())
	}
	return &Client{
		url:            url,
		rpc:            rpcClient,
		requestTimeout: requestTimeout,
		traceTimeout:   traceTimeout,
	}, nil
}

// URL returns the endpoint this client talks to
func (c *Client) URL() string {
	return c.url
}

// Close releases the underlying connection
func (c *Client) Close() {
	c.rpc.Close()
}

// call wraps a raw RPC call with the request timeout and error taxonomy
func (c *Client) call(ctx context.Context, timeout time.Duration, result interface{}, method string, args ...interface{}) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.rpc.CallContext(callCtx, result, method, args...)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return utils.NewAppError(utils.ErrCodeProviderTimeout,
			"RPC request timed out", method+" on "+c.url)
	}
	return utils.NewAppError(utils.ErrCodeProviderError,
		"RPC request failed", method+" on "+c.url+": "+err.Error())
}

// BlockNumber returns the provider's current chain height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height hexutil.Uint64
	if err := c.call(ctx, c.requestTimeout, &height, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(height), nil
}

// BlockByNumber returns a block with full transactions, nil when the
// provider does not know the block yet
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*RawBlock, error) {
	var block *RawBlock
	err := c.call(ctx, c.requestTimeout, &block, "eth_getBlockByNumber",
		hexutil.Uint64(number), true)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	if block.Hash == (common.Hash{}) || block.ParentHash == (common.Hash{}) {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Malformed block payload", c.url)
	}
	if uint64(block.Number) != number {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Block payload number mismatch", c.url)
	}
	return block, nil
}

// TransactionReceipt returns the receipt for one transaction
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*RawReceipt, error) {
	var receipt *RawReceipt
	if err := c.call(ctx, c.requestTimeout, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Receipt missing for mined transaction", hash.Hex())
	}
	if receipt.TxHash != hash {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Receipt payload hash mismatch", c.url)
	}
	return receipt, nil
}

// callParams mirrors the transaction for revert replay via eth_call
type callParams struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// RevertData replays a failed transaction at its block and returns the raw
// revert payload as a 0x hex string. Empty when the provider reports no data.
func (c *Client) RevertData(ctx context.Context, tx *RawTransaction, blockNumber uint64) (string, error) {
	params := callParams{
		From:  tx.From,
		To:    tx.To,
		Value: tx.Value,
		Data:  tx.Input,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var result hexutil.Bytes
	err := c.rpc.CallContext(callCtx, &result, "eth_call", params, hexutil.Uint64(blockNumber))
	if err == nil {
		// Replay no longer reverts, likely state-dependent
		return "", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", utils.NewAppError(utils.ErrCodeProviderTimeout,
			"Revert replay timed out", tx.Hash.Hex())
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			return data, nil
		}
	}
	return "", nil
}

// TraceTransaction returns the raw execution trace payload
func (c *Client) TraceTransaction(ctx context.Context, hash common.Hash) (json.RawMessage, error) {
	var trace json.RawMessage
	if err := c.call(ctx, c.traceTimeout, &trace, "debug_traceTransaction", hash); err != nil {
		return nil, err
	}
	if len(trace) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeProviderError,
			"Empty trace payload", hash.Hex())
	}
	return trace, nil
}

// SupportsTrace probes whether the endpoint exposes the debug trace namespace.
// A "method not found" response means no; any other response, including an
// error about the bogus hash, means the method is routable.
func (c *Client) SupportsTrace(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var trace json.RawMessage
	err := c.rpc.CallContext(callCtx, &trace, "debug_traceTransaction", common.Hash{})
	if err == nil {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() != -32601
	}
	return false
}
