// File: internal/scanner/scanner.go
package scanner

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/provider"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Scanner ingests blocks in order behind the chain head. Each tick it
// verifies the stored cursor still matches the canonical chain, walks back
// and rewinds on a reorg, then catches up a bounded batch of blocks. Every
// block commits atomically with its transactions, traces and the cursor, so
// a crash at any point resumes cleanly.
type Scanner struct {
	cfg       *config.Config
	providers *provider.Manager
	storage   storage.Storage
	metrics   *metrics.Manager
	logger    *logrus.Entry
}

// NewScanner creates the block scanner pipeline
func NewScanner(cfg *config.Config, providers *provider.Manager, store storage.Storage, metricsManager *metrics.Manager) *Scanner {
	return &Scanner{
		cfg:       cfg,
		providers: providers,
		storage:   store,
		metrics:   metricsManager,
		logger:    utils.ComponentLogger("scanner"),
	}
}

// Name returns the pipeline name
func (s *Scanner) Name() string {
	return "scanner"
}

// Run executes one scan tick
func (s *Scanner) Run(ctx context.Context) error {
	head, err := s.fetchHead(ctx)
	if err != nil {
		return err
	}

	cursor, err := s.storage.GetCursor(ctx, storage.CursorScanner)
	if err != nil {
		return err
	}

	if cursor != nil {
		s.metrics.ScannerLag.Set(float64(head - min64(head, cursor.BlockNumber)))

		diverged, err := s.cursorDiverged(ctx, cursor)
		if err != nil {
			return err
		}
		if diverged {
			cursor, err = s.reconcile(ctx, cursor)
			if err != nil {
				return err
			}
		}
	}

	return s.catchUp(ctx, cursor, head)
}

// fetchHead returns the chain height from the best provider, failing over
// to the next ranked provider on error
func (s *Scanner) fetchHead(ctx context.Context) (uint64, error) {
	var head uint64
	err := s.withFailover(ctx, func(client *provider.Client) error {
		h, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = h
		return nil
	})
	return head, err
}

// withFailover runs fn against ranked providers until one succeeds.
// Provider-side failures move to the next client; other errors stop.
func (s *Scanner) withFailover(ctx context.Context, fn func(*provider.Client) error) error {
	clients := s.providers.Ranked(models.CapabilityNone)
	if len(clients) == 0 {
		return utils.NewAppError(utils.ErrCodeNoProviderAvailable,
			"No usable provider for block scan", "")
	}

	var lastErr error
	for _, client := range clients {
		err := fn(client)
		if err == nil {
			return nil
		}
		if !utils.IsCode(err, utils.ErrCodeProviderTimeout) && !utils.IsCode(err, utils.ErrCodeProviderError) {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"provider": client.URL(),
			"error":    err.Error(),
		}).Warn("Provider failed, trying next")
		lastErr = err
	}
	return lastErr
}

// cursorDiverged reports whether the chain no longer agrees with the
// stored cursor hash
func (s *Scanner) cursorDiverged(ctx context.Context, cursor *models.ChainCursor) (bool, error) {
	var remote *provider.RawBlock
	err := s.withFailover(ctx, func(client *provider.Client) error {
		b, err := client.BlockByNumber(ctx, cursor.BlockNumber)
		if err != nil {
			return err
		}
		remote = b
		return nil
	})
	if err != nil {
		return false, err
	}
	if remote == nil {
		// Provider is behind our cursor, nothing to compare yet
		return false, nil
	}
	return remote.Hash.Hex() != cursor.BlockHash, nil
}

// reconcile walks back from the cursor to the newest block where the stored
// hash still matches the chain, then atomically deletes everything above it,
// rewinds the cursor and marks the affected minute buckets dirty. The
// walk-back is bounded; exceeding the bound stalls the scanner without
// writing anything.
func (s *Scanner) reconcile(ctx context.Context, cursor *models.ChainCursor) (*models.ChainCursor, error) {
	s.logger.WithField("cursor_block", cursor.BlockNumber).Warn("Reorg detected, walking back")

	ancestor := cursor.BlockNumber
	depth := 0
	var ancestorHash string

	for {
		if depth >= s.cfg.Scanner.MaxReorgDepth {
			return nil, utils.NewAppError(utils.ErrCodeReorgDepthExceeded,
				"Reorg deeper than the configured bound",
				"no common ancestor within the walk-back window")
		}

		local, err := s.storage.GetBlock(ctx, ancestor)
		if err != nil {
			return nil, err
		}
		if local == nil {
			return nil, utils.NewAppError(utils.ErrCodeReorgDepthExceeded,
				"Reorg reaches below retained history", "")
		}

		var remote *provider.RawBlock
		err = s.withFailover(ctx, func(client *provider.Client) error {
			b, err := client.BlockByNumber(ctx, ancestor)
			if err != nil {
				return err
			}
			remote = b
			return nil
		})
		if err != nil {
			return nil, err
		}
		if remote != nil && remote.Hash.Hex() == local.Hash {
			ancestorHash = local.Hash
			break
		}

		if ancestor == 0 {
			return nil, utils.NewAppError(utils.ErrCodeReorgDepthExceeded,
				"Reorg reaches genesis", "")
		}
		ancestor--
		depth++
	}

	blockTimes, err := s.storage.GetBlockTimesAbove(ctx, ancestor)
	if err != nil {
		return nil, err
	}
	dirty := minuteBuckets(blockTimes)

	newCursor := &models.ChainCursor{
		Pipeline:    storage.CursorScanner,
		BlockNumber: ancestor,
		BlockHash:   ancestorHash,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.storage.RewindAbove(ctx, ancestor, newCursor, dirty); err != nil {
		return nil, err
	}

	s.metrics.ReorgsDetected.Inc()
	s.metrics.ReorgDepth.Observe(float64(cursor.BlockNumber - ancestor))
	s.logger.WithFields(logrus.Fields{
		"ancestor":      ancestor,
		"depth":         cursor.BlockNumber - ancestor,
		"dirty_buckets": len(dirty),
	}).Info("Rewound to common ancestor")

	return newCursor, nil
}

// catchUp ingests up to the configured batch of blocks above the cursor
func (s *Scanner) catchUp(ctx context.Context, cursor *models.ChainCursor, head uint64) error {
	var from uint64
	prevHash := ""
	if cursor != nil {
		from = cursor.BlockNumber + 1
		prevHash = cursor.BlockHash
	} else {
		from = s.cfg.Scanner.StartBlock
	}
	if from > head {
		return nil
	}

	to := from + uint64(s.cfg.Scanner.BatchSize) - 1
	if to > head {
		to = head
	}

	contracts, err := s.watchedContracts(ctx)
	if err != nil {
		return err
	}

	traceBudget := s.cfg.Scanner.MaxTracesPerTick

	for number := from; number <= to; number++ {
		var raw *provider.RawBlock
		var txs []*models.Transaction
		var traces []*models.TxTrace

		err := s.withFailover(ctx, func(client *provider.Client) error {
			b, err := client.BlockByNumber(ctx, number)
			if err != nil {
				return err
			}
			if b == nil {
				return nil
			}
			t, tr, err := s.assembleBlock(ctx, client, b, contracts, &traceBudget)
			if err != nil {
				return err
			}
			raw, txs, traces = b, t, tr
			return nil
		})
		if err != nil {
			return err
		}
		if raw == nil {
			// Providers are behind the reported head, try again next tick
			return nil
		}

		// Continuity check against the previous ingested block
		if prevHash != "" && raw.ParentHash.Hex() != prevHash {
			s.logger.WithField("block", number).Warn("Parent hash mismatch mid-batch")
			stored, err := s.storage.GetCursor(ctx, storage.CursorScanner)
			if err != nil {
				return err
			}
			if stored == nil {
				return utils.NewAppError(utils.ErrCodeInternal,
					"Parent mismatch with no stored cursor", "")
			}
			_, err = s.reconcile(ctx, stored)
			return err
		}

		block := &models.Block{
			Number:     uint64(raw.Number),
			Hash:       raw.Hash.Hex(),
			ParentHash: raw.ParentHash.Hex(),
			Timestamp:  time.Unix(int64(raw.Timestamp), 0).UTC(),
			TxCount:    len(raw.Transactions),
		}
		newCursor := &models.ChainCursor{
			Pipeline:    storage.CursorScanner,
			BlockNumber: block.Number,
			BlockHash:   block.Hash,
			UpdatedAt:   time.Now().UTC(),
		}

		if err := s.storage.IngestBlock(ctx, block, txs, traces, newCursor); err != nil {
			return err
		}

		s.metrics.BlocksIngested.Inc()
		s.metrics.TxsIngested.Add(float64(len(txs)))
		s.metrics.ScannerLag.Set(float64(head - block.Number))
		s.logger.WithFields(logrus.Fields{
			"block":  block.Number,
			"txs":    len(txs),
			"traces": len(traces),
		}).Debug("Block ingested")

		prevHash = block.Hash
	}
	return nil
}

// assembleBlock builds transaction rows and traces for one raw block using
// a single client so receipts match the block payload
func (s *Scanner) assembleBlock(ctx context.Context, client *provider.Client, raw *provider.RawBlock, contracts map[string]int64, traceBudget *int) ([]*models.Transaction, []*models.TxTrace, error) {
	blockTime := time.Unix(int64(raw.Timestamp), 0).UTC()
	now := time.Now().UTC()

	var txs []*models.Transaction
	var traces []*models.TxTrace

	for i := range raw.Transactions {
		rawTx := &raw.Transactions[i]

		receipt, err := client.TransactionReceipt(ctx, rawTx.Hash)
		if err != nil {
			return nil, nil, err
		}

		tx := &models.Transaction{
			Hash:        rawTx.Hash.Hex(),
			BlockNumber: uint64(raw.Number),
			BlockHash:   raw.Hash.Hex(),
			BlockTime:   blockTime,
			From:        strings.ToLower(rawTx.From.Hex()),
			ValueWei:    "0",
			GasUsed:     uint64(receipt.GasUsed),
			Status:      int(receipt.Status),
			MethodID:    MethodID(rawTx.Input),
			IngestedAt:  now,
		}
		if rawTx.To != nil {
			to := strings.ToLower(rawTx.To.Hex())
			tx.To = &to
			if contractID, ok := contracts[to]; ok {
				tx.ContractID = &contractID
			}
		}
		if rawTx.Value != nil {
			tx.ValueWei = rawTx.Value.ToInt().String()
		}
		if receipt.EffectiveGasPrice != nil {
			tx.GasPrice = receipt.EffectiveGasPrice.ToInt().Uint64()
		} else if rawTx.GasPrice != nil {
			tx.GasPrice = rawTx.GasPrice.ToInt().Uint64()
		}

		if tx.Status == models.TxStatusFailed {
			revertData, err := client.RevertData(ctx, rawTx, uint64(raw.Number))
			if err == nil && revertData != "" {
				tx.ErrorRaw = &revertData
				tx.ErrorSignature, tx.ErrorDecoded = DecodeRevert(revertData)
			}
		}

		if s.wantTrace(tx) && *traceBudget > 0 {
			trace := s.captureTrace(ctx, rawTx.Hash)
			if trace != nil {
				trace.CapturedAt = now
				traces = append(traces, trace)
				tx.HasTrace = true
				*traceBudget--
			}
		}

		txs = append(txs, tx)
	}
	return txs, traces, nil
}

// wantTrace decides whether a transaction is worth tracing
func (s *Scanner) wantTrace(tx *models.Transaction) bool {
	if s.cfg.Scanner.TraceFailedOnly {
		return tx.Status == models.TxStatusFailed
	}
	return true
}

// captureTrace fetches an execution trace from a trace-capable provider.
// Traces are best effort; a failure returns nil without surfacing an error.
func (s *Scanner) captureTrace(ctx context.Context, hash common.Hash) *models.TxTrace {
	ranked := s.providers.Ranked(models.CapabilityTrace)
	for _, client := range ranked {
		payload, err := client.TraceTransaction(ctx, hash)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"tx":    hash.Hex(),
				"error": err.Error(),
			}).Debug("Trace capture failed")
			continue
		}
		return &models.TxTrace{TxHash: hash.Hex(), Payload: payload}
	}
	return nil
}

// watchedContracts loads the address to contract ID lookup
func (s *Scanner) watchedContracts(ctx context.Context) (map[string]int64, error) {
	list, err := s.storage.GetWatchedContracts(ctx)
	if err != nil {
		return nil, err
	}
	contracts := make(map[string]int64, len(list))
	for _, c := range list {
		contracts[strings.ToLower(c.Address)] = c.ID
	}
	return contracts, nil
}

// minuteBuckets deduplicates timestamps into their minute buckets
func minuteBuckets(times []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(times))
	var buckets []time.Time
	for _, t := range times {
		bucket := models.MinuteBucket(t)
		if _, ok := seen[bucket]; ok {
			continue
		}
		seen[bucket] = struct{}{}
		buckets = append(buckets, bucket)
	}
	return buckets
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
