// File: internal/rollup/rollup.go
package rollup

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Rollup aggregates ingested transactions into per-minute buckets. Each tick
// it recomputes three sets: buckets the scanner marked dirty after a reorg
// rewind, buckets between the persisted watermark and the scanner's newest
// block time, and the bucket currently filling. Recomputation fully replaces
// the stored row, so running it twice over the same data is a no-op.
type Rollup struct {
	cfg     *config.Config
	storage storage.Storage
	metrics *metrics.Manager
	logger  *logrus.Entry
}

// NewRollup creates the metric rollup pipeline
func NewRollup(cfg *config.Config, store storage.Storage, metricsManager *metrics.Manager) *Rollup {
	return &Rollup{
		cfg:     cfg,
		storage: store,
		metrics: metricsManager,
		logger:  utils.ComponentLogger("rollup"),
	}
}

// Name returns the pipeline name
func (r *Rollup) Name() string {
	return "rollup"
}

// Run executes one rollup tick
func (r *Rollup) Run(ctx context.Context) error {
	// Reorg-invalidated buckets first, oldest first
	dirty, err := r.storage.GetDirtyBuckets(ctx, r.cfg.Rollup.MaxBucketsBack)
	if err != nil {
		return err
	}
	for _, bucket := range dirty {
		if err := r.ComputeBucket(ctx, bucket); err != nil {
			return err
		}
		if err := r.storage.ClearDirtyBucket(ctx, bucket); err != nil {
			return err
		}
	}

	return r.advanceWatermark(ctx)
}

// watermarkState is the persisted rollup progress marker
type watermarkState struct {
	BucketStart int64 `json:"bucket_start"`
}

// advanceWatermark computes every bucket from the watermark up to the
// scanner's progress, then refreshes the still-filling newest bucket. The
// watermark only covers buckets strictly older than the scanner's newest
// block time, since those can no longer gain transactions outside a reorg.
func (r *Rollup) advanceWatermark(ctx context.Context) error {
	cursor, err := r.storage.GetCursor(ctx, storage.CursorScanner)
	if err != nil {
		return err
	}
	if cursor == nil {
		return nil
	}

	newest, err := r.storage.GetBlock(ctx, cursor.BlockNumber)
	if err != nil {
		return err
	}
	if newest == nil {
		return nil
	}
	newestBucket := models.MinuteBucket(newest.Timestamp)

	watermark, err := r.loadWatermark(ctx)
	if err != nil {
		return err
	}
	if watermark.IsZero() {
		// First run, start from the oldest ingested block
		earliest, err := r.storage.GetEarliestBlockTime(ctx)
		if err != nil {
			return err
		}
		if earliest == nil {
			return nil
		}
		watermark = models.MinuteBucket(*earliest)
	}

	computed := 0
	for bucket := watermark; bucket.Before(newestBucket); bucket = bucket.Add(time.Minute) {
		if computed >= r.cfg.Rollup.MaxBucketsBack {
			break
		}
		if err := r.ComputeBucket(ctx, bucket); err != nil {
			return err
		}
		watermark = bucket.Add(time.Minute)
		computed++
	}

	if err := r.saveWatermark(ctx, watermark); err != nil {
		return err
	}

	// The newest bucket is still filling, refresh it without finalizing
	return r.ComputeBucket(ctx, newestBucket)
}

func (r *Rollup) loadWatermark(ctx context.Context) (time.Time, error) {
	raw, err := r.storage.GetState(ctx, storage.StateRollup)
	if err != nil {
		return time.Time{}, err
	}
	if raw == nil {
		return time.Time{}, nil
	}
	var state watermarkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return time.Time{}, utils.NewAppError(utils.ErrCodeInternal,
			"Malformed rollup watermark", err.Error())
	}
	return time.Unix(state.BucketStart, 0).UTC(), nil
}

func (r *Rollup) saveWatermark(ctx context.Context, watermark time.Time) error {
	raw, err := json.Marshal(watermarkState{BucketStart: watermark.UTC().Unix()})
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal,
			"Failed to marshal rollup watermark", err.Error())
	}
	return r.storage.SetState(ctx, storage.StateRollup, raw)
}

// ComputeBucket recomputes one minute bucket from its transactions and
// replaces the stored aggregate
func (r *Rollup) ComputeBucket(ctx context.Context, bucket time.Time) error {
	bucket = models.MinuteBucket(bucket)
	txs, err := r.storage.GetTransactionsInRange(ctx, bucket, bucket.Add(time.Minute))
	if err != nil {
		return err
	}

	metric := Aggregate(bucket, txs, r.cfg.Rollup.TopErrorCount)
	if err := r.storage.ReplaceMetricMinute(ctx, metric); err != nil {
		return err
	}

	r.metrics.BucketsComputed.Inc()
	r.logger.WithFields(logrus.Fields{
		"bucket": bucket.Format(time.RFC3339),
		"txs":    metric.TxCount,
	}).Debug("Bucket computed")
	return nil
}

// Aggregate derives the full minute aggregate from the bucket's transactions
func Aggregate(bucket time.Time, txs []*models.Transaction, topErrorCount int) *models.MetricMinute {
	metric := &models.MetricMinute{
		BucketStart: bucket,
		FailureRate: decimal.Zero,
		TopErrors:   []models.ErrorCount{},
		ComputedAt:  time.Now().UTC(),
	}
	if len(txs) == 0 {
		return metric
	}

	var gasUsed []uint64
	var gasPriceTotal uint64
	senders := make(map[string]struct{})
	blocks := make(map[uint64]struct{})
	errorCounts := make(map[string]*models.ErrorCount)

	for _, tx := range txs {
		metric.TxCount++
		metric.GasUsedTotal += tx.GasUsed
		gasUsed = append(gasUsed, tx.GasUsed)
		gasPriceTotal += tx.GasPrice
		senders[tx.From] = struct{}{}
		blocks[tx.BlockNumber] = struct{}{}

		if tx.Status == models.TxStatusFailed {
			metric.FailCount++
			if tx.ErrorSignature != nil {
				entry, ok := errorCounts[*tx.ErrorSignature]
				if !ok {
					entry = &models.ErrorCount{Signature: *tx.ErrorSignature}
					if tx.ErrorDecoded != nil {
						entry.Name = *tx.ErrorDecoded
					}
					errorCounts[*tx.ErrorSignature] = entry
				}
				entry.Count++
			}
		}
	}

	metric.FailureRate = decimal.NewFromInt(metric.FailCount).
		Div(decimal.NewFromInt(metric.TxCount))
	metric.GasP50 = percentile(gasUsed, 50)
	metric.GasP95 = percentile(gasUsed, 95)
	metric.GasPriceAvg = gasPriceTotal / uint64(metric.TxCount)
	metric.BlockCount = int64(len(blocks))
	metric.UniqueSenders = int64(len(senders))
	metric.TopErrors = topErrors(errorCounts, topErrorCount)

	return metric
}

// percentile returns the nearest-rank percentile of the values
func percentile(values []uint64, pct int) uint64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]uint64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// topErrors ranks error signatures by count, ties broken by signature
func topErrors(counts map[string]*models.ErrorCount, limit int) []models.ErrorCount {
	ranked := make([]models.ErrorCount, 0, len(counts))
	for _, entry := range counts {
		ranked = append(ranked, *entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Signature < ranked[j].Signature
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
