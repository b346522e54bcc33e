// File: internal/rollup/rollup_test.go
package rollup

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		Rollup: config.RollupConfig{
			TopErrorCount:  5,
			MaxBucketsBack: 120,
		},
	}
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func bucketTx(hash, from string, blockNumber uint64, blockTime time.Time, status int, gasUsed, gasPrice uint64, errSig, errName *string) *models.Transaction {
	return &models.Transaction{
		Hash:           hash,
		BlockNumber:    blockNumber,
		BlockHash:      "0xb",
		BlockTime:      blockTime,
		From:           from,
		ValueWei:       "0",
		GasUsed:        gasUsed,
		GasPrice:       gasPrice,
		Status:         status,
		ErrorSignature: errSig,
		ErrorDecoded:   errName,
		IngestedAt:     blockTime,
	}
}

func strptr(s string) *string { return &s }

func TestAggregateFailureRateAndPercentiles(t *testing.T) {
	bucket := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var txs []*models.Transaction
	for i := 0; i < 10; i++ {
		status := models.TxStatusSuccess
		var sig, name *string
		if i < 3 {
			status = models.TxStatusFailed
			sig = strptr("0x08c379a0")
			name = strptr("insufficient balance")
		}
		txs = append(txs, bucketTx(
			"0xt"+string(rune('0'+i)),
			"0xsender"+string(rune('0'+i%4)),
			uint64(100+i/5),
			bucket.Add(time.Duration(i)*time.Second),
			status,
			uint64((i+1)*1000),
			100,
			sig, name))
	}

	metric := Aggregate(bucket, txs, 5)

	assert.Equal(t, int64(10), metric.TxCount)
	assert.Equal(t, int64(3), metric.FailCount)
	assert.True(t, metric.FailureRate.Equal(decimal.RequireFromString("0.3")),
		"failure rate was %s", metric.FailureRate)

	// Nearest-rank over 1000..10000
	assert.Equal(t, uint64(5000), metric.GasP50)
	assert.Equal(t, uint64(10000), metric.GasP95)
	assert.Equal(t, uint64(55000), metric.GasUsedTotal)
	assert.Equal(t, uint64(100), metric.GasPriceAvg)

	assert.Equal(t, int64(2), metric.BlockCount)
	assert.Equal(t, int64(4), metric.UniqueSenders)

	require.Len(t, metric.TopErrors, 1)
	assert.Equal(t, "0x08c379a0", metric.TopErrors[0].Signature)
	assert.Equal(t, "insufficient balance", metric.TopErrors[0].Name)
	assert.Equal(t, int64(3), metric.TopErrors[0].Count)
}

func TestAggregateEmptyBucket(t *testing.T) {
	bucket := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	metric := Aggregate(bucket, nil, 5)

	assert.Zero(t, metric.TxCount)
	assert.True(t, metric.FailureRate.IsZero())
	assert.Empty(t, metric.TopErrors)
}

func TestAggregateTopErrorsRankedAndBounded(t *testing.T) {
	bucket := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var txs []*models.Transaction
	sigs := []string{"0xaaaaaaaa", "0xbbbbbbbb", "0xcccccccc"}
	counts := []int{1, 3, 2}
	n := 0
	for i, sig := range sigs {
		for j := 0; j < counts[i]; j++ {
			txs = append(txs, bucketTx(
				"0xt"+string(rune('0'+n)), "0xsender", 100,
				bucket.Add(time.Duration(n)*time.Second),
				models.TxStatusFailed, 21000, 100,
				strptr(sig), nil))
			n++
		}
	}

	metric := Aggregate(bucket, txs, 2)
	require.Len(t, metric.TopErrors, 2)
	assert.Equal(t, "0xbbbbbbbb", metric.TopErrors[0].Signature)
	assert.Equal(t, int64(3), metric.TopErrors[0].Count)
	assert.Equal(t, "0xcccccccc", metric.TopErrors[1].Signature)
}

func TestPercentileNearestRank(t *testing.T) {
	values := []uint64{30, 10, 20}
	assert.Equal(t, uint64(20), percentile(values, 50))
	assert.Equal(t, uint64(30), percentile(values, 95))
	assert.Equal(t, uint64(10), percentile(values, 1))
	assert.Zero(t, percentile(nil, 50))

	single := []uint64{42}
	assert.Equal(t, uint64(42), percentile(single, 50))
	assert.Equal(t, uint64(42), percentile(single, 95))
}

func ingestMinute(t *testing.T, store storage.Storage, number uint64, bucket time.Time, fails, total int) {
	t.Helper()
	block := &models.Block{
		Number:     number,
		Hash:       "0xb" + string(rune('0'+number%10)),
		ParentHash: "0xp",
		Timestamp:  bucket.Add(10 * time.Second),
		TxCount:    total,
	}
	var txs []*models.Transaction
	for i := 0; i < total; i++ {
		status := models.TxStatusSuccess
		if i < fails {
			status = models.TxStatusFailed
		}
		txs = append(txs, bucketTx(
			block.Hash+"-t"+string(rune('0'+i)), "0xsender", number,
			block.Timestamp, status, 21000, 100, nil, nil))
	}
	cursor := &models.ChainCursor{
		Pipeline:    storage.CursorScanner,
		BlockNumber: number,
		BlockHash:   block.Hash,
		UpdatedAt:   block.Timestamp,
	}
	require.NoError(t, store.IngestBlock(context.Background(), block, txs, nil, cursor))
}

func TestRunAdvancesWatermark(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	m0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ingestMinute(t, store, 100, m0, 3, 10)
	ingestMinute(t, store, 101, m0.Add(time.Minute), 0, 5)
	ingestMinute(t, store, 102, m0.Add(2*time.Minute), 0, 2)

	r := NewRollup(testConfig(), store, metrics.NewManager())
	require.NoError(t, r.Run(ctx))

	// Completed buckets are aggregated
	stored, err := store.GetMetricMinute(ctx, m0)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(10), stored.TxCount)
	assert.True(t, stored.FailureRate.Equal(decimal.RequireFromString("0.3")))

	// The newest, still-filling bucket is refreshed too
	newest, err := store.GetMetricMinute(ctx, m0.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, newest)
	assert.Equal(t, int64(2), newest.TxCount)

	// Watermark lands on the newest bucket
	raw, err := store.GetState(ctx, storage.StateRollup)
	require.NoError(t, err)
	var state struct {
		BucketStart int64 `json:"bucket_start"`
	}
	require.NoError(t, json.Unmarshal(raw, &state))
	assert.Equal(t, m0.Add(2*time.Minute).Unix(), state.BucketStart)

	// Re-running over unchanged data is a no-op
	require.NoError(t, r.Run(ctx))
	again, err := store.GetMetricMinute(ctx, m0)
	require.NoError(t, err)
	assert.Equal(t, stored.TxCount, again.TxCount)
	assert.True(t, stored.FailureRate.Equal(again.FailureRate))
}

func TestRunRecomputesDirtyBuckets(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	m0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ingestMinute(t, store, 100, m0, 3, 10)
	ingestMinute(t, store, 101, m0.Add(time.Minute), 0, 5)

	r := NewRollup(testConfig(), store, metrics.NewManager())
	require.NoError(t, r.Run(ctx))

	// Rewind the newer block away and mark its bucket dirty, as the
	// scanner does after a reorg
	cursor := &models.ChainCursor{
		Pipeline:    storage.CursorScanner,
		BlockNumber: 100,
		BlockHash:   "0xb0",
		UpdatedAt:   m0,
	}
	require.NoError(t, store.RewindAbove(ctx, 100, cursor, []time.Time{m0.Add(time.Minute)}))

	require.NoError(t, r.Run(ctx))

	recomputed, err := store.GetMetricMinute(ctx, m0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, recomputed)
	assert.Zero(t, recomputed.TxCount)

	dirty, err := store.GetDirtyBuckets(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}
