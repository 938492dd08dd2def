package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/accumulator/internal/testutil"
	"github.com/HerbHall/accumulator/pkg/models"
)

// Every backend must pass runContract unchanged.

func TestMemory_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) History {
		return NewMemory(1000)
	})
}

func TestSQLite_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) History {
		h, err := NewSQLite(context.Background(), testutil.NewStore(t))
		require.NoError(t, err)
		return h
	})
}

func pushAll(t *testing.T, h History, deviceID, metric string, pts ...models.MetricPoint) {
	t.Helper()
	for _, p := range pts {
		require.NoError(t, h.Push(context.Background(), deviceID, metric, p))
	}
}

func runContract(t *testing.T, newHistory func(t *testing.T) History) {
	ctx := context.Background()

	t.Run("avg aggregation per bucket", func(t *testing.T) {
		h := newHistory(t)
		base := int64(1_000_000)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: base + 1_000, Value: 400},
			models.MetricPoint{TsMs: base + 5_000, Value: 600},
			models.MetricPoint{TsMs: base + 12_000, Value: 700},
			models.MetricPoint{TsMs: base + 18_000, Value: 900},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: base, ToMs: base + 60_000,
			BucketMs: 10_000, Agg: AggAvg,
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, (base+1_000)/10_000*10_000, out[0].TsMs)
		assert.InDelta(t, 500, out[0].Value, 1e-9)
		assert.Equal(t, (base+12_000)/10_000*10_000, out[1].TsMs)
		assert.InDelta(t, 800, out[1].Value, 1e-9)
	})

	t.Run("min and max aggregation", func(t *testing.T) {
		h := newHistory(t)
		base := int64(2_000_000)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: base + 1_000, Value: 400},
			models.MetricPoint{TsMs: base + 2_000, Value: 1_000},
			models.MetricPoint{TsMs: base + 3_000, Value: 500},
		)

		q := Query{DeviceID: "D1", Metric: "co2ppm", FromMs: base, ToMs: base + 10_000, BucketMs: 10_000}

		q.Agg = AggMax
		out, err := h.Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 1_000.0, out[0].Value)

		q.Agg = AggMin
		out, err = h.Query(ctx, q)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 400.0, out[0].Value)
	})

	t.Run("two buckets with max", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: 1000, Value: 500},
			models.MetricPoint{TsMs: 2000, Value: 700},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 0, ToMs: 5000, BucketMs: 1000, Agg: AggMax,
		})
		require.NoError(t, err)
		assert.Equal(t, []models.MetricPoint{
			{TsMs: 1000, Value: 500},
			{TsMs: 2000, Value: 700},
		}, out)
	})

	t.Run("prune removes only the device", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "A", "co2ppm", models.MetricPoint{TsMs: 1, Value: 1})
		pushAll(t, h, "A", "temp", models.MetricPoint{TsMs: 1, Value: 20})
		pushAll(t, h, "B", "co2ppm", models.MetricPoint{TsMs: 1, Value: 2})

		require.NoError(t, h.Prune(ctx, "A"))

		for _, metric := range []string{"co2ppm", "temp"} {
			out, err := h.Query(ctx, Query{DeviceID: "A", Metric: metric, FromMs: 0, ToMs: 10, BucketMs: 1_000, Agg: AggAvg})
			require.NoError(t, err)
			assert.Empty(t, out, "metric %s of pruned device", metric)
		}
		out, err := h.Query(ctx, Query{DeviceID: "B", Metric: "co2ppm", FromMs: 0, ToMs: 10, BucketMs: 1_000, Agg: AggAvg})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("out of order input and sparse buckets", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: 35_500, Value: 9},
			models.MetricPoint{TsMs: 1_200, Value: 1},
			models.MetricPoint{TsMs: 30_100, Value: 3},
			models.MetricPoint{TsMs: 1_900, Value: 5},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 0, ToMs: 60_000, BucketMs: 1_000, Agg: AggAvg,
		})
		require.NoError(t, err)
		require.Equal(t, []models.MetricPoint{
			{TsMs: 1_000, Value: 3},
			{TsMs: 30_000, Value: 3},
			{TsMs: 35_000, Value: 9},
		}, out)
		for _, p := range out {
			assert.Zero(t, p.TsMs%1_000, "bucket %d not a multiple of bucketMs", p.TsMs)
		}
	})

	t.Run("range bounds are inclusive", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: 999, Value: 1},
			models.MetricPoint{TsMs: 1_000, Value: 2},
			models.MetricPoint{TsMs: 5_000, Value: 3},
			models.MetricPoint{TsMs: 5_001, Value: 4},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 1_000, ToMs: 5_000, BucketMs: 1_000, Agg: AggMax,
		})
		require.NoError(t, err)
		assert.Equal(t, []models.MetricPoint{
			{TsMs: 1_000, Value: 2},
			{TsMs: 5_000, Value: 3},
		}, out)
	})

	t.Run("duplicate timestamps are both kept", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: 1_000, Value: 100},
			models.MetricPoint{TsMs: 1_000, Value: 300},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 0, ToMs: 2_000, BucketMs: 1_000, Agg: AggAvg,
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.InDelta(t, 200, out[0].Value, 1e-9)
	})

	t.Run("non-positive bucket yields empty result", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm", models.MetricPoint{TsMs: 1_000, Value: 1})

		for _, bucket := range []int64{0, -1_000} {
			out, err := h.Query(ctx, Query{
				DeviceID: "D1", Metric: "co2ppm",
				FromMs: 0, ToMs: 2_000, BucketMs: bucket, Agg: AggAvg,
			})
			require.NoError(t, err)
			assert.Empty(t, out)
		}
	})

	t.Run("invalid aggregation is rejected", func(t *testing.T) {
		h := newHistory(t)
		_, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 0, ToMs: 2_000, BucketMs: 1_000, Agg: "median",
		})
		assert.ErrorIs(t, err, ErrInvalidAgg)
	})

	t.Run("limit keeps the most recent buckets", func(t *testing.T) {
		h := newHistory(t)
		for i := int64(0); i < 5; i++ {
			pushAll(t, h, "D1", "co2ppm", models.MetricPoint{TsMs: i * 1_000, Value: float64(i)})
		}

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: 0, ToMs: 10_000, BucketMs: 1_000, Agg: AggAvg, Limit: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, []models.MetricPoint{
			{TsMs: 3_000, Value: 3},
			{TsMs: 4_000, Value: 4},
		}, out)
	})

	t.Run("negative timestamps floor", func(t *testing.T) {
		h := newHistory(t)
		pushAll(t, h, "D1", "co2ppm",
			models.MetricPoint{TsMs: -1_500, Value: 10},
			models.MetricPoint{TsMs: -1_000, Value: 20},
		)

		out, err := h.Query(ctx, Query{
			DeviceID: "D1", Metric: "co2ppm",
			FromMs: -5_000, ToMs: 0, BucketMs: 1_000, Agg: AggMin,
		})
		require.NoError(t, err)
		assert.Equal(t, []models.MetricPoint{
			{TsMs: -2_000, Value: 10},
			{TsMs: -1_000, Value: 20},
		}, out)
	})

	t.Run("unknown series is empty", func(t *testing.T) {
		h := newHistory(t)
		out, err := h.Query(ctx, Query{
			DeviceID: "nobody", Metric: "co2ppm",
			FromMs: 0, ToMs: 2_000, BucketMs: 1_000, Agg: AggAvg,
		})
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
