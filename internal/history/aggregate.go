package history

import (
	"sort"

	"github.com/HerbHall/accumulator/pkg/models"
)

type bucketAcc struct {
	sum   float64
	count int
	min   float64
	max   float64
}

func (b *bucketAcc) add(v float64) {
	if b.count == 0 || v < b.min {
		b.min = v
	}
	if b.count == 0 || v > b.max {
		b.max = v
	}
	b.sum += v
	b.count++
}

func (b *bucketAcc) value(agg Agg) float64 {
	switch agg {
	case AggMin:
		return b.min
	case AggMax:
		return b.max
	default:
		return b.sum / float64(b.count)
	}
}

// aggregate buckets points in [from, to] and returns one point per non-empty
// bucket in ascending order. Input order does not matter.
func aggregate(points []models.MetricPoint, q Query) []models.MetricPoint {
	buckets := make(map[int64]*bucketAcc)
	for _, p := range points {
		if p.TsMs < q.FromMs || p.TsMs > q.ToMs {
			continue
		}
		start := BucketStart(p.TsMs, q.BucketMs)
		acc := buckets[start]
		if acc == nil {
			acc = &bucketAcc{}
			buckets[start] = acc
		}
		acc.add(p.Value)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]models.MetricPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.MetricPoint{TsMs: k, Value: buckets[k].value(q.Agg)})
	}
	return applyLimit(out, q.Limit)
}
