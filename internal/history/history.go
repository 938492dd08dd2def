// Package history stores per-(device, metric) time series and answers
// fixed-bucket aggregation queries over them.
//
// Two backends implement History: Memory keeps a bounded buffer per series in
// process memory, SQLite appends every point to a durable table and pushes
// bucketing down into SQL. Both produce identical query results.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HerbHall/accumulator/pkg/models"
)

// Agg selects how the members of a bucket are combined.
type Agg string

const (
	AggAvg Agg = "avg"
	AggMin Agg = "min"
	AggMax Agg = "max"
)

var (
	// ErrInvalidAgg is returned for an aggregation outside avg/min/max.
	ErrInvalidAgg = errors.New("invalid aggregation")
	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("unknown history backend")
)

// ParseAgg converts s (case-insensitive) into an Agg.
func ParseAgg(s string) (Agg, error) {
	a := Agg(strings.ToLower(strings.TrimSpace(s)))
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Validate reports ErrInvalidAgg for unsupported values.
func (a Agg) Validate() error {
	switch a {
	case AggAvg, AggMin, AggMax:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAgg, string(a))
	}
}

// Query describes one aggregation request. ToMs is inclusive. Limit, when
// positive, keeps only the most recent Limit buckets.
type Query struct {
	DeviceID string
	Metric   string
	FromMs   int64
	ToMs     int64
	BucketMs int64
	Agg      Agg
	Limit    int
}

// History is the contract shared by all backends.
type History interface {
	Push(ctx context.Context, deviceID, metric string, p models.MetricPoint) error
	Prune(ctx context.Context, deviceID string) error
	Query(ctx context.Context, q Query) ([]models.MetricPoint, error)
	Close() error
}

// Retainer is implemented by backends that support a time-based retention
// horizon.
type Retainer interface {
	DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error)
}

// BucketStart returns floor(ts/bucket)*bucket, flooring toward negative
// infinity for negative timestamps.
func BucketStart(tsMs, bucketMs int64) int64 {
	q := tsMs / bucketMs
	if tsMs%bucketMs != 0 && tsMs < 0 {
		q--
	}
	return q * bucketMs
}

// applyLimit trims ascending buckets to the most recent limit entries.
func applyLimit(points []models.MetricPoint, limit int) []models.MetricPoint {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	return points[len(points)-limit:]
}
