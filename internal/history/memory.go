package history

import (
	"context"
	"sync"

	"github.com/HerbHall/accumulator/pkg/models"
)

// DefaultMaxPointsPerSeries bounds each in-memory series when no limit is set.
const DefaultMaxPointsPerSeries = 10_000

// Compile-time interface guard.
var _ History = (*Memory)(nil)

type seriesKey struct {
	deviceID string
	metric   string
}

// series is a fixed-capacity ring holding the most recent points.
type series struct {
	buf  []models.MetricPoint
	head int // index of the oldest point once the ring is full
	full bool
}

func newSeries(capacity int) *series {
	return &series{buf: make([]models.MetricPoint, 0, capacity)}
}

func (s *series) push(p models.MetricPoint) {
	if !s.full {
		s.buf = append(s.buf, p)
		if len(s.buf) == cap(s.buf) {
			s.full = true
		}
		return
	}
	s.buf[s.head] = p
	s.head = (s.head + 1) % len(s.buf)
}

// points returns the series oldest first.
func (s *series) points() []models.MetricPoint {
	out := make([]models.MetricPoint, 0, len(s.buf))
	out = append(out, s.buf[s.head:]...)
	out = append(out, s.buf[:s.head]...)
	return out
}

// Memory is the volatile backend. Nothing survives a restart.
type Memory struct {
	mu        sync.RWMutex
	maxPoints int
	series    map[seriesKey]*series
}

// NewMemory returns a Memory backend retaining at most maxPoints points per
// series. Non-positive values fall back to DefaultMaxPointsPerSeries.
func NewMemory(maxPoints int) *Memory {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPointsPerSeries
	}
	return &Memory{
		maxPoints: maxPoints,
		series:    make(map[seriesKey]*series),
	}
}

// Push appends p, evicting the oldest point once the series is full.
func (m *Memory) Push(_ context.Context, deviceID, metric string, p models.MetricPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := seriesKey{deviceID: deviceID, metric: metric}
	s := m.series[k]
	if s == nil {
		s = newSeries(m.maxPoints)
		m.series[k] = s
	}
	s.push(p)
	return nil
}

// Prune drops every series of deviceID.
func (m *Memory) Prune(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.series {
		if k.deviceID == deviceID {
			delete(m.series, k)
		}
	}
	return nil
}

// Query aggregates the stored points of one series.
func (m *Memory) Query(_ context.Context, q Query) ([]models.MetricPoint, error) {
	if err := q.Agg.Validate(); err != nil {
		return nil, err
	}
	if q.BucketMs <= 0 {
		return []models.MetricPoint{}, nil
	}

	m.mu.RLock()
	s := m.series[seriesKey{deviceID: q.DeviceID, metric: q.Metric}]
	var pts []models.MetricPoint
	if s != nil {
		pts = s.points()
	}
	m.mu.RUnlock()

	return aggregate(pts, q), nil
}

// Points returns a copy of one series, oldest first.
func (m *Memory) Points(deviceID, metric string) []models.MetricPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.series[seriesKey{deviceID: deviceID, metric: metric}]
	if s == nil {
		return nil
	}
	return s.points()
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
