package models

import (
	"maps"
	"math"
	"sort"
)

// Metrics maps a metric name to its value. Values are float64, string, bool
// or nil.
type Metrics map[string]any

// NamedValue is a numeric metric extracted from a snapshot.
type NamedValue struct {
	Name  string
	Value float64
}

// Numeric returns the finite float64 metrics sorted by name.
func (m Metrics) Numeric() []NamedValue {
	out := make([]NamedValue, 0, len(m))
	for name, v := range m {
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		out = append(out, NamedValue{Name: name, Value: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SensorSnapshot is the outcome of one poll attempt. It is never modified
// after construction.
type SensorSnapshot struct {
	TsMs      int64    `json:"tsMs"`
	OK        bool     `json:"ok"`
	Metrics   Metrics  `json:"metrics"`
	AgeMs     *float64 `json:"ageMs,omitempty"`
	LastError *string  `json:"lastError,omitempty"`
	Raw       any      `json:"raw,omitempty"`
}

// Clone returns a copy that shares no maps or pointers with s. Raw is
// decoded device output and is carried by reference.
func (s SensorSnapshot) Clone() SensorSnapshot {
	out := s
	if s.Metrics != nil {
		out.Metrics = maps.Clone(s.Metrics)
	}
	if s.AgeMs != nil {
		age := *s.AgeMs
		out.AgeMs = &age
	}
	if s.LastError != nil {
		msg := *s.LastError
		out.LastError = &msg
	}
	return out
}

// FailedSnapshot builds an ok:false snapshot carrying the given error text.
func FailedSnapshot(tsMs int64, lastError string) SensorSnapshot {
	return SensorSnapshot{
		TsMs:      tsMs,
		OK:        false,
		Metrics:   Metrics{},
		LastError: &lastError,
	}
}

// MetricPoint is a single reading of one series.
type MetricPoint struct {
	TsMs  int64   `json:"tsMs"`
	Value float64 `json:"value"`
}
