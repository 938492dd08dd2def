package senseair

import "math"

// The helpers below never fail: a missing or wrong-typed field is reported as
// absent so a partially valid body still yields a snapshot.

func getRecord(x any, key string) map[string]any {
	m, ok := x.(map[string]any)
	if !ok {
		return nil
	}
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}

func getNumber(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	f, ok := m[key].(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func getString(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

// reading is what a sensor payload contributes to a snapshot.
type reading struct {
	co2ppm    *float64
	ageMs     *float64
	lastError *string
}

// extractReading pulls {"sensor": {"co2ppm", "ageMs", "lastError"}} out of a
// decoded body.
func extractReading(body any) reading {
	var r reading
	sensor := getRecord(body, "sensor")
	if sensor == nil {
		return r
	}
	if v, ok := getNumber(sensor, "co2ppm"); ok {
		r.co2ppm = &v
	}
	if v, ok := getNumber(sensor, "ageMs"); ok {
		r.ageMs = &v
	}
	if v, ok := getString(sensor, "lastError"); ok {
		r.lastError = &v
	}
	return r
}
